package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"

	"github.com/hupe1980/agentrelay/config"
	"github.com/hupe1980/agentrelay/engine"
	"github.com/hupe1980/agentrelay/model"
	"github.com/hupe1980/agentrelay/model/anthropic"
	"github.com/hupe1980/agentrelay/model/openai"
	"github.com/hupe1980/agentrelay/resilience"
	"github.com/hupe1980/agentrelay/stage"
)

type runFlags struct {
	configPath string
	task       string
	runID      string
	provider   string
	modelName  string
	sources    string
	timeout    time.Duration
	output     string
}

func newRunCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a pipeline for one task",
		Long: `Run executes the configured pipeline (or the built-in research pipeline)
for a task, prints a summary and persists the report and final artifact.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runPipeline(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), g, f)
		},
	}
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Pipeline definition (YAML); defaults to the research pipeline")
	cmd.Flags().StringVarP(&f.task, "task", "t", "", "Task to run")
	cmd.Flags().StringVar(&f.runID, "run-id", "", "Run identifier (generated when empty)")
	cmd.Flags().StringVarP(&f.provider, "provider", "p", "mock", "Model provider (openai, anthropic, mock)")
	cmd.Flags().StringVarP(&f.modelName, "model", "m", "", "Provider model name")
	cmd.Flags().StringVar(&f.sources, "sources", "", "JSON file of search documents served to search stages")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "Run timeout, overrides the config")
	cmd.Flags().StringVarP(&f.output, "output", "o", "text", "Output format (text or json)")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}

func runPipeline(ctx context.Context, stdout, stderr io.Writer, g *globalFlags, f *runFlags) error {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return err
		}
	}
	if f.timeout > 0 {
		cfg.Engine.RunTimeout = config.Duration(f.timeout)
	}

	logger := g.logger(stderr)

	m, err := newModel(f.provider, f.modelName)
	if err != nil {
		return err
	}
	searcher, err := loadSearcher(f.sources)
	if err != nil {
		return err
	}

	stages, err := cfg.BuildStages(m, searcher)
	if err != nil {
		return err
	}
	harness, err := cfg.Evaluator(m, logger.WithComponent("evaluator"))
	if err != nil {
		return err
	}

	store, err := g.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	circuits := logger.WithComponent("breaker")
	e := engine.New(func(o *engine.Options) {
		o.Config = cfg.EngineConfig()
		o.Breakers = cfg.Registry(func(name string, from, to resilience.State) {
			circuits.LogCircuitTransition(name, from.String(), to.String())
		})
		o.Retry = cfg.RetryPolicy()
		o.Evaluator = harness
		o.ArtifactStore = store
		o.Logger = logger.WithComponent("engine")
	})
	e.Hooks().Register(engine.LoggingHooks(logger)...)

	report, err := e.Run(ctx, engine.Request{RunID: f.runID, Task: f.task, Stages: stages})
	if err != nil {
		return err
	}
	return writeReport(stdout, report, f.output)
}

func newModel(provider, name string) (model.Model, error) {
	switch provider {
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			if name != "" {
				o.Model = name
			}
		}), nil
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			if name != "" {
				o.Model = anthropicsdk.Model(name)
			}
		}), nil
	case "mock":
		if name == "" {
			name = "mock"
		}
		return model.NewMockModel(name), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}

func loadSearcher(path string) (stage.Searcher, error) {
	s := &stage.StaticSearcher{}
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources: %w", err)
	}
	if err := json.Unmarshal(data, &s.Documents); err != nil {
		return nil, fmt.Errorf("parse sources: %w", err)
	}
	return s, nil
}

func writeReport(w io.Writer, report *engine.Report, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "text":
	default:
		return errors.New("output must be text or json")
	}

	fmt.Fprintf(w, "Run %s (%s)\n\n", report.RunID, report.Duration().Round(time.Millisecond))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tSTATUS\tATTEMPTS\tCALLS\tLATENCY\tCIRCUIT")
	for _, r := range report.Results {
		status := r.Status.String()
		if r.Cancelled {
			status += " (cancelled)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n", r.Stage, status, r.Attempts, report.Calls[r.Stage], r.Latency.Round(time.Millisecond), report.Circuits[r.Stage])
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	switch {
	case report.Evaluation != nil:
		fmt.Fprintf(w, "\nScore: %.2f (%s)\n", report.Evaluation.Score, report.Evaluation.Evaluator)
	case report.EvaluationError != "":
		fmt.Fprintf(w, "\nScore: n/a (%s)\n", report.EvaluationError)
	}

	if report.FinalArtifact == nil {
		fmt.Fprintln(w, "\nNo usable final artifact.")
		return nil
	}
	fmt.Fprintf(w, "\nFinal artifact from %q", report.FinalArtifact.Stage)
	if report.FinalArtifact.Payload.Degraded {
		fmt.Fprint(w, " (degraded)")
	}
	fmt.Fprintf(w, ":\n\n%s\n", report.FinalArtifact.Payload.Text)
	return nil
}
