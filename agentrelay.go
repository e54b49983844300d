// Package agentrelay provides a high-level façade over the pipeline Engine
// and its collaborators (circuit breakers, metrics, evaluation, artifact
// storage and logging). Most applications interact with this package by:
//  1. Creating an AgentRelay via New() (optionally overriding defaults)
//  2. Building stages, either by hand or with stage.ResearchPipeline
//  3. Running them with RunPipeline and reading the returned Report
//
// The façade delegates orchestration to engine.Engine while keeping setup
// concise. All defaults are safe for local development and testing;
// production deployments typically supply a durable artifact store, a model
// evaluator and a structured logger.
package agentrelay

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentrelay/artifact"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/engine"
	"github.com/hupe1980/agentrelay/evaluation"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/model"
	"github.com/hupe1980/agentrelay/resilience"
	"github.com/hupe1980/agentrelay/stage"
)

// Options configures the AgentRelay instance.
type Options struct {
	// EngineConfig holds concurrency, timeout and call budget limits.
	EngineConfig engine.Config

	// Breaker is the configuration of every stage circuit.
	Breaker resilience.BreakerConfig

	// Retry is applied to every stage call and to evaluation.
	Retry resilience.RetryPolicy

	// Evaluator scores final artifacts. Defaults to the offline markdown
	// scorer; set to nil to disable evaluation.
	Evaluator evaluation.Evaluator

	// ArtifactStore persists reports and final artifacts (defaults to an
	// in-memory store).
	ArtifactStore core.ArtifactStore

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// AgentRelay is the high-level façade aggregating the engine and its services.
type AgentRelay struct {
	opts   Options
	engine *engine.Engine
}

// New creates a new AgentRelay instance with optional overrides.
func New(optFns ...func(o *Options)) *AgentRelay {
	opts := Options{
		EngineConfig:  engine.DefaultConfig,
		Breaker:       resilience.DefaultBreakerConfig(),
		Retry:         resilience.DefaultRetryPolicy(),
		Evaluator:     evaluation.NewMarkdownEvaluator(),
		ArtifactStore: artifact.NewInMemoryStore(),
		Logger:        logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	var harness *evaluation.Harness
	if opts.Evaluator != nil {
		harness = evaluation.NewHarness(opts.Evaluator, func(o *evaluation.HarnessOptions) {
			o.Retry = opts.Retry
			o.Logger = opts.Logger
		})
	}

	e := engine.New(func(o *engine.Options) {
		o.Config = opts.EngineConfig
		o.Breakers = resilience.NewRegistry(opts.Breaker)
		o.Retry = opts.Retry
		o.Evaluator = harness
		o.ArtifactStore = opts.ArtifactStore
		o.Logger = opts.Logger
	})

	return &AgentRelay{opts: opts, engine: e}
}

// Engine returns the underlying engine.
func (r *AgentRelay) Engine() *engine.Engine { return r.engine }

// Artifacts returns the store that receives run outputs.
func (r *AgentRelay) Artifacts() core.ArtifactStore { return r.opts.ArtifactStore }

// RecentRuns returns the IDs of persisted runs, newest first. limit <= 0
// returns all of them. The artifact store must be able to list its runs.
func (r *AgentRelay) RecentRuns(limit int) ([]string, error) {
	lister, ok := r.opts.ArtifactStore.(interface {
		Runs(limit int) ([]string, error)
	})
	if !ok {
		return nil, fmt.Errorf("artifact store %T cannot list runs", r.opts.ArtifactStore)
	}
	return lister.Runs(limit)
}

// RunPipeline runs stages against task. See engine.Engine.Run.
func (r *AgentRelay) RunPipeline(ctx context.Context, stages []core.StageSpec, task string) (*engine.Report, error) {
	return r.engine.RunPipeline(ctx, stages, task)
}

// RunResearch runs the six-stage research pipeline backed by m and s.
func (r *AgentRelay) RunResearch(ctx context.Context, m model.Model, s stage.Searcher, task string) (*engine.Report, error) {
	return r.engine.RunPipeline(ctx, stage.ResearchPipeline(m, s), task)
}

// Cancel stops an active run. It reports whether the run was found.
func (r *AgentRelay) Cancel(runID string) bool { return r.engine.Cancel(runID) }
