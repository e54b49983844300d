package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/evaluation"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/metrics"
	"github.com/hupe1980/agentrelay/resilience"
)

// Names under which a run's outputs are persisted in the ArtifactStore.
const (
	ReportArtifact = "report.json"
	FinalArtifact  = "final.md"
)

// Config defines tuning parameters for the Engine's operational behavior.
//
// Example:
//
//	cfg := Config{
//	    MaxConcurrentRuns: 4,
//	    RunTimeout:        5 * time.Minute,
//	}
type Config struct {
	// MaxConcurrentRuns limits the number of runs executing simultaneously.
	// A run waiting for a slot whose context ends returns a cancelled
	// report. Set to 0 for unlimited.
	MaxConcurrentRuns int

	// RunTimeout bounds the wall time of a single run, evaluation included.
	// Stages still pending when it fires are reported as cancelled. Zero
	// means no limit beyond the caller's context.
	RunTimeout time.Duration

	// MaxCallsPerRun caps capability invocations per run, retries included.
	// Zero means unlimited.
	MaxCallsPerRun int
}

// DefaultConfig provides default configuration values.
var DefaultConfig = Config{
	MaxConcurrentRuns: 10,
}

// Options configures an Engine instance using the functional options pattern.
//
// Example:
//
//	e := engine.New(func(o *engine.Options) {
//	    o.Breakers = resilience.NewRegistry(resilience.DefaultBreakerConfig())
//	    o.Logger = logger
//	})
type Options struct {
	// Config contains operational parameters. Defaults to DefaultConfig.
	Config Config

	// Breakers holds the per-stage circuits. Share one registry between
	// engines that call the same capabilities.
	Breakers *resilience.Registry

	// Metrics receives one sample per attempted stage.
	Metrics *metrics.Collector

	// Retry is applied to every stage call.
	Retry resilience.RetryPolicy

	// Evaluator scores the final artifact. Nil disables evaluation.
	Evaluator *evaluation.Harness

	// ArtifactStore persists the report and final artifact of every run.
	// Nil disables persistence.
	ArtifactStore core.ArtifactStore

	// Hooks receives lifecycle callbacks.
	Hooks *HookManager

	// Logger defaults to NoOp.
	Logger logging.Logger

	// Now is the clock used for timestamps and latencies.
	Now func() time.Time
}

// Request describes one pipeline run.
type Request struct {
	// RunID identifies the run. Generated when empty.
	RunID string
	// Task is the original user request.
	Task string
	// Stages are executed in declared order.
	Stages []core.StageSpec
}

// Engine executes pipelines of stages over a shared set of circuit breakers
// and a shared metrics collector.
//
// Each run owns its workspace; nothing but the breakers, the metrics and the
// optional stores is shared between concurrent runs. The Engine is safe for
// concurrent use.
type Engine struct {
	config        Config
	breakers      *resilience.Registry
	metrics       *metrics.Collector
	retry         resilience.RetryPolicy
	evaluator     *evaluation.Harness
	artifactStore core.ArtifactStore
	hooks         *HookManager
	logger        logging.Logger
	now           func() time.Time

	sem *semaphore.Weighted

	// Active run tracking - protected by separate mutex
	activeRuns map[string]context.CancelFunc
	runsMu     sync.Mutex
}

// New creates a new Engine instance with sensible defaults and optional
// configuration.
//
// Defaults:
//   - Breakers: a registry using resilience.DefaultBreakerConfig
//   - Metrics: a fresh collector
//   - Retry: resilience.DefaultRetryPolicy
//   - Hooks: an empty manager
//   - Logger: no-op logger that discards all messages
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{
		Config: DefaultConfig,
		Retry:  resilience.DefaultRetryPolicy(),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Breakers == nil {
		opts.Breakers = resilience.NewRegistry(resilience.DefaultBreakerConfig())
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewCollector()
	}
	if opts.Hooks == nil {
		opts.Hooks = NewHookManager()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	e := &Engine{
		config:        opts.Config,
		breakers:      opts.Breakers,
		metrics:       opts.Metrics,
		retry:         opts.Retry,
		evaluator:     opts.Evaluator,
		artifactStore: opts.ArtifactStore,
		hooks:         opts.Hooks,
		logger:        opts.Logger,
		now:           opts.Now,
		activeRuns:    make(map[string]context.CancelFunc),
	}
	if opts.Config.MaxConcurrentRuns > 0 {
		e.sem = semaphore.NewWeighted(int64(opts.Config.MaxConcurrentRuns))
	}
	return e
}

// Breakers returns the circuit registry.
func (e *Engine) Breakers() *resilience.Registry { return e.breakers }

// Metrics returns the metrics collector.
func (e *Engine) Metrics() *metrics.Collector { return e.metrics }

// Hooks returns the hook manager.
func (e *Engine) Hooks() *HookManager { return e.hooks }

// RunPipeline executes stages against task under a generated run ID.
func (e *Engine) RunPipeline(ctx context.Context, stages []core.StageSpec, task string) (*Report, error) {
	return e.Run(ctx, Request{Task: task, Stages: stages})
}

// Run executes one pipeline.
//
// Stage failures never abort a run: a failed, short-circuited or skipped
// stage gets its fallback output and the run continues. The only error
// returned is a *core.ValidationError for an invalid pipeline definition (or
// a run ID that is already active), in which case no report is produced.
//
// Cancelling ctx, calling Cancel with the run ID or exceeding RunTimeout
// stops the run at the next stage boundary; the in-flight stage and every
// later stage are reported as skipped and cancelled.
func (e *Engine) Run(ctx context.Context, req Request) (*Report, error) {
	stages, err := Validate(req.Stages)
	if err != nil {
		return nil, err
	}

	runID := req.RunID
	if runID == "" {
		runID = core.NewID()
	}

	if e.sem != nil {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			e.logger.Warn("Run cancelled while waiting for a slot", "run_id", runID, "error", err.Error())
			return e.cancelledReport(runID, req.Task, stages), nil
		}
		defer e.sem.Release(1)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if e.config.RunTimeout > 0 {
		runCtx, cancel = withTimeout(runCtx, cancel, e.config.RunTimeout)
	}
	defer cancel()

	if err := e.track(runID, cancel); err != nil {
		return nil, err
	}
	defer e.untrack(runID)

	return e.execute(runCtx, runID, req.Task, stages), nil
}

// RunBatch executes requests concurrently, at most MaxConcurrentRuns at a
// time, and returns their reports in request order. A request that fails
// validation leaves a nil report; the validation errors are joined.
func (e *Engine) RunBatch(ctx context.Context, reqs []Request) ([]*Report, error) {
	reports := make([]*Report, len(reqs))
	errs := make([]error, len(reqs))

	var g errgroup.Group
	if e.config.MaxConcurrentRuns > 0 {
		g.SetLimit(e.config.MaxConcurrentRuns)
	}
	for i, req := range reqs {
		g.Go(func() error {
			reports[i], errs[i] = e.Run(ctx, req)
			return nil
		})
	}
	_ = g.Wait()

	return reports, errors.Join(errs...)
}

// Cancel stops an active run. It reports whether the run was found.
func (e *Engine) Cancel(runID string) bool {
	e.runsMu.Lock()
	cancel, ok := e.activeRuns[runID]
	e.runsMu.Unlock()

	if !ok {
		return false
	}
	cancel()
	return true
}

// ActiveRuns returns the number of runs currently executing.
func (e *Engine) ActiveRuns() int {
	e.runsMu.Lock()
	defer e.runsMu.Unlock()
	return len(e.activeRuns)
}

func (e *Engine) track(runID string, cancel context.CancelFunc) error {
	e.runsMu.Lock()
	defer e.runsMu.Unlock()
	if _, exists := e.activeRuns[runID]; exists {
		return &core.ValidationError{Reason: fmt.Sprintf("run %q is already active", runID)}
	}
	e.activeRuns[runID] = cancel
	return nil
}

func (e *Engine) untrack(runID string) {
	e.runsMu.Lock()
	delete(e.activeRuns, runID)
	e.runsMu.Unlock()
}

func (e *Engine) execute(ctx context.Context, runID, task string, stages []core.StageSpec) *Report {
	report := &Report{
		RunID:     runID,
		Task:      task,
		Results:   make([]core.StageResult, 0, len(stages)),
		StartedAt: e.now(),
	}

	ws := core.NewWorkspace(task)
	budget := core.NewCallBudget(e.config.MaxCallsPerRun)
	for _, spec := range stages {
		budget.LimitStage(spec.Name, spec.MaxCalls)
	}

	e.logger.Debug("Run started", "run_id", runID, "stages", len(stages))

	for i := range stages {
		spec := stages[i]
		hc := &HookContext{RunID: runID, Task: task, Stage: &spec}
		e.runHook(ctx, HookBeforeStage, hc)

		result := e.runStage(ctx, spec, ws, budget)
		report.Results = append(report.Results, result)

		hc.Result = &result
		e.runHook(ctx, HookAfterStage, hc)
	}

	for _, r := range report.Results {
		if r.Cancelled {
			report.Cancelled = true
		}
		if r.Status != core.StatusSuccess {
			report.Degraded = true
		}
	}

	report.FinalArtifact = finalArtifact(report.Results)

	if e.evaluator != nil && !report.Cancelled && report.FinalArtifact != nil {
		res, err := e.evaluator.Evaluate(ctx, *report.FinalArtifact)
		if err != nil {
			report.EvaluationError = err.Error()
		} else {
			report.Evaluation = res
		}
	}

	report.Calls = budget.Calls()
	report.Metrics = e.stageMetrics(stages)
	report.Circuits = e.circuitStates(stages)
	report.CompletedAt = e.now()

	e.persist(report)

	e.runHook(ctx, HookRunComplete, &HookContext{RunID: runID, Task: task, Report: report})
	e.logger.Debug("Run finished", "run_id", runID, "cancelled", report.Cancelled, "degraded", report.Degraded, "calls", budget.Count())

	return report
}

// runStage executes one stage and writes its output (real or fallback) into
// the workspace. Cancelled stages write nothing.
func (e *Engine) runStage(ctx context.Context, spec core.StageSpec, ws *core.Workspace, budget *core.CallBudget) core.StageResult {
	start := e.now()
	result := core.StageResult{Stage: spec.Name, StartedAt: start}

	if err := ctx.Err(); err != nil {
		result.Status = core.StatusSkipped
		result.Cancelled = true
		result.Err = err
		return result
	}

	// Degraded upstream output still counts as present.
	if missing := ws.Missing(spec.Requires...); len(missing) > 0 {
		cause := &core.ValidationError{Stage: spec.Name, Missing: missing}
		e.writeFallback(&result, spec, ws, cause)
		result.Status = core.StatusSkipped
		result.Err = cause
		return result
	}

	breaker := e.breakers.Breaker(spec.Name)

	var (
		output  core.Payload
		invoked int
	)
	attempts, err := e.retry.Do(ctx, func(ctx context.Context) error {
		return breaker.Execute(ctx, func(ctx context.Context) error {
			if err := budget.Charge(spec.Name); err != nil {
				return err
			}
			invoked++
			p, err := spec.Invoker.Invoke(ctx, spec, ws)
			if err != nil {
				return err
			}
			output = p
			return nil
		})
	})

	result.Attempts = attempts
	result.Latency = e.now().Sub(start)

	switch {
	case err == nil:
		if perr := ws.Put(spec.Name, output); perr != nil {
			e.logger.Error("Failed to record stage output", "stage", spec.Name, "error", perr.Error())
		}
		result.Status = core.StatusSuccess
		result.Output = &output
		e.metrics.Record(spec.Name, result.Latency, true)

	case ctx.Err() != nil:
		result.Status = core.StatusSkipped
		result.Cancelled = true
		result.Err = err
		if invoked > 0 {
			e.metrics.Record(spec.Name, result.Latency, false)
		}

	default:
		result.Status = core.StatusFailed
		if invoked == 0 && core.IsCircuitOpen(err) {
			result.Status = core.StatusShortCircuited
		}
		result.Err = err
		e.writeFallback(&result, spec, ws, err)
		e.metrics.Record(spec.Name, result.Latency, false)
	}

	return result
}

func (e *Engine) writeFallback(result *core.StageResult, spec core.StageSpec, ws *core.Workspace, cause error) {
	out := spec.FallbackOutput(ws, cause)
	if err := ws.Put(spec.Name, out); err != nil {
		e.logger.Error("Failed to record fallback output", "stage", spec.Name, "error", err.Error())
	}
	result.Output = &out
}

func (e *Engine) runHook(ctx context.Context, t HookType, hc *HookContext) {
	if err := e.hooks.Execute(ctx, t, hc); err != nil {
		e.logger.Warn("Hook failed", "run_id", hc.RunID, "hook", string(t), "error", err.Error())
	}
}

func (e *Engine) stageMetrics(stages []core.StageSpec) map[string]metrics.Summary {
	out := make(map[string]metrics.Summary, len(stages))
	for _, s := range stages {
		if sum, ok := e.metrics.Summary(s.Name); ok {
			out[s.Name] = sum
		}
	}
	return out
}

func (e *Engine) circuitStates(stages []core.StageSpec) map[string]resilience.State {
	out := make(map[string]resilience.State, len(stages)+1)
	for _, s := range stages {
		out[s.Name] = e.breakers.Breaker(s.Name).State()
	}
	if e.evaluator != nil {
		b := e.evaluator.Breaker()
		out[b.Name()] = b.State()
	}
	return out
}

// persist saves the report and final artifact. Failures are logged only.
func (e *Engine) persist(report *Report) {
	if e.artifactStore == nil {
		return
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		e.logger.Error("Failed to encode report", "run_id", report.RunID, "error", err.Error())
		return
	}
	if err := e.artifactStore.Save(report.RunID, ReportArtifact, data); err != nil {
		e.logger.Warn("Failed to persist report", "run_id", report.RunID, "error", err.Error())
	}

	if report.FinalArtifact != nil {
		text := report.FinalArtifact.Payload.Text
		if err := e.artifactStore.Save(report.RunID, FinalArtifact, []byte(text)); err != nil {
			e.logger.Warn("Failed to persist final artifact", "run_id", report.RunID, "error", err.Error())
		}
	}
}

// cancelledReport describes a run that never started.
func (e *Engine) cancelledReport(runID, task string, stages []core.StageSpec) *Report {
	now := e.now()
	report := &Report{
		RunID:       runID,
		Task:        task,
		Results:     make([]core.StageResult, len(stages)),
		Cancelled:   true,
		Degraded:    len(stages) > 0,
		StartedAt:   now,
		CompletedAt: now,
	}
	for i, s := range stages {
		report.Results[i] = core.StageResult{
			Stage:     s.Name,
			Status:    core.StatusSkipped,
			Cancelled: true,
			StartedAt: now,
		}
	}
	return report
}

// Validate checks a pipeline definition and returns a copy with ordinals
// assigned. Names must be non-empty and unique, every stage needs an
// invoker, and Requires may only name earlier stages.
func Validate(stages []core.StageSpec) ([]core.StageSpec, error) {
	if len(stages) == 0 {
		return nil, &core.ValidationError{Reason: "pipeline has no stages"}
	}

	out := make([]core.StageSpec, len(stages))
	seen := make(map[string]bool, len(stages))
	for i, s := range stages {
		switch {
		case s.Name == "":
			return nil, &core.ValidationError{Reason: fmt.Sprintf("stage %d has no name", i+1)}
		case seen[s.Name]:
			return nil, &core.ValidationError{Stage: s.Name, Reason: "duplicate stage name"}
		case s.Invoker == nil:
			return nil, &core.ValidationError{Stage: s.Name, Reason: "no invoker configured"}
		case s.MaxCalls < 0:
			return nil, &core.ValidationError{Stage: s.Name, Reason: "negative call limit"}
		}
		for _, r := range s.Requires {
			if !seen[r] {
				return nil, &core.ValidationError{Stage: s.Name, Reason: fmt.Sprintf("requires %q, which is not an earlier stage", r)}
			}
		}
		seen[s.Name] = true

		s.Requires = append([]string(nil), s.Requires...)
		if s.Ordinal == 0 {
			s.Ordinal = i + 1
		}
		out[i] = s
	}
	return out, nil
}

func withTimeout(ctx context.Context, parentCancel context.CancelFunc, d time.Duration) (context.Context, context.CancelFunc) {
	tctx, tcancel := context.WithTimeout(ctx, d)
	return tctx, func() {
		tcancel()
		parentCancel()
	}
}
