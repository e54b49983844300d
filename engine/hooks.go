package engine

import (
	"context"
	"sync"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// HookType defines the lifecycle points where hooks are executed.
//
// Hooks are observational: they run synchronously on the run's goroutine,
// and an error returned by a hook is logged but never changes the outcome of
// a stage or run.
type HookType string

const (
	// HookBeforeStage is triggered before a stage is considered for execution.
	HookBeforeStage HookType = "before_stage"

	// HookAfterStage is triggered once a stage's result is final, including
	// stages skipped because of cancellation.
	HookAfterStage HookType = "after_stage"

	// HookRunComplete is triggered after the report has been assembled and
	// persisted.
	HookRunComplete HookType = "run_complete"
)

// HookContext carries the information available at a lifecycle point.
type HookContext struct {
	// RunID identifies the run; it can be passed to Engine.Cancel.
	RunID string

	// Task is the run's original request.
	Task string

	// Stage is set for stage hooks.
	Stage *core.StageSpec

	// Result is set for HookAfterStage.
	Result *core.StageResult

	// Report is set for HookRunComplete.
	Report *Report

	// Type indicates which lifecycle point triggered this execution.
	Type HookType
}

// Hook defines the interface for lifecycle hooks.
type Hook interface {
	// Type returns the hook type this implementation handles.
	Type() HookType

	// Execute performs the hook logic.
	Execute(ctx context.Context, hc *HookContext) error
}

// FunctionHook wraps a function as a hook implementation.
//
// Example:
//
//	h := NewFunctionHook(HookAfterStage, func(ctx context.Context, hc *HookContext) error {
//	    fmt.Printf("%s: %s\n", hc.Result.Stage, hc.Result.Status)
//	    return nil
//	})
type FunctionHook struct {
	hookType HookType
	fn       func(ctx context.Context, hc *HookContext) error
}

// NewFunctionHook creates a new function-based hook.
func NewFunctionHook(hookType HookType, fn func(ctx context.Context, hc *HookContext) error) *FunctionHook {
	return &FunctionHook{hookType: hookType, fn: fn}
}

// Type returns the hook type this function handles.
func (h *FunctionHook) Type() HookType { return h.hookType }

// Execute calls the wrapped function.
func (h *FunctionHook) Execute(ctx context.Context, hc *HookContext) error {
	return h.fn(ctx, hc)
}

// HookManager keeps hooks by type and runs them in registration order. It
// is safe for concurrent registration and execution.
type HookManager struct {
	mu    sync.RWMutex
	hooks map[HookType][]Hook
}

// NewHookManager creates an empty hook manager.
func NewHookManager() *HookManager {
	return &HookManager{hooks: make(map[HookType][]Hook)}
}

// Register adds hooks to the manager.
func (m *HookManager) Register(hooks ...Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range hooks {
		m.hooks[h.Type()] = append(m.hooks[h.Type()], h)
	}
}

// Execute runs every hook registered for t. All hooks run even when one
// fails; the first error is returned.
func (m *HookManager) Execute(ctx context.Context, t HookType, hc *HookContext) error {
	m.mu.RLock()
	hooks := append([]Hook(nil), m.hooks[t]...)
	m.mu.RUnlock()

	hc.Type = t
	var first error
	for _, h := range hooks {
		if err := h.Execute(ctx, hc); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// LoggingHooks returns hooks that report stage results and run completion
// through a PipelineLogger.
func LoggingHooks(l *logging.PipelineLogger) []Hook {
	return []Hook{
		NewFunctionHook(HookAfterStage, func(_ context.Context, hc *HookContext) error {
			r := hc.Result
			l.WithRun(hc.RunID).LogStageResult(r.Stage, r.Status.String(), r.Attempts, r.Latency, r.Err)
			return nil
		}),
		NewFunctionHook(HookRunComplete, func(_ context.Context, hc *HookContext) error {
			rep := hc.Report
			l.WithRun(hc.RunID).LogRunCompleted(len(rep.Results), rep.DegradedCount(), rep.Duration(), rep.Cancelled)
			if rep.Evaluation != nil {
				l.WithRun(hc.RunID).LogEvaluation(rep.Evaluation.Evaluator, rep.Evaluation.Score, 0, nil)
			} else if rep.EvaluationError != "" {
				l.WithRun(hc.RunID).Warn("Evaluation unavailable", "error", rep.EvaluationError)
			}
			return nil
		}),
	}
}
