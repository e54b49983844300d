// Package engine implements the pipeline orchestration layer for agentrelay.
//
// The Engine runs a fixed, ordered list of stages over a per-run Workspace.
// Each stage call goes through the shared RetryPolicy and the stage's circuit
// breaker; whatever happens, the stage leaves exactly one result behind and
// the run moves on.
//
// # Stage outcomes
//
//	success          the invoker returned real output
//	failed           every attempt failed; fallback output written
//	short_circuited  the circuit rejected the first attempt; fallback written
//	skipped          a required input was missing; fallback written
//	skipped+cancel   the run was cancelled; nothing written
//
// # Shared state
//
// A resilience.Registry and a metrics.Collector are meant to outlive runs
// and be shared by every run of a process; a stage that keeps failing in one
// run opens its circuit for all of them. Workspaces are never shared.
//
// # Final artifact and evaluation
//
// After the last stage the engine walks the results backwards and picks the
// last usable output of a successful or skipped stage as the final artifact.
// If an evaluation.Harness is configured and the run was not cancelled, the
// artifact is scored; an unreachable evaluator leaves the report without an
// evaluation but never fails the run.
//
// # Example
//
//	registry := resilience.NewRegistry(resilience.DefaultBreakerConfig())
//	e := engine.New(func(o *engine.Options) {
//	    o.Breakers = registry
//	    o.Evaluator = evaluation.NewHarness(evaluation.NewMarkdownEvaluator())
//	})
//
//	report, err := e.RunPipeline(ctx, stage.ResearchPipeline(m, searcher), "How do tides work?")
//	if err != nil {
//	    return err // invalid pipeline definition
//	}
//	fmt.Println(report.Statuses(), report.FinalArtifact.Payload.Text)
package engine
