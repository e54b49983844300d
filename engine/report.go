package engine

import (
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/evaluation"
	"github.com/hupe1980/agentrelay/metrics"
	"github.com/hupe1980/agentrelay/resilience"
)

// Report is the outcome of one pipeline run. Results holds exactly one entry
// per declared stage, in declared order.
type Report struct {
	RunID           string                      `json:"run_id"`
	Task            string                      `json:"task"`
	FinalArtifact   *core.Artifact              `json:"final_artifact,omitempty"`
	Results         []core.StageResult          `json:"results"`
	Calls           map[string]int              `json:"calls,omitempty"`
	Metrics         map[string]metrics.Summary  `json:"metrics,omitempty"`
	Circuits        map[string]resilience.State `json:"circuits,omitempty"`
	Evaluation      *evaluation.Result          `json:"evaluation,omitempty"`
	EvaluationError string                      `json:"evaluation_error,omitempty"`
	Cancelled       bool                        `json:"cancelled"`
	Degraded        bool                        `json:"degraded"`
	StartedAt       time.Time                   `json:"started_at"`
	CompletedAt     time.Time                   `json:"completed_at"`
}

// Statuses returns the stage statuses in declared order.
func (r *Report) Statuses() []core.Status {
	out := make([]core.Status, len(r.Results))
	for i, res := range r.Results {
		out[i] = res.Status
	}
	return out
}

// Result returns the result for the named stage.
func (r *Report) Result(stage string) (core.StageResult, bool) {
	for _, res := range r.Results {
		if res.Stage == stage {
			return res, true
		}
	}
	return core.StageResult{}, false
}

// DegradedCount returns the number of stages that did not succeed.
func (r *Report) DegradedCount() int {
	n := 0
	for _, res := range r.Results {
		if res.Status != core.StatusSuccess {
			n++
		}
	}
	return n
}

// Duration returns the wall time of the run.
func (r *Report) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// finalArtifact walks the results backwards and returns the output of the
// last successful or skipped (not cancelled) stage whose payload is usable.
// Fallback output of failed or short-circuited stages is never chosen.
func finalArtifact(results []core.StageResult) *core.Artifact {
	for i := len(results) - 1; i >= 0; i-- {
		r := results[i]
		if r.Cancelled || r.Output == nil || !r.Output.Usable() {
			continue
		}
		if r.Status != core.StatusSuccess && r.Status != core.StatusSkipped {
			continue
		}
		return &core.Artifact{Stage: r.Stage, Payload: r.Output.Clone()}
	}
	return nil
}
