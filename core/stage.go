package core

import (
	"context"
	"encoding/json"
	"time"
)

// Invoker adapts one stage to an external capability call.
//
// Implementations must:
//   - Treat the workspace as read-only (the engine owns all writes)
//   - Return a *ValidationError when required inputs are absent
//   - Return a *CapabilityError when the underlying call fails, times out or
//     yields a malformed result
//   - Respect ctx cancellation when the capability supports it
//
// Retry and circuit logic never live in an Invoker.
type Invoker interface {
	Invoke(ctx context.Context, spec StageSpec, ws WorkspaceView) (Payload, error)
}

// InvokerFunc adapts an ordinary function to the Invoker interface.
type InvokerFunc func(ctx context.Context, spec StageSpec, ws WorkspaceView) (Payload, error)

// Invoke implements Invoker.
func (f InvokerFunc) Invoke(ctx context.Context, spec StageSpec, ws WorkspaceView) (Payload, error) {
	return f(ctx, spec, ws)
}

// FallbackFunc produces a degraded placeholder for a stage that was skipped or
// failed. It must be pure: no external calls, no workspace mutation. cause is
// the error that prevented the real output and may be nil.
type FallbackFunc func(spec StageSpec, ws WorkspaceView, cause error) Payload

// StageSpec is the static descriptor of one pipeline stage.
type StageSpec struct {
	// Name is unique within a pipeline and keys the stage's output, circuit
	// and metrics.
	Name string
	// Ordinal is the declared position; the engine assigns it when zero.
	Ordinal int
	// Requires lists earlier stage names whose outputs this stage reads.
	Requires []string
	// Kind is the payload kind the invoker is expected to produce.
	Kind Kind
	// Instruction is the request template sent by the invoker.
	Instruction string
	// Description is informational.
	Description string
	// Invoker performs the external call.
	Invoker Invoker
	// Fallback generates the degraded output. Nil means an unusable placeholder.
	Fallback FallbackFunc
	// MaxCalls caps the capability calls this stage may make in one run,
	// retries included. Zero means only the run-wide cap applies.
	MaxCalls int
}

// FallbackOutput runs the configured fallback generator and marks the result
// degraded. A nil generator yields an unusable placeholder.
func (s StageSpec) FallbackOutput(ws WorkspaceView, cause error) Payload {
	if s.Fallback == nil {
		return Payload{Kind: s.Kind, Text: "", Degraded: true, Unusable: true}
	}
	p := s.Fallback(s, ws, cause)
	p.Degraded = true
	if p.Kind == "" {
		p.Kind = s.Kind
	}
	return p
}

// Status is the outcome of one stage.
type Status int

const (
	// StatusSuccess means the invoker returned real output.
	StatusSuccess Status = iota
	// StatusFailed means every attempt failed; the fallback output was written.
	StatusFailed
	// StatusShortCircuited means the stage's circuit rejected the call before
	// any invocation; the fallback output was written.
	StatusShortCircuited
	// StatusSkipped means the stage did not complete, either because a
	// required input was absent or the run was cancelled.
	StatusSkipped
)

// String returns the lower-case status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailed:
		return "failed"
	case StatusShortCircuited:
		return "short_circuited"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// StageResult records the outcome of one stage within a run.
type StageResult struct {
	Stage     string        `json:"stage"`
	Status    Status        `json:"status"`
	Output    *Payload      `json:"output,omitempty"`
	Err       error         `json:"-"`
	Latency   time.Duration `json:"latency"`
	Attempts  int           `json:"attempts"`
	Cancelled bool          `json:"cancelled,omitempty"`
	StartedAt time.Time     `json:"started_at"`
}

// MarshalJSON renders Err as a string field.
func (r StageResult) MarshalJSON() ([]byte, error) {
	type alias StageResult
	out := struct {
		alias
		Error string `json:"error,omitempty"`
	}{alias: alias(r)}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// Artifact identifies the payload chosen as a run's final output.
type Artifact struct {
	Stage   string  `json:"stage"`
	Payload Payload `json:"payload"`
}
