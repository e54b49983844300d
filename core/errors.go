package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrStageOutputExists is returned when a stage output is written twice
	// into the same workspace.
	ErrStageOutputExists = errors.New("stage output already written")

	// ErrNotFound is returned by stores when a run or artifact does not exist.
	ErrNotFound = errors.New("not found")

	// ErrBudgetExhausted is returned once a run has used its capability call
	// budget.
	ErrBudgetExhausted = errors.New("capability call budget exhausted")
)

// ValidationError reports that a stage cannot run because required inputs are
// absent, or that a pipeline definition is invalid. It is never retried.
type ValidationError struct {
	Stage   string
	Missing []string
	Reason  string
}

func (e *ValidationError) Error() string {
	switch {
	case len(e.Missing) > 0:
		return fmt.Sprintf("stage %q: missing required inputs: %s", e.Stage, strings.Join(e.Missing, ", "))
	case e.Stage != "":
		return fmt.Sprintf("stage %q: %s", e.Stage, e.Reason)
	default:
		return "invalid pipeline: " + e.Reason
	}
}

// IsRetryable returns false; validation failures are caller bugs.
func (e *ValidationError) IsRetryable() bool { return false }

// CapabilityError wraps a failure of the external capability behind a stage
// (model completion, search call, document write). Capability errors are
// transient and retried unless Terminal is set.
type CapabilityError struct {
	Stage      string
	Capability string
	Cause      error
	Terminal   bool
}

func (e *CapabilityError) Error() string {
	var b strings.Builder
	if e.Stage != "" {
		fmt.Fprintf(&b, "stage %q: ", e.Stage)
	}
	if e.Capability != "" {
		fmt.Fprintf(&b, "%s capability failed", e.Capability)
	} else {
		b.WriteString("capability failed")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *CapabilityError) Unwrap() error { return e.Cause }

// IsRetryable reports whether another attempt may succeed.
func (e *CapabilityError) IsRetryable() bool {
	if e.Terminal {
		return false
	}
	return !errors.Is(e.Cause, context.Canceled)
}

// CircuitOpenError is returned without invoking the capability while a
// circuit is open, or while another caller holds the half-open trial.
type CircuitOpenError struct {
	Name     string
	OpenedAt time.Time
	RetryAt  time.Time
}

func (e *CircuitOpenError) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("circuit %q is open", e.Name)
	}
	return fmt.Sprintf("circuit %q is open until %s", e.Name, e.RetryAt.Format(time.RFC3339))
}

// IsRetryable returns false so that retry loops stop hammering an open circuit.
func (e *CircuitOpenError) IsRetryable() bool { return false }

// EvaluationUnavailable reports that the external evaluator could not produce
// a score. It never fails a run.
type EvaluationUnavailable struct {
	Cause error
}

func (e *EvaluationUnavailable) Error() string {
	if e.Cause == nil {
		return "evaluation unavailable"
	}
	return "evaluation unavailable: " + e.Cause.Error()
}

func (e *EvaluationUnavailable) Unwrap() error { return e.Cause }

// IsRetryable reports whether err should be retried. Only capability errors
// that are not marked terminal qualify.
func IsRetryable(err error) bool {
	var ce *CapabilityError
	if errors.As(err, &ce) {
		return ce.IsRetryable()
	}
	return false
}

// IsCircuitOpen reports whether err is, or wraps, a CircuitOpenError.
func IsCircuitOpen(err error) bool {
	var coe *CircuitOpenError
	return errors.As(err, &coe)
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
