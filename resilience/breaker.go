package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hupe1980/agentrelay/core"
)

// State is the position of a circuit breaker in its state machine.
type State int

const (
	// StateClosed lets calls pass through.
	StateClosed State = iota
	// StateOpen rejects calls until the cooldown has elapsed.
	StateOpen
	// StateHalfOpen admits a single trial call.
	StateHalfOpen
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// BreakerConfig controls when a breaker opens and how long it stays open.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures that open the circuit, minimum 1
	Cooldown         time.Duration // time spent open before a trial is admitted

	// IsFailure decides whether an error counts against the circuit. Nil
	// means DefaultIsFailure. It is not consulted once the caller's context
	// has ended.
	IsFailure func(error) bool

	// Now is the clock; nil means time.Now.
	Now func() time.Time

	// OnStateChange is invoked after every transition, outside the lock.
	OnStateChange func(name string, from, to State)
}

// DefaultBreakerConfig returns a threshold of 3 and a cooldown of 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
	}
}

// DefaultIsFailure counts every error except validation errors and an
// exhausted call budget, neither of which reached the capability. A timeout
// reported by the capability itself is a failure.
func DefaultIsFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, core.ErrBudgetExhausted) {
		return false
	}
	return !core.IsValidation(err)
}

// Snapshot is a point-in-time copy of a breaker's state.
type Snapshot struct {
	Name                string    `json:"name"`
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	OpenedAt            time.Time `json:"opened_at,omitempty"`
}

// Breaker is a three-state circuit breaker guarding one external capability.
// It is safe for concurrent use; the guarded function always runs outside the
// breaker's lock.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
	trialInFlight       bool
}

// NewBreaker creates a closed breaker.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = DefaultIsFailure
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{name: name, cfg: cfg}
}

// Name returns the circuit name.
func (b *Breaker) Name() string { return b.name }

// State returns the current state without causing a transition.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a copy of the breaker's state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:                b.name,
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		OpenedAt:            b.openedAt,
	}
}

// Execute runs fn if the circuit admits the call and records its outcome.
// A rejected call returns a *core.CircuitOpenError without running fn. A call
// whose ctx ended before fn returned is neutral whatever its error.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	trial, err := b.allow()
	if err != nil {
		return err
	}
	callErr := fn(ctx)
	b.record(ctx, trial, callErr)
	return callErr
}

// allow decides admission. The returned flag marks the half-open trial.
func (b *Breaker) allow() (bool, error) {
	b.mu.Lock()

	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		return false, nil
	case StateOpen:
		if b.cfg.Now().Sub(b.openedAt) < b.cfg.Cooldown {
			err := b.openError()
			b.mu.Unlock()
			return false, err
		}
		b.state = StateHalfOpen
		b.trialInFlight = true
		b.mu.Unlock()
		b.notify(StateOpen, StateHalfOpen)
		return true, nil
	default: // half-open
		if b.trialInFlight {
			err := b.openError()
			b.mu.Unlock()
			return false, err
		}
		b.trialInFlight = true
		b.mu.Unlock()
		return true, nil
	}
}

func (b *Breaker) record(ctx context.Context, trial bool, err error) {
	failure := err != nil && ctx.Err() == nil && b.cfg.IsFailure(err)

	b.mu.Lock()
	from := b.state

	switch {
	case trial && err == nil:
		b.trialInFlight = false
		b.state = StateClosed
		b.consecutiveFailures = 0
	case trial && failure:
		b.trialInFlight = false
		b.state = StateOpen
		b.consecutiveFailures++
		b.openedAt = b.cfg.Now()
	case trial:
		// Neutral outcome; release the slot so the next caller gets the trial.
		b.trialInFlight = false
	case err == nil:
		if b.state == StateClosed {
			b.consecutiveFailures = 0
		}
	case failure:
		if b.state == StateClosed {
			b.consecutiveFailures++
			if b.consecutiveFailures >= b.cfg.FailureThreshold {
				b.state = StateOpen
				b.openedAt = b.cfg.Now()
			}
		}
	}

	to := b.state
	b.mu.Unlock()

	if from != to {
		b.notify(from, to)
	}
}

func (b *Breaker) openError() *core.CircuitOpenError {
	e := &core.CircuitOpenError{Name: b.name, OpenedAt: b.openedAt}
	if b.state == StateOpen {
		e.RetryAt = b.openedAt.Add(b.cfg.Cooldown)
	}
	return e
}

func (b *Breaker) notify(from, to State) {
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
}
