package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRemote = &core.CapabilityError{Capability: "model", Cause: errors.New("503")}

func newTestBreaker(clock *testutil.Clock, threshold int, cooldown time.Duration) *Breaker {
	return NewBreaker("research", BreakerConfig{
		FailureThreshold: threshold,
		Cooldown:         cooldown,
		Now:              clock.Now,
	})
}

func fail(context.Context) error    { return errRemote }
func succeed(context.Context) error { return nil }

func TestBreaker_StaysClosedOnSuccess(t *testing.T) {
	b := newTestBreaker(testutil.NewClock(), 3, time.Minute)

	for i := 0; i < 10; i++ {
		require.NoError(t, b.Execute(context.Background(), succeed))
	}
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Snapshot().ConsecutiveFailures)
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	clock := testutil.NewClock()
	b := newTestBreaker(clock, 3, time.Minute)

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, b.Execute(context.Background(), fail), errRemote)
		assert.Equal(t, StateClosed, b.State())
	}
	assert.ErrorIs(t, b.Execute(context.Background(), fail), errRemote)
	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, clock.Now(), b.Snapshot().OpenedAt)

	called := false
	err := b.Execute(context.Background(), func(context.Context) error { called = true; return nil })
	assert.False(t, called)

	var coe *core.CircuitOpenError
	require.ErrorAs(t, err, &coe)
	assert.Equal(t, "research", coe.Name)
	assert.Equal(t, clock.Now().Add(time.Minute), coe.RetryAt)
}

func TestBreaker_SuccessResetsCounter(t *testing.T) {
	b := newTestBreaker(testutil.NewClock(), 3, time.Minute)

	_ = b.Execute(context.Background(), fail)
	_ = b.Execute(context.Background(), fail)
	require.NoError(t, b.Execute(context.Background(), succeed))
	_ = b.Execute(context.Background(), fail)
	_ = b.Execute(context.Background(), fail)

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 2, b.Snapshot().ConsecutiveFailures)
}

func TestBreaker_HalfOpenTrialSuccessCloses(t *testing.T) {
	clock := testutil.NewClock()
	b := newTestBreaker(clock, 1, time.Minute)

	_ = b.Execute(context.Background(), fail)
	require.Equal(t, StateOpen, b.State())

	clock.Advance(59 * time.Second)
	assert.True(t, core.IsCircuitOpen(b.Execute(context.Background(), succeed)))

	clock.Advance(time.Second)
	var during State
	err := b.Execute(context.Background(), func(context.Context) error {
		during = b.State()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateHalfOpen, during)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Snapshot().ConsecutiveFailures)
}

func TestBreaker_HalfOpenTrialFailureReopens(t *testing.T) {
	clock := testutil.NewClock()
	b := newTestBreaker(clock, 2, time.Minute)

	_ = b.Execute(context.Background(), fail)
	_ = b.Execute(context.Background(), fail)
	firstOpen := b.Snapshot().OpenedAt

	clock.Advance(2 * time.Minute)
	assert.ErrorIs(t, b.Execute(context.Background(), fail), errRemote)
	assert.Equal(t, StateOpen, b.State())
	assert.True(t, b.Snapshot().OpenedAt.After(firstOpen))

	// The cooldown restarted with the failed trial.
	clock.Advance(30 * time.Second)
	assert.True(t, core.IsCircuitOpen(b.Execute(context.Background(), succeed)))
}

func TestBreaker_HalfOpenAdmitsSingleTrial(t *testing.T) {
	clock := testutil.NewClock()
	b := newTestBreaker(clock, 1, time.Second)
	_ = b.Execute(context.Background(), fail)
	clock.Advance(time.Second)

	release := make(chan struct{})
	entered := make(chan struct{})
	var trials atomic.Int32

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Execute(context.Background(), func(context.Context) error {
			trials.Add(1)
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	const callers = 20
	var rejected atomic.Int32
	done := make([]chan struct{}, callers)
	for i := range done {
		done[i] = make(chan struct{})
		go func(done chan struct{}) {
			defer close(done)
			err := b.Execute(context.Background(), func(context.Context) error {
				trials.Add(1)
				return nil
			})
			if core.IsCircuitOpen(err) {
				rejected.Add(1)
			}
		}(done[i])
	}

	for _, d := range done {
		<-d
	}
	assert.Equal(t, int32(callers), rejected.Load())
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), trials.Load())
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_IgnoresNeutralErrors(t *testing.T) {
	b := newTestBreaker(testutil.NewClock(), 1, time.Minute)

	err := b.Execute(context.Background(), func(context.Context) error {
		return &core.ValidationError{Stage: "write", Missing: []string{"plan"}}
	})
	assert.True(t, core.IsValidation(err))
	assert.Equal(t, StateClosed, b.State())

	err = b.Execute(context.Background(), func(context.Context) error {
		return fmt.Errorf("write: %w", core.ErrBudgetExhausted)
	})
	assert.ErrorIs(t, err, core.ErrBudgetExhausted)
	assert.Equal(t, StateClosed, b.State())

	ctx, cancel := context.WithCancel(context.Background())
	err = b.Execute(ctx, func(ctx context.Context) error {
		cancel()
		return &core.CapabilityError{Capability: "model", Cause: ctx.Err()}
	})
	assert.Error(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_CapabilityTimeoutCountsAsFailure(t *testing.T) {
	b := newTestBreaker(testutil.NewClock(), 2, time.Minute)

	timeout := func(context.Context) error {
		return &core.CapabilityError{Capability: "model", Cause: context.DeadlineExceeded}
	}

	require.Error(t, b.Execute(context.Background(), timeout))
	assert.Equal(t, StateClosed, b.State())
	require.Error(t, b.Execute(context.Background(), timeout))
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_CancelledTrialReleasesSlot(t *testing.T) {
	clock := testutil.NewClock()
	b := newTestBreaker(clock, 1, time.Second)
	_ = b.Execute(context.Background(), fail)
	clock.Advance(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := b.Execute(ctx, func(ctx context.Context) error {
		return &core.CapabilityError{Capability: "model", Cause: ctx.Err()}
	})
	require.Error(t, err)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Execute(context.Background(), succeed))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_OnStateChange(t *testing.T) {
	clock := testutil.NewClock()
	var transitions []string
	b := NewBreaker("write", BreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Second,
		Now:              clock.Now,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})

	_ = b.Execute(context.Background(), fail)
	clock.Advance(time.Second)
	_ = b.Execute(context.Background(), succeed)

	assert.Equal(t, []string{
		"write:closed->open",
		"write:open->half_open",
		"write:half_open->closed",
	}, transitions)
}

func TestRegistry_IsolatesCircuits(t *testing.T) {
	r := NewRegistry(BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute})

	_ = r.Breaker("research").Execute(context.Background(), fail)

	assert.Same(t, r.Breaker("research"), r.Breaker("research"))
	assert.Equal(t, StateOpen, r.Breaker("research").State())
	assert.Equal(t, StateClosed, r.Breaker("writing").State())
	assert.Equal(t, map[string]State{"research": StateOpen, "writing": StateClosed}, r.States())

	snaps := r.Snapshot()
	require.Len(t, snaps, 2)
	assert.Equal(t, "research", snaps[0].Name)
}

func TestRegistry_Configure(t *testing.T) {
	r := NewRegistry(BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute})
	require.True(t, r.Configure("flaky", BreakerConfig{FailureThreshold: 5, Cooldown: time.Minute}))

	for i := 0; i < 4; i++ {
		_ = r.Breaker("flaky").Execute(context.Background(), fail)
	}
	assert.Equal(t, StateClosed, r.Breaker("flaky").State())
	assert.False(t, r.Configure("flaky", BreakerConfig{FailureThreshold: 1}))
}
