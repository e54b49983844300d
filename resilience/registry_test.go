package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
)

func TestRegistry_BreakerIsShared(t *testing.T) {
	r := NewRegistry(BreakerConfig{FailureThreshold: 2, Cooldown: time.Minute})

	var wg sync.WaitGroup
	got := make([]*Breaker, 16)
	for i := range got {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got[i] = r.Breaker("search")
		}()
	}
	wg.Wait()

	for _, b := range got {
		assert.Same(t, got[0], b)
	}
	assert.Equal(t, "search", got[0].Name())
}

func TestRegistry_ConfigureOverrides(t *testing.T) {
	r := NewRegistry(BreakerConfig{FailureThreshold: 5, Cooldown: time.Minute})
	require.True(t, r.Configure("fragile", BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute}))

	fail := func(context.Context) error {
		return &core.CapabilityError{Cause: errors.New("down")}
	}
	_ = r.Breaker("fragile").Execute(context.Background(), fail)
	_ = r.Breaker("sturdy").Execute(context.Background(), fail)

	assert.Equal(t, map[string]State{"fragile": StateOpen, "sturdy": StateClosed}, r.States())
	assert.False(t, r.Configure("fragile", DefaultBreakerConfig()), "existing breakers keep their config")

	snaps := r.Snapshot()
	require.Len(t, snaps, 2)
	assert.Equal(t, "fragile", snaps[0].Name)
	assert.Equal(t, 1, snaps[1].ConsecutiveFailures)
}
