package resilience

import (
	"sort"
	"sync"
)

// Registry holds one Breaker per circuit name. A single Registry is meant to
// be shared by every run of a process so that failures observed by one run
// are visible to all others; it is injected rather than global.
type Registry struct {
	mu        sync.RWMutex
	defaults  BreakerConfig
	overrides map[string]BreakerConfig
	breakers  map[string]*Breaker
}

// NewRegistry creates a registry whose breakers use cfg unless overridden.
func NewRegistry(cfg BreakerConfig) *Registry {
	return &Registry{
		defaults:  cfg,
		overrides: make(map[string]BreakerConfig),
		breakers:  make(map[string]*Breaker),
	}
}

// Configure sets a per-circuit configuration. It only affects breakers that
// have not been created yet and reports whether it took effect.
func (r *Registry) Configure(name string, cfg BreakerConfig) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.breakers[name]; exists {
		return false
	}
	r.overrides[name] = cfg
	return true
}

// Breaker returns the breaker for name, creating it closed on first use.
func (r *Registry) Breaker(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	cfg, ok := r.overrides[name]
	if !ok {
		cfg = r.defaults
	}
	b = NewBreaker(name, cfg)
	r.breakers[name] = b
	return b
}

// States returns the current state of every known circuit.
func (r *Registry) States() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]State, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.State()
	}
	return out
}

// Snapshot returns breaker snapshots sorted by name.
func (r *Registry) Snapshot() []Snapshot {
	r.mu.RLock()
	out := make([]Snapshot, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Snapshot())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
