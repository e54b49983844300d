package core

import (
	"fmt"
	"sync"
)

// WorkspaceView is the read-only face of a Workspace handed to invokers and
// fallback generators.
type WorkspaceView interface {
	Task() string
	Get(name string) (Payload, bool)
	Has(name string) bool
	Names() []string
}

// Workspace carries the outputs of one pipeline run. Each stage writes its
// entry at most once; an absent entry means the output is unavailable, which
// is distinct from an empty payload.
//
// A Workspace belongs to exactly one run. It is safe for concurrent reads
// while the engine, the single writer, advances between stages.
type Workspace struct {
	task    string
	mu      sync.RWMutex
	order   []string
	outputs map[string]Payload
}

// NewWorkspace creates an empty workspace for the given task description.
func NewWorkspace(task string) *Workspace {
	return &Workspace{task: task, outputs: map[string]Payload{}}
}

// Task returns the original request.
func (w *Workspace) Task() string { return w.task }

// Get returns a copy of the named stage's output.
func (w *Workspace) Get(name string) (Payload, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	p, ok := w.outputs[name]
	if !ok {
		return Payload{}, false
	}
	return p.Clone(), true
}

// Has reports whether the named stage has written output.
func (w *Workspace) Has(name string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.outputs[name]
	return ok
}

// Names returns the stage names in insertion order.
func (w *Workspace) Names() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, len(w.order))
	copy(out, w.order)
	return out
}

// Missing returns those names that have no entry, preserving argument order.
// A degraded or unusable fallback is an entry like any other.
func (w *Workspace) Missing(names ...string) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var missing []string
	for _, n := range names {
		if _, ok := w.outputs[n]; !ok {
			missing = append(missing, n)
		}
	}
	return missing
}

// Put records a stage output. A second write for the same name fails with
// ErrStageOutputExists and leaves the original entry untouched.
func (w *Workspace) Put(name string, p Payload) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.outputs[name]; ok {
		return fmt.Errorf("%w: %s", ErrStageOutputExists, name)
	}
	w.outputs[name] = p.Clone()
	w.order = append(w.order, name)
	return nil
}

// Snapshot returns the outputs in insertion order.
func (w *Workspace) Snapshot() []Artifact {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Artifact, 0, len(w.order))
	for _, n := range w.order {
		out = append(out, Artifact{Stage: n, Payload: w.outputs[n].Clone()})
	}
	return out
}
