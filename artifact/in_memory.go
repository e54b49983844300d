package artifact

import (
	"sort"
	"sync"
)

// InMemoryStore is a trivial in-process ArtifactStore implementation useful
// for tests, examples and single-process prototypes. It keeps all artifacts in
// a nested map guarded by an RWMutex. Data is copied on save / retrieval to
// avoid accidental external mutation of internal buffers.
//
// Layout: runID -> name -> raw bytes
//
// Every save stamps its run with a sequence number so Runs can list the most
// recently written runs first.
// It does not enforce retention limits, size quotas, or eviction. Use
// artifact/sqlite for reports that must survive process restarts.
type InMemoryStore struct {
	mu        sync.RWMutex
	artifacts map[string]map[string][]byte // runID -> name -> data
	updated   map[string]uint64            // runID -> sequence of last save
	seq       uint64
}

// NewInMemoryStore returns an empty in-memory artifact store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		artifacts: make(map[string]map[string][]byte),
		updated:   make(map[string]uint64),
	}
}

// Save stores (or overwrites) the artifact bytes for the given run and name.
// The input slice is copied before storage.
func (a *InMemoryStore) Save(runID, name string, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.artifacts[runID]; !exists {
		a.artifacts[runID] = make(map[string][]byte)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	a.artifacts[runID][name] = cp
	a.seq++
	a.updated[runID] = a.seq
	return nil
}

// Get returns a copy of the stored artifact bytes or ErrNotFound.
func (a *InMemoryStore) Get(runID, name string) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	m, ok := a.artifacts[runID]
	if !ok {
		return nil, ErrNotFound
	}
	data, ok := m[name]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// List returns the sorted artifact names stored for the run. The slice is
// a snapshot and safe for caller mutation.
func (a *InMemoryStore) List(runID string) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	m, ok := a.artifacts[runID]
	if !ok {
		return []string{}, nil
	}
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// Runs returns the IDs of runs with at least one artifact, most recently
// saved first. limit <= 0 returns all of them.
func (a *InMemoryStore) Runs(limit int) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ids := make([]string, 0, len(a.artifacts))
	for id, m := range a.artifacts {
		if len(m) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return a.updated[ids[i]] > a.updated[ids[j]]
	})
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// Delete removes the artifact if present or returns ErrNotFound.
func (a *InMemoryStore) Delete(runID, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.artifacts[runID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := m[name]; !ok {
		return ErrNotFound
	}
	delete(m, name)
	return nil
}
