package core

import (
	"fmt"
	"sync"
)

// CallBudget caps the capability calls made during one run. Every attempt
// that reaches an invoker is charged, retries included. A stage may also
// carry its own cap, which is checked before the run-wide one.
type CallBudget struct {
	max      int
	perStage map[string]int
	total    int
	calls    map[string]int
	mu       sync.Mutex
}

// NewCallBudget creates a budget allowing max calls per run. Zero means
// unlimited.
func NewCallBudget(max int) *CallBudget {
	return &CallBudget{max: max, perStage: map[string]int{}, calls: map[string]int{}}
}

// LimitStage caps the calls charged to one stage. Zero removes the cap.
func (b *CallBudget) LimitStage(stage string, max int) *CallBudget {
	b.mu.Lock()
	defer b.mu.Unlock()

	if max <= 0 {
		delete(b.perStage, stage)
	} else {
		b.perStage[stage] = max
	}
	return b
}

// Charge records one call for stage. A refused call is not counted.
func (b *CallBudget) Charge(stage string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if limit, ok := b.perStage[stage]; ok && b.calls[stage] >= limit {
		return fmt.Errorf("%w: stage %q is limited to %d calls", ErrBudgetExhausted, stage, limit)
	}
	if b.max > 0 && b.total >= b.max {
		return fmt.Errorf("%w: max %d calls per run", ErrBudgetExhausted, b.max)
	}

	b.total++
	b.calls[stage]++
	return nil
}

// Count returns the number of calls charged so far.
func (b *CallBudget) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.total
}

// StageCount returns the number of calls charged to stage.
func (b *CallBudget) StageCount(stage string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.calls[stage]
}

// Calls returns a copy of the per-stage call counts.
func (b *CallBudget) Calls() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]int, len(b.calls))
	for k, v := range b.calls {
		out[k] = v
	}
	return out
}

// Remaining returns how many calls are left before hitting the run-wide cap,
// or -1 when the run is unlimited.
func (b *CallBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.max == 0 {
		return -1
	}

	if b.total >= b.max {
		return 0
	}

	return b.max - b.total
}
