package testutil

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/agentrelay/core"
)

// ErrTransient is the cause used by scripted capability failures.
var ErrTransient = errors.New("transient capability failure")

// ScriptedInvoker fails the first Failures calls with a retryable
// CapabilityError and then returns Output. It counts every call.
type ScriptedInvoker struct {
	Failures int
	Output   core.Payload
	Delay    time.Duration

	calls atomic.Int64
}

// Invoke implements core.Invoker.
func (s *ScriptedInvoker) Invoke(ctx context.Context, spec core.StageSpec, _ core.WorkspaceView) (core.Payload, error) {
	n := s.calls.Add(1)
	if s.Delay > 0 {
		select {
		case <-ctx.Done():
			return core.Payload{}, &core.CapabilityError{Stage: spec.Name, Capability: "scripted", Cause: ctx.Err()}
		case <-time.After(s.Delay):
		}
	}
	if int(n) <= s.Failures {
		return core.Payload{}, &core.CapabilityError{Stage: spec.Name, Capability: "scripted", Cause: ErrTransient}
	}
	return s.Output, nil
}

// Calls returns how many times Invoke ran.
func (s *ScriptedInvoker) Calls() int { return int(s.calls.Load()) }

// AlwaysFail returns an invoker that fails every call.
func AlwaysFail() *ScriptedInvoker {
	return &ScriptedInvoker{Failures: int(^uint(0) >> 1)}
}

// Succeed returns an invoker that returns text with the given kind.
func Succeed(kind core.Kind, text string) *ScriptedInvoker {
	return &ScriptedInvoker{Output: core.NewTextPayload(kind, text)}
}

// RecordingInvoker captures the workspace view it was handed so tests can
// inspect what a stage saw.
type RecordingInvoker struct {
	Output core.Payload

	mu   sync.Mutex
	seen map[string]core.Payload
}

// Invoke implements core.Invoker and copies every required input it can see.
func (r *RecordingInvoker) Invoke(_ context.Context, spec core.StageSpec, ws core.WorkspaceView) (core.Payload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = map[string]core.Payload{}
	for _, name := range spec.Requires {
		p, ok := ws.Get(name)
		if !ok {
			return core.Payload{}, &core.ValidationError{Stage: spec.Name, Missing: []string{name}}
		}
		r.seen[name] = p
	}
	return r.Output, nil
}

// Seen returns the inputs observed on the last call.
func (r *RecordingInvoker) Seen() map[string]core.Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen
}
