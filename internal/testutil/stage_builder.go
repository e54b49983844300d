package testutil

import "github.com/hupe1980/agentrelay/core"

// StageBuilder provides a fluent helper for constructing stage specs in tests.
// Example:
//
//	spec := NewStageBuilder("write").Requires("plan").Kind(core.KindReport).Invoker(inv).Build()
//
// Chain only the parts you need; sensible defaults are applied.
type StageBuilder struct {
	spec core.StageSpec
}

// NewStageBuilder creates a builder for a text stage with a usable
// placeholder fallback.
func NewStageBuilder(name string) *StageBuilder {
	return &StageBuilder{spec: core.StageSpec{
		Name: name,
		Kind: core.KindText,
		Fallback: func(spec core.StageSpec, _ core.WorkspaceView, _ error) core.Payload {
			return core.NewTextPayload(spec.Kind, "fallback:"+spec.Name)
		},
	}}
}

// Requires appends required input stage names (chainable).
func (b *StageBuilder) Requires(names ...string) *StageBuilder {
	b.spec.Requires = append(b.spec.Requires, names...)
	return b
}

// Kind sets the expected payload kind (chainable).
func (b *StageBuilder) Kind(k core.Kind) *StageBuilder { b.spec.Kind = k; return b }

// Invoker sets the stage invoker (chainable).
func (b *StageBuilder) Invoker(inv core.Invoker) *StageBuilder { b.spec.Invoker = inv; return b }

// Fallback overrides the fallback generator (chainable).
func (b *StageBuilder) Fallback(fn core.FallbackFunc) *StageBuilder { b.spec.Fallback = fn; return b }

// UnusableFallback makes the fallback output unusable as a final artifact (chainable).
func (b *StageBuilder) UnusableFallback() *StageBuilder {
	b.spec.Fallback = func(spec core.StageSpec, _ core.WorkspaceView, _ error) core.Payload {
		return core.Payload{Kind: spec.Kind, Text: "unavailable:" + spec.Name, Unusable: true}
	}
	return b
}

// Build returns the stage spec.
func (b *StageBuilder) Build() core.StageSpec { return b.spec }
