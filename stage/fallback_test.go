package stage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
)

func TestFallbacks(t *testing.T) {
	ws := core.NewWorkspace("explain tides")
	require.NoError(t, ws.Put("draft", core.NewTextPayload(core.KindReport, "draft text")))
	spec := core.StageSpec{Name: "final", Kind: core.KindReport}

	t.Run("placeholder", func(t *testing.T) {
		spec.Fallback = Placeholder("n/a")
		p := spec.FallbackOutput(ws, nil)
		assert.Equal(t, "n/a", p.Text)
		assert.True(t, p.Degraded)
		assert.True(t, p.Usable())
	})

	t.Run("task echo", func(t *testing.T) {
		spec.Fallback = TaskEcho()
		assert.Equal(t, "explain tides", spec.FallbackOutput(ws, nil).Text)
	})

	t.Run("unusable", func(t *testing.T) {
		spec.Fallback = Unusable("gone")
		p := spec.FallbackOutput(ws, nil)
		assert.False(t, p.Usable())
		assert.Equal(t, core.KindReport, p.Kind)
	})

	t.Run("pass through", func(t *testing.T) {
		spec.Fallback = PassThrough("draft")
		p := spec.FallbackOutput(ws, errors.New("x"))
		assert.Equal(t, "draft text", p.Text)
		assert.True(t, p.Degraded)
		assert.True(t, p.Usable())
	})

	t.Run("pass through missing upstream", func(t *testing.T) {
		spec.Fallback = PassThrough("nope")
		p := spec.FallbackOutput(ws, errors.New("timeout"))
		assert.False(t, p.Usable())
		assert.Equal(t, "[final unavailable: timeout]", p.Text)
	})

	t.Run("default", func(t *testing.T) {
		p := DefaultFallback(spec, ws, nil)
		assert.Equal(t, "[final unavailable]", p.Text)
		assert.False(t, p.Usable())
	})
}

func TestPassThrough_DoesNotMutateWorkspace(t *testing.T) {
	ws := core.NewWorkspace("t")
	require.NoError(t, ws.Put("src", core.NewDataPayload(core.KindFacts, map[string]any{"k": "v"})))

	spec := core.StageSpec{Name: "dst", Kind: core.KindReport, Fallback: PassThrough("src")}
	p := spec.FallbackOutput(ws, nil)
	p.Data["k"] = "changed"

	orig, _ := ws.Get("src")
	assert.Equal(t, "v", orig.Data["k"])
	assert.Equal(t, core.KindFacts, orig.Kind)
}
