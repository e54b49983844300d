package stage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/model"
)

func workspaceWith(t *testing.T, task string, outputs map[string]string) *core.Workspace {
	t.Helper()
	ws := core.NewWorkspace(task)
	for name, text := range outputs {
		require.NoError(t, ws.Put(name, core.NewTextPayload(core.KindText, text)))
	}
	return ws
}

func TestModelInvoker_RendersTemplate(t *testing.T) {
	m := model.NewMockModel("m")
	m.AddResponse("Summarize outline for tides", "a summary")

	spec := core.StageSpec{
		Name:        "summary",
		Requires:    []string{"plan"},
		Kind:        core.KindReport,
		Instruction: "Summarize {{index .Inputs \"plan\"}} for {{.Task}}",
	}
	ws := workspaceWith(t, "tides", map[string]string{"plan": "outline"})

	out, err := NewModelInvoker(m).Invoke(context.Background(), spec, ws)
	require.NoError(t, err)
	assert.Equal(t, core.KindReport, out.Kind)
	assert.Equal(t, "a summary", out.Text)
	assert.False(t, out.Degraded)
}

func TestModelInvoker_AppendsInputsWithoutTemplate(t *testing.T) {
	m := model.NewMockModel("m")
	spec := core.StageSpec{Name: "s", Requires: []string{"a", "b"}, Instruction: "Combine."}
	ws := workspaceWith(t, "task", map[string]string{"a": "alpha", "b": "beta"})

	_, err := NewModelInvoker(m, func(o *ModelInvokerOptions) { o.SystemPrompt = "sys" }).Invoke(context.Background(), spec, ws)
	require.NoError(t, err)

	reqs := m.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "sys", reqs[0].Instructions)
	prompt := reqs[0].Contents[0].Text()
	assert.True(t, strings.HasPrefix(prompt, "Combine."))
	assert.Less(t, strings.Index(prompt, "## a\nalpha"), strings.Index(prompt, "## b\nbeta"))
	assert.Contains(t, prompt, "## Task\ntask")
}

func TestModelInvoker_MissingInputs(t *testing.T) {
	m := model.NewMockModel("m")
	spec := core.StageSpec{Name: "s", Requires: []string{"a", "b"}}
	ws := workspaceWith(t, "task", map[string]string{"a": "alpha"})

	_, err := NewModelInvoker(m).Invoke(context.Background(), spec, ws)
	var ve *core.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, []string{"b"}, ve.Missing)
	assert.Empty(t, m.Requests(), "model must not be called")
}

func TestModelInvoker_PassesDegradedInputs(t *testing.T) {
	m := model.NewMockModel("m")
	spec := core.StageSpec{Name: "write", Requires: []string{"research"}, Instruction: "Write."}
	ws := core.NewWorkspace("task")
	require.NoError(t, ws.Put("research", core.Payload{Kind: core.KindSources, Text: "[research unavailable]", Degraded: true, Unusable: true}))

	_, err := NewModelInvoker(m).Invoke(context.Background(), spec, ws)
	require.NoError(t, err)

	reqs := m.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Contents[0].Text(), "## research\n[research unavailable]")
}

func TestModelInvoker_TemplateErrorIsValidation(t *testing.T) {
	spec := core.StageSpec{Name: "s", Instruction: "{{.Task"}
	_, err := NewModelInvoker(model.NewMockModel("m")).Invoke(context.Background(), spec, core.NewWorkspace("t"))
	assert.True(t, core.IsValidation(err))
}

func TestModelInvoker_ModelFailure(t *testing.T) {
	m := model.NewMockModel("m")
	m.QueueError(errors.New("socket closed"))
	m.QueueError(model.CapabilityError("mock", 429, errors.New("rate limited")))

	spec := core.StageSpec{Name: "writer"}
	inv := NewModelInvoker(m)

	_, err := inv.Invoke(context.Background(), spec, core.NewWorkspace("t"))
	var ce *core.CapabilityError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "writer", ce.Stage)
	assert.Equal(t, "mock", ce.Capability)
	assert.True(t, ce.IsRetryable())

	_, err = inv.Invoke(context.Background(), spec, core.NewWorkspace("t"))
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "writer", ce.Stage)
	assert.True(t, core.IsRetryable(err))
}

func TestModelInvoker_EmptyOutput(t *testing.T) {
	m := model.NewMockModel("m")
	m.AddResponse("Say nothing.\n\n## Task\nt", "   ")

	_, err := NewModelInvoker(m).Invoke(context.Background(), core.StageSpec{Name: "s", Instruction: "Say nothing."}, core.NewWorkspace("t"))
	assert.ErrorIs(t, err, ErrEmptyOutput)
	assert.True(t, core.IsRetryable(err))
}

func TestModelInvoker_TruncatesInputs(t *testing.T) {
	m := model.NewMockModel("m")
	spec := core.StageSpec{Name: "s", Requires: []string{"a"}, Instruction: "[{{index .Inputs \"a\"}}]"}
	ws := workspaceWith(t, "t", map[string]string{"a": "abcdefgh"})

	_, err := NewModelInvoker(m, func(o *ModelInvokerOptions) { o.MaxInputChars = 3 }).Invoke(context.Background(), spec, ws)
	require.NoError(t, err)
	assert.Equal(t, "[abc]", m.Requests()[0].Contents[0].Text())
}
