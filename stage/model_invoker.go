package stage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/internal/util"
	"github.com/hupe1980/agentrelay/model"
)

// ErrEmptyOutput is the cause reported when a capability returns nothing.
var ErrEmptyOutput = errors.New("capability returned empty output")

// TemplateData is the value stage instructions are rendered against.
type TemplateData struct {
	Task   string
	Inputs map[string]string
}

// ModelInvokerOptions configures a ModelInvoker.
type ModelInvokerOptions struct {
	// SystemPrompt is sent as the model's system instructions.
	SystemPrompt string
	// MaxInputChars truncates each upstream input; 0 means no limit.
	MaxInputChars int
}

// ModelInvoker asks a language model to produce a stage's output.
type ModelInvoker struct {
	model         model.Model
	systemPrompt  string
	maxInputChars int
}

// NewModelInvoker creates an invoker backed by m.
//
// The stage's Instruction is rendered as a text/template over TemplateData.
// Instructions without template markers get the task and every required
// input appended as markdown sections instead.
func NewModelInvoker(m model.Model, optFns ...func(o *ModelInvokerOptions)) *ModelInvoker {
	opts := ModelInvokerOptions{
		SystemPrompt: "You are one stage of a research pipeline. Produce only the requested output.",
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &ModelInvoker{
		model:         m,
		systemPrompt:  opts.SystemPrompt,
		maxInputChars: opts.MaxInputChars,
	}
}

// Invoke implements core.Invoker.
func (i *ModelInvoker) Invoke(ctx context.Context, spec core.StageSpec, ws core.WorkspaceView) (core.Payload, error) {
	inputs, err := collectInputs(spec, ws, i.maxInputChars)
	if err != nil {
		return core.Payload{}, err
	}

	prompt, err := renderPrompt(spec, ws.Task(), inputs)
	if err != nil {
		return core.Payload{}, err
	}

	resp, err := i.model.Generate(ctx, model.NewRequest(i.systemPrompt, prompt))
	if err != nil {
		return core.Payload{}, capabilityError(spec.Name, i.model.Info().Provider, err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return core.Payload{}, &core.CapabilityError{
			Stage:      spec.Name,
			Capability: i.model.Info().Provider,
			Cause:      ErrEmptyOutput,
		}
	}

	return core.NewTextPayload(spec.Kind, text), nil
}

// collectInputs returns the text of every required upstream output, or a
// ValidationError naming the absent ones. Degraded inputs are passed on.
func collectInputs(spec core.StageSpec, ws core.WorkspaceView, maxChars int) (map[string]string, error) {
	var missing []string
	inputs := make(map[string]string, len(spec.Requires))
	for _, name := range spec.Requires {
		p, ok := ws.Get(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		inputs[name] = truncate(PayloadText(p), maxChars)
	}
	if len(missing) > 0 {
		return nil, &core.ValidationError{Stage: spec.Name, Missing: missing}
	}
	return inputs, nil
}

func renderPrompt(spec core.StageSpec, task string, inputs map[string]string) (string, error) {
	if strings.Contains(spec.Instruction, "{{") {
		out, err := util.RenderTemplate(spec.Instruction, TemplateData{Task: task, Inputs: inputs})
		if err != nil {
			return "", &core.ValidationError{Stage: spec.Name, Reason: err.Error()}
		}
		return out, nil
	}

	var b strings.Builder
	b.WriteString(spec.Instruction)
	fmt.Fprintf(&b, "\n\n## Task\n%s\n", task)
	for _, name := range spec.Requires {
		fmt.Fprintf(&b, "\n## %s\n%s\n", name, inputs[name])
	}
	return b.String(), nil
}

// capabilityError attaches the stage name to a provider error, wrapping
// errors that are not capability errors yet.
func capabilityError(stage, capability string, err error) error {
	var ce *core.CapabilityError
	if errors.As(err, &ce) {
		if ce.Stage == "" {
			ce.Stage = stage
		}
		return err
	}
	return &core.CapabilityError{Stage: stage, Capability: capability, Cause: err}
}

// PayloadText returns the text a downstream stage should read from p.
func PayloadText(p core.Payload) string {
	if p.Text != "" {
		return p.Text
	}
	if len(p.Data) == 0 {
		return ""
	}
	return fmt.Sprint(p.Data)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}
