package stage

import (
	"fmt"

	"github.com/hupe1980/agentrelay/core"
)

// Placeholder returns a fallback that always yields text. The payload stays
// usable, so a skipped stage with a placeholder may become the final artifact.
func Placeholder(text string) core.FallbackFunc {
	return func(spec core.StageSpec, _ core.WorkspaceView, _ error) core.Payload {
		return core.NewTextPayload(spec.Kind, text)
	}
}

// TaskEcho returns a fallback that restates the original task.
func TaskEcho() core.FallbackFunc {
	return func(spec core.StageSpec, ws core.WorkspaceView, _ error) core.Payload {
		return core.NewTextPayload(spec.Kind, ws.Task())
	}
}

// Unusable returns a fallback whose output is never chosen as the final
// artifact.
func Unusable(reason string) core.FallbackFunc {
	return func(spec core.StageSpec, _ core.WorkspaceView, _ error) core.Payload {
		return core.Payload{Kind: spec.Kind, Text: reason, Unusable: true}
	}
}

// PassThrough returns a fallback that reuses the output of an earlier stage.
// When that output is absent or unusable the result is unusable too.
func PassThrough(stage string) core.FallbackFunc {
	return func(spec core.StageSpec, ws core.WorkspaceView, cause error) core.Payload {
		p, ok := ws.Get(stage)
		if !ok || !p.Usable() {
			return DefaultFallback(spec, ws, cause)
		}
		p.Kind = spec.Kind
		return p
	}
}

// DefaultFallback yields an unusable marker naming the stage and the cause.
func DefaultFallback(spec core.StageSpec, _ core.WorkspaceView, cause error) core.Payload {
	text := fmt.Sprintf("[%s unavailable]", spec.Name)
	if cause != nil {
		text = fmt.Sprintf("[%s unavailable: %v]", spec.Name, cause)
	}
	return core.Payload{Kind: spec.Kind, Text: text, Unusable: true}
}
