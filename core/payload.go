package core

import "strings"

// Kind tags the category of a stage output so downstream stages can switch
// on it instead of inspecting arbitrary maps.
type Kind string

const (
	// KindPlan is an outline or research plan.
	KindPlan Kind = "plan"
	// KindSources is a list of retrieved sources or search hits.
	KindSources Kind = "sources"
	// KindFacts is a cleaned or verified set of statements.
	KindFacts Kind = "facts"
	// KindReport is a written (markdown) report.
	KindReport Kind = "report"
	// KindScores is a set of numeric judgements.
	KindScores Kind = "scores"
	// KindText is free-form text without further structure.
	KindText Kind = "text"
)

// Payload is the output of one stage. Text carries the primary rendering,
// Data optional structured values.
//
// Degraded marks output produced by a fallback generator rather than the
// stage's real invoker. Unusable additionally tells the engine the payload
// must never be chosen as a run's final artifact.
type Payload struct {
	Kind     Kind           `json:"kind"`
	Text     string         `json:"text,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Degraded bool           `json:"degraded,omitempty"`
	Unusable bool           `json:"unusable,omitempty"`
}

// NewTextPayload returns a usable payload carrying text.
func NewTextPayload(kind Kind, text string) Payload {
	return Payload{Kind: kind, Text: text}
}

// NewDataPayload returns a usable payload carrying structured data. The map is
// copied so later mutation by the caller does not leak into a workspace.
func NewDataPayload(kind Kind, data map[string]any) Payload {
	return Payload{Kind: kind, Data: copyData(data)}
}

// Usable reports whether the payload may serve as a final artifact.
func (p Payload) Usable() bool { return !p.Unusable }

// IsEmpty reports whether the payload carries neither text nor data.
func (p Payload) IsEmpty() bool {
	return strings.TrimSpace(p.Text) == "" && len(p.Data) == 0
}

// Clone returns a copy whose Data map is independent of the receiver.
func (p Payload) Clone() Payload {
	p.Data = copyData(p.Data)
	return p
}

func copyData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	cp := make(map[string]any, len(data))
	for k, v := range data {
		cp[k] = v
	}
	return cp
}
