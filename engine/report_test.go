package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
)

func payload(text string, unusable bool) *core.Payload {
	return &core.Payload{Kind: core.KindText, Text: text, Degraded: true, Unusable: unusable}
}

func TestFinalArtifact(t *testing.T) {
	ok := core.NewTextPayload(core.KindReport, "report")

	tests := []struct {
		name    string
		results []core.StageResult
		want    string
	}{
		{
			name: "last success",
			results: []core.StageResult{
				{Stage: "A", Status: core.StatusSuccess, Output: &ok},
				{Stage: "B", Status: core.StatusFailed, Output: payload("fallback", false), Err: context.DeadlineExceeded},
			},
			want: "A",
		},
		{
			name: "skipped stage with usable fallback",
			results: []core.StageResult{
				{Stage: "A", Status: core.StatusSuccess, Output: &ok},
				{Stage: "B", Status: core.StatusSkipped, Output: payload("placeholder", false)},
			},
			want: "B",
		},
		{
			name: "skipped stage with unusable fallback",
			results: []core.StageResult{
				{Stage: "A", Status: core.StatusSuccess, Output: &ok},
				{Stage: "B", Status: core.StatusSkipped, Output: payload("", true)},
			},
			want: "A",
		},
		{
			name: "cancelled stages are ignored",
			results: []core.StageResult{
				{Stage: "A", Status: core.StatusSuccess, Output: &ok},
				{Stage: "B", Status: core.StatusSkipped, Cancelled: true},
			},
			want: "A",
		},
		{
			name: "short circuit fallback never qualifies",
			results: []core.StageResult{
				{Stage: "A", Status: core.StatusShortCircuited, Output: payload("fallback", false)},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := finalArtifact(tt.results)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Stage)
		})
	}
}
