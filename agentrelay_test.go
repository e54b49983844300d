package agentrelay

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/engine"
	"github.com/hupe1980/agentrelay/model"
	"github.com/hupe1980/agentrelay/resilience"
	"github.com/hupe1980/agentrelay/stage"
)

var tides = &stage.StaticSearcher{Documents: []stage.SearchResult{
	{Title: "Ocean tides explained", URL: "https://example.org/tides", Snippet: "Tides are driven by the gravity of the moon."},
	{Title: "Moon gravity", URL: "https://example.org/moon", Snippet: "The moon's pull causes two bulges of ocean water."},
}}

func TestAgentRelay_RunResearch(t *testing.T) {
	m := model.NewMockModel("mock")
	m.AddResponse("List three focused web-search queries, one per line, that together cover this research task:\n\nocean tides",
		"ocean tides\nmoon gravity")

	relay := New(func(o *Options) { o.Retry = resilience.NoRetry() })

	report, err := relay.RunResearch(context.Background(), m, tides, "ocean tides")
	require.NoError(t, err)

	for _, r := range report.Results {
		assert.Equal(t, core.StatusSuccess, r.Status, r.Stage)
	}
	require.NotNil(t, report.FinalArtifact)
	assert.Equal(t, stage.Proofreading, report.FinalArtifact.Stage)
	require.NotNil(t, report.Evaluation)
	assert.Equal(t, "markdown", report.Evaluation.Evaluator)

	final, err := relay.Artifacts().Get(report.RunID, engine.FinalArtifact)
	require.NoError(t, err)
	assert.Equal(t, report.FinalArtifact.Payload.Text, string(final))
}

func TestAgentRelay_SearchOutageDegradesRun(t *testing.T) {
	m := model.NewMockModel("mock")
	down := stage.SearcherFunc(func(context.Context, string, int) ([]stage.SearchResult, error) {
		return nil, errors.New("search backend down")
	})

	relay := New(func(o *Options) {
		o.Retry = resilience.NoRetry()
		o.Evaluator = nil
	})

	report, err := relay.RunResearch(context.Background(), m, down, "ocean tides")
	require.NoError(t, err)

	res, ok := report.Result(stage.Research)
	require.True(t, ok)
	assert.Equal(t, core.StatusFailed, res.Status)
	assert.True(t, report.Degraded)
	assert.Equal(t, 1, report.DegradedCount())

	// Later stages still run on the degraded research output.
	for _, name := range []string{stage.Cleaning, stage.FactChecking, stage.Writing, stage.Proofreading} {
		r, _ := report.Result(name)
		assert.Equal(t, core.StatusSuccess, r.Status, name)
	}
	require.NotNil(t, report.FinalArtifact)
	assert.Equal(t, stage.Proofreading, report.FinalArtifact.Stage)
	assert.Nil(t, report.Evaluation)
	assert.Empty(t, report.EvaluationError)
	assert.Equal(t, 0, relay.Engine().ActiveRuns())
	assert.False(t, relay.Cancel(report.RunID))
}

func TestAgentRelay_RecentRuns(t *testing.T) {
	relay := New(func(o *Options) {
		o.Retry = resilience.NoRetry()
		o.Evaluator = nil
	})

	var ids []string
	for i := 0; i < 3; i++ {
		report, err := relay.RunResearch(context.Background(), model.NewMockModel("mock"), tides, "ocean tides")
		require.NoError(t, err)
		ids = append(ids, report.RunID)
	}

	recent, err := relay.RecentRuns(2)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[2], ids[1]}, recent)

	bare := New(func(o *Options) { o.ArtifactStore = nopStore{} })
	_, err = bare.RecentRuns(0)
	assert.Error(t, err)
}

type nopStore struct{}

func (nopStore) Save(string, string, []byte) error  { return nil }
func (nopStore) Get(string, string) ([]byte, error) { return nil, core.ErrNotFound }
func (nopStore) List(string) ([]string, error)      { return nil, nil }
func (nopStore) Delete(string, string) error        { return nil }
