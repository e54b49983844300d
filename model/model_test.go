package model

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/hupe1980/agentrelay/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockModel_CannedAndEcho(t *testing.T) {
	m := NewMockModel("test-model")
	m.AddResponse("hello", "world")

	resp, err := m.Generate(context.Background(), NewRequest("be brief", "hello"))
	require.NoError(t, err)
	assert.Equal(t, "world", resp.Text)
	assert.Equal(t, "stop", resp.FinishReason)

	resp, err = m.Generate(context.Background(), NewRequest("", "other"))
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: other", resp.Text)

	reqs := m.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "be brief", reqs[0].Instructions)
	assert.Equal(t, Info{Name: "test-model", Provider: "mock"}, m.Info())
}

func TestMockModel_QueuedErrors(t *testing.T) {
	m := NewMockModel("test-model")
	boom := CapabilityError("mock", http.StatusServiceUnavailable, errors.New("overloaded"))
	m.QueueError(boom)

	_, err := m.Generate(context.Background(), NewRequest("", "x"))
	assert.ErrorIs(t, err, boom)
	assert.True(t, core.IsRetryable(err))

	_, err = m.Generate(context.Background(), NewRequest("", "x"))
	assert.NoError(t, err)
}

func TestMockModel_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMockModel("m").Generate(ctx, NewRequest("", "x"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, core.IsRetryable(err))
}

func TestCapabilityError_Classification(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{0, true},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusRequestTimeout, true},
		{http.StatusUnauthorized, false},
		{http.StatusBadRequest, false},
		{http.StatusNotFound, false},
	}
	for _, tt := range tests {
		err := CapabilityError("openai", tt.status, errors.New("x"))
		assert.Equal(t, tt.want, err.IsRetryable(), "status %d", tt.status)
	}
}
