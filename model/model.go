package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/hupe1980/agentrelay/core"
)

// Request captures the normalized model input produced by invokers.
type Request struct {
	Instructions string         `json:"instructions"` // System prompt
	Contents     []core.Content `json:"contents"`     // Conversation turns, usually one user turn
}

// NewRequest builds a request with a single user turn.
func NewRequest(instructions, prompt string) Request {
	return Request{
		Instructions: instructions,
		Contents:     []core.Content{core.NewTextContent("user", prompt)},
	}
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a completed model generation.
type Response struct {
	ID           string      `json:"id"`
	Text         string      `json:"text"`
	FinishReason string      `json:"finish_reason"` // "stop", "length", ...
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", etc.
}

// Model is the minimal interface required by invokers & evaluators.
type Model interface {
	Generate(ctx context.Context, req Request) (*Response, error)

	// Info returns information about the model implementation.
	Info() Info
}

// IsTransientStatus reports whether an HTTP status from a provider is worth
// retrying: request timeouts, conflicts, rate limits and server errors.
func IsTransientStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout,
		code == http.StatusConflict,
		code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}

// CapabilityError wraps a provider failure. statusCode is 0 when the failure
// happened before an HTTP response (network error, timeout), which is
// treated as transient.
func CapabilityError(provider string, statusCode int, err error) *core.CapabilityError {
	terminal := statusCode != 0 && !IsTransientStatus(statusCode)
	if errors.Is(err, context.Canceled) {
		terminal = true
	}
	return &core.CapabilityError{
		Capability: provider,
		Cause:      err,
		Terminal:   terminal,
	}
}

// MockModel is a lightweight in-memory Model useful for tests & examples.
// Queued errors are returned first, one per call; then canned responses keyed
// by the last user text, falling back to an echo.
type MockModel struct {
	info Info

	mu        sync.Mutex
	responses map[string]string
	errs      []error
	requests  []Request
}

// NewMockModel constructs a MockModel.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: "mock"},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// QueueError makes the next call fail with err. Errors queue in order.
func (m *MockModel) QueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, err)
}

// Requests returns the requests seen so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Generate implements Model.
func (m *MockModel) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, CapabilityError(m.info.Provider, 0, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)

	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return nil, err
	}
	if len(req.Contents) == 0 {
		return nil, &core.CapabilityError{Capability: m.info.Provider, Cause: fmt.Errorf("no contents provided"), Terminal: true}
	}

	input := strings.TrimSpace(req.Contents[len(req.Contents)-1].Text())
	full, ok := m.responses[input]
	if !ok {
		full = "Mock response to: " + input
	}
	return &Response{Text: full, FinishReason: "stop"}, nil
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }
