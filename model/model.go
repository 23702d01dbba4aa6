package model

import (
	"context"
	"fmt"
	"sync"
)

// Request captures the normalized model input produced by an agent: an
// optional system instruction plus the rendered user input.
type Request struct {
	System string `json:"system,omitempty"`
	Input  string `json:"input"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the completed model output. Generation is synchronous: the
// engine's only suspension point is the blocking agent call, so there is no
// streaming surface here.
type Response struct {
	Text         string      `json:"text"`
	FinishReason string      `json:"finish_reason,omitempty"`
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", etc.
}

// Model is the minimal interface required to drive text generation.
// Implementations must be safe for concurrent use; distinct parallel
// workflow branches may share one instance.
type Model interface {
	Generate(ctx context.Context, req *Request) (*Response, error)

	// Info returns information about the model implementation.
	Info() Info
}

// MockModel is a lightweight in-memory Model useful for tests & examples.
// It maps exact input strings to canned completions and echoes unknown
// inputs.
type MockModel struct {
	mu        sync.RWMutex
	info      Info
	responses map[string]string
}

// NewMockModel constructs a MockModel.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: "mock"},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input.
func (m *MockModel) AddResponse(input, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[input] = response
}

// Generate implements Model; unknown inputs are echoed back.
func (m *MockModel) Generate(_ context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if resp, ok := m.responses[req.Input]; ok {
		return &Response{Text: resp, FinishReason: "stop"}, nil
	}
	return &Response{Text: req.Input, FinishReason: "stop"}, nil
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }
