package model

import (
	"context"
	"fmt"

	"github.com/hupe1980/canvasflow/core"
)

// Request captures the normalized input of one node operation's generation.
type Request struct {
	// System is an optional system instruction.
	System string `json:"system,omitempty"`
	// Prompt is the user prompt assembled from the node's configuration.
	Prompt string `json:"prompt"`
	// Stream requests incremental partial responses.
	Stream bool `json:"stream,omitempty"`
}

// Response is a (partial or final) chunk emitted by a streaming model. The
// final response carries the full text, finish reason and usage.
type Response struct {
	Partial      bool             `json:"partial"`
	Text         string           `json:"text"`
	FinishReason string           `json:"finish_reason,omitempty"`
	Usage        *core.TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", ...
}

// Model is the interface a node execution backend drives per operation.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// MockModel is a lightweight in-memory Model useful for tests & examples.
// It replays canned completions, optionally streamed rune by rune.
type MockModel struct {
	info      Info
	responses map[string]string
	failures  map[string]error
}

// NewMockModel constructs a MockModel.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: "mock"},
		responses: make(map[string]string),
		failures:  make(map[string]error),
	}
}

// AddResponse registers a deterministic canned completion for a prompt.
func (m *MockModel) AddResponse(prompt, response string) { m.responses[prompt] = response }

// AddFailure makes generation for the given prompt fail with err.
func (m *MockModel) AddFailure(prompt string, err error) { m.failures[prompt] = err }

// Generate implements Model; emits optional streaming rune chunks then the
// final response with synthetic usage numbers.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)

		if err, ok := m.failures[req.Prompt]; ok {
			errCh <- err
			return
		}
		full, ok := m.responses[req.Prompt]
		if !ok {
			full = fmt.Sprintf("mock response for %q", req.Prompt)
		}

		if req.Stream {
			for _, r := range full {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Text: string(r)}:
				}
			}
		}

		usage := &core.TokenUsage{
			PromptTokens:     len(req.Prompt),
			CompletionTokens: len(full),
			TotalTokens:      len(req.Prompt) + len(full),
		}
		respCh <- Response{Text: full, FinishReason: "stop", Usage: usage}
	}()

	return respCh, errCh
}

// Info returns metadata describing the mock.
func (m *MockModel) Info() Info { return m.info }
