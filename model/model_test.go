package model

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Interface compliance (compile-time assertion)
var _ Model = (*MockModel)(nil)

func drain(t *testing.T, respCh <-chan Response, errCh <-chan error) ([]Response, error) {
	t.Helper()
	var responses []Response
	for r := range respCh {
		responses = append(responses, r)
	}
	return responses, <-errCh
}

func TestMockModel_NonStreaming(t *testing.T) {
	m := NewMockModel("test-model")
	m.AddResponse("hello", "world")

	respCh, errCh := m.Generate(context.Background(), Request{Prompt: "hello"})
	responses, err := drain(t, respCh, errCh)
	require.NoError(t, err)
	require.Len(t, responses, 1)

	final := responses[0]
	assert.False(t, final.Partial)
	assert.Equal(t, "world", final.Text)
	assert.Equal(t, "stop", final.FinishReason)
	require.NotNil(t, final.Usage)
	assert.Equal(t, len("hello")+len("world"), final.Usage.TotalTokens)
}

func TestMockModel_Streaming(t *testing.T) {
	m := NewMockModel("test-model")
	m.AddResponse("hello", "abc")

	respCh, errCh := m.Generate(context.Background(), Request{Prompt: "hello", Stream: true})
	responses, err := drain(t, respCh, errCh)
	require.NoError(t, err)
	require.Len(t, responses, 4)

	var text strings.Builder
	for _, r := range responses[:3] {
		assert.True(t, r.Partial)
		text.WriteString(r.Text)
	}
	assert.Equal(t, "abc", text.String())
	assert.Equal(t, "abc", responses[3].Text)
	assert.False(t, responses[3].Partial)
}

func TestMockModel_UnknownPromptDefault(t *testing.T) {
	m := NewMockModel("test-model")
	respCh, errCh := m.Generate(context.Background(), Request{Prompt: "surprise"})
	responses, err := drain(t, respCh, errCh)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.Contains(t, responses[0].Text, "surprise")
}

func TestMockModel_Failure(t *testing.T) {
	m := NewMockModel("test-model")
	boom := errors.New("boom")
	m.AddFailure("bad", boom)

	respCh, errCh := m.Generate(context.Background(), Request{Prompt: "bad"})
	responses, err := drain(t, respCh, errCh)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, responses)
}

func TestMockModel_Info(t *testing.T) {
	m := NewMockModel("test-model")
	info := m.Info()
	assert.Equal(t, "test-model", info.Name)
	assert.Equal(t, "mock", info.Provider)
}
