package executor_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/canvasflow/core"
	"github.com/hupe1980/canvasflow/executor"
	"github.com/hupe1980/canvasflow/model"
	"github.com/hupe1980/canvasflow/stream"
)

// serveExecutor runs e over one end of a pipe and returns the other end.
func serveExecutor(t *testing.T, e *executor.Executor) stream.Transport {
	t.Helper()
	client, server := stream.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = e.Serve(ctx, server) }()
	t.Cleanup(func() {
		cancel()
		_ = client.Close()
	})

	require.NoError(t, client.Connect(context.Background()))
	return client
}

// collectUntilTerminal drains frames for nodeID until the primary end or
// error frame arrives.
func collectUntilTerminal(t *testing.T, tr stream.Transport, nodeID string) []core.Frame {
	t.Helper()
	var frames []core.Frame
	timeout := time.After(3 * time.Second)
	for {
		select {
		case f, ok := <-tr.Frames():
			require.True(t, ok, "transport closed before terminal frame")
			if f.Payload.NodeID != nodeID {
				continue
			}
			frames = append(frames, f)
			if f.Payload.SubID == "" && (f.Type == core.FrameEnd || f.Type == core.FrameError) {
				return frames
			}
		case <-timeout:
			t.Fatalf("timed out; got %d frames", len(frames))
		}
	}
}

func TestExecutor_StreamsResponse(t *testing.T) {
	m := model.NewMockModel("test")
	m.AddResponse("say hi", "hi!")
	client := serveExecutor(t, executor.New(m))

	require.NoError(t, client.Send(context.Background(), core.NewStartFrame(core.StartRequest{
		GraphID: "g",
		NodeID:  "a",
		Config:  map[string]any{"prompt": "say hi"},
	})))

	frames := collectUntilTerminal(t, client, "a")
	last := frames[len(frames)-1]
	require.Equal(t, core.FrameEnd, last.Type)
	require.NotNil(t, last.Payload.Usage)
	assert.Equal(t, len("say hi")+len("hi!"), last.Payload.Usage.TotalTokens)

	var text strings.Builder
	for _, f := range frames[:len(frames)-1] {
		require.Equal(t, core.FrameChunk, f.Type)
		text.WriteString(f.Payload.Content)
	}
	assert.Equal(t, "hi!", text.String())
}

func TestExecutor_TitleFallbackPrompt(t *testing.T) {
	m := model.NewMockModel("test")
	m.AddResponse("node title", "fallback works")
	client := serveExecutor(t, executor.New(m))

	require.NoError(t, client.Send(context.Background(), core.NewStartFrame(core.StartRequest{
		GraphID: "g",
		NodeID:  "a",
		Title:   "node title",
	})))

	frames := collectUntilTerminal(t, client, "a")
	var text strings.Builder
	for _, f := range frames {
		text.WriteString(f.Payload.Content)
	}
	assert.Equal(t, "fallback works", text.String())
}

func TestExecutor_TemplatedPrompt(t *testing.T) {
	m := model.NewMockModel("test")
	m.AddResponse("summarize channels", "rendered")
	client := serveExecutor(t, executor.New(m))

	require.NoError(t, client.Send(context.Background(), core.NewStartFrame(core.StartRequest{
		GraphID: "g",
		NodeID:  "a",
		Config: map[string]any{
			"prompt": "summarize {{.topic}}",
			"topic":  "channels",
		},
	})))

	frames := collectUntilTerminal(t, client, "a")
	var text strings.Builder
	for _, f := range frames[:len(frames)-1] {
		text.WriteString(f.Payload.Content)
	}
	assert.Equal(t, "rendered", text.String())
}

func TestExecutor_ErrorFrame(t *testing.T) {
	m := model.NewMockModel("test")
	m.AddFailure("explode", errors.New("model exploded"))
	client := serveExecutor(t, executor.New(m))

	require.NoError(t, client.Send(context.Background(), core.NewStartFrame(core.StartRequest{
		GraphID: "g",
		NodeID:  "a",
		Config:  map[string]any{"prompt": "explode"},
	})))

	frames := collectUntilTerminal(t, client, "a")
	last := frames[len(frames)-1]
	assert.Equal(t, core.FrameError, last.Type)
	assert.Contains(t, last.Payload.Message, "model exploded")
}

func TestExecutor_FanOut(t *testing.T) {
	m := model.NewMockModel("test")
	m.AddResponse("variations", "var")
	client := serveExecutor(t, executor.New(m))

	require.NoError(t, client.Send(context.Background(), core.NewStartFrame(core.StartRequest{
		GraphID: "g",
		NodeID:  "a",
		// fan_out arrives as float64 after a JSON round trip.
		Config: map[string]any{"prompt": "variations", "fan_out": float64(2)},
	})))

	frames := collectUntilTerminal(t, client, "a")
	last := frames[len(frames)-1]
	require.Equal(t, core.FrameEnd, last.Type)
	require.Empty(t, last.Payload.SubID)

	subText := map[string]string{}
	subEnds := map[string]bool{}
	for _, f := range frames[:len(frames)-1] {
		require.NotEmpty(t, f.Payload.SubID, "fan-out frames must carry a sub id")
		switch f.Type {
		case core.FrameChunk:
			subText[f.Payload.SubID] += f.Payload.Content
		case core.FrameEnd:
			subEnds[f.Payload.SubID] = true
		}
	}
	assert.Equal(t, map[string]string{"1": "var", "2": "var"}, subText)
	assert.Equal(t, map[string]bool{"1": true, "2": true}, subEnds)

	// Aggregated usage across both sub-streams.
	require.NotNil(t, last.Payload.Usage)
	single := len("variations") + len("var")
	assert.Equal(t, 2*single, last.Payload.Usage.TotalTokens)
}

// blockingModel emits one chunk then waits for cancellation.
type blockingModel struct{}

func (blockingModel) Generate(ctx context.Context, _ model.Request) (<-chan model.Response, <-chan error) {
	respCh := make(chan model.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		defer close(respCh)
		defer close(errCh)
		respCh <- model.Response{Partial: true, Text: "x"}
		<-ctx.Done()
		errCh <- ctx.Err()
	}()
	return respCh, errCh
}

func (blockingModel) Info() model.Info { return model.Info{Name: "blocking", Provider: "mock"} }

func TestExecutor_CancelInFlight(t *testing.T) {
	client := serveExecutor(t, executor.New(blockingModel{}))

	require.NoError(t, client.Send(context.Background(), core.NewStartFrame(core.StartRequest{
		GraphID: "g",
		NodeID:  "a",
		Config:  map[string]any{"prompt": "anything"},
	})))

	// Wait for the first chunk, then cancel.
	select {
	case f := <-client.Frames():
		require.Equal(t, core.FrameChunk, f.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no chunk before cancel")
	}
	require.NoError(t, client.Send(context.Background(), core.NewCancelFrame("g", "a")))

	frames := collectUntilTerminal(t, client, "a")
	last := frames[len(frames)-1]
	assert.Equal(t, core.FrameError, last.Type)
}
