package canvasflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/canvasflow"
	"github.com/hupe1980/canvasflow/core"
	"github.com/hupe1980/canvasflow/executor"
	"github.com/hupe1980/canvasflow/model"
	"github.com/hupe1980/canvasflow/plan"
	"github.com/hupe1980/canvasflow/store"
	"github.com/hupe1980/canvasflow/stream"
)

// newCanvas wires a Canvas to an in-process executor over a pipe.
func newCanvas(t *testing.T, m model.Model, optFns ...func(o *canvasflow.Options)) *canvasflow.Canvas {
	t.Helper()
	client, server := stream.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = executor.New(m).Serve(ctx, server) }()

	c := canvasflow.New("graph-1", client, optFns...)
	t.Cleanup(func() {
		_ = c.Close()
		cancel()
	})
	return c
}

func TestCanvas_EndToEnd(t *testing.T) {
	m := model.NewMockModel("mock")
	m.AddResponse("summarize", "a summary")
	m.AddResponse("expand", "an expansion")

	st := store.NewInMemoryStore()
	c := newCanvas(t, m, func(o *canvasflow.Options) {
		o.Store = st
		o.GraceWindow = time.Hour
	})

	var chat []string
	require.NoError(t, c.OnChunk("summary", core.CallbackChat, func(ev core.ChunkEvent) {
		chat = append(chat, ev.Content)
	}))

	specs := []plan.Spec{
		{
			NodeID:  "summary",
			Request: core.StartRequest{Config: map[string]any{"prompt": "summarize"}},
		},
		{
			NodeID:    "expand",
			DependsOn: []string{"summary"},
			Request:   core.StartRequest{Config: map[string]any{"prompt": "expand"}},
		},
	}

	runID, err := c.RunAll(context.Background(), specs)
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	state, err := c.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.RunCompleted, state)

	completed, total := c.Progress()
	assert.Equal(t, 2, completed)
	assert.Equal(t, 2, total)

	sess, err := c.Session("summary")
	require.NoError(t, err)
	assert.Equal(t, "a summary", sess.Response())

	// Chunks arrived at the chat subscriber as they streamed.
	var streamed string
	for _, part := range chat {
		streamed += part
	}
	assert.Equal(t, "a summary", streamed)

	// Results were persisted before the run completed.
	result, ok := st.GetStep("graph-1", "expand")
	require.True(t, ok)
	assert.Equal(t, "an expansion", result.Response)
}

func TestCanvas_SingleNodeScope(t *testing.T) {
	m := model.NewMockModel("mock")
	m.AddResponse("only b", "b ran")
	c := newCanvas(t, m, func(o *canvasflow.Options) { o.GraceWindow = time.Hour })

	specs := []plan.Spec{
		{NodeID: "a", Request: core.StartRequest{Config: map[string]any{"prompt": "never"}}},
		{NodeID: "b", Request: core.StartRequest{Config: map[string]any{"prompt": "only b"}}},
	}

	_, err := c.Run(context.Background(), specs, plan.Request{
		Scope:   plan.ScopeSingle,
		NodeIDs: []string{"b"},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	state, err := c.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, core.RunCompleted, state)

	completed, total := c.Progress()
	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, total)

	// Node a was never touched, so it has no session.
	_, err = c.Session("a")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestCanvas_FanOutSubStreams(t *testing.T) {
	m := model.NewMockModel("mock")
	m.AddResponse("ideas", "idea")
	c := newCanvas(t, m, func(o *canvasflow.Options) { o.GraceWindow = time.Hour })

	specs := []plan.Spec{{
		NodeID: "brainstorm",
		Request: core.StartRequest{
			Config: map[string]any{"prompt": "ideas", "fan_out": 2},
		},
	}}

	_, err := c.RunAll(context.Background(), specs)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	state, err := c.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, core.RunCompleted, state)

	sess, err := c.Session("brainstorm")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"1": "idea", "2": "idea"}, sess.SubResponses())
	assert.Empty(t, sess.Response())
}
