package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/canvasflow/core"
)

// Interface compliance (compile-time assertion)
var _ core.SessionRegistry = (*Registry)(nil)

func TestRegistry_EnsureIsLazyAndStable(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, 0, r.Len())

	s1 := r.Ensure("a")
	s2 := r.Ensure("a")
	assert.Same(t, s1, s2)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_EnsureNeverResetsActive(t *testing.T) {
	r := NewRegistry()
	s := r.Ensure("a")
	require.True(t, s.Begin())
	s.ApplyChunk(core.ChunkEvent{NodeID: "a", Content: "partial"})

	again := r.Ensure("a")
	assert.Same(t, s, again)
	assert.Equal(t, "partial", again.Response())
	assert.True(t, again.IsStreaming())
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("missing")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestRegistry_SetCallbackTypeChecks(t *testing.T) {
	r := NewRegistry()

	var chunks []string
	err := r.SetCallback("a", core.CallbackChat, core.ChunkFunc(func(ev core.ChunkEvent) {
		chunks = append(chunks, ev.Content)
	}))
	require.NoError(t, err)

	// Wrong function type for the slot.
	err = r.SetCallback("a", core.CallbackCanvas, core.FinishedFunc(func(core.FinishedEvent) {}))
	assert.Error(t, err)
	err = r.SetCallback("a", core.CallbackFinished, core.ChunkFunc(func(core.ChunkEvent) {}))
	assert.Error(t, err)
	err = r.SetCallback("a", core.CallbackKind("bogus"), core.ChunkFunc(func(core.ChunkEvent) {}))
	assert.Error(t, err)

	sess, err := r.Get("a")
	require.NoError(t, err)
	sess.Begin()
	sess.ApplyChunk(core.ChunkEvent{NodeID: "a", Content: "x"})
	assert.Equal(t, []string{"x"}, chunks)
}

func TestRegistry_ClearCallback(t *testing.T) {
	r := NewRegistry()
	assert.ErrorIs(t, r.ClearCallback("missing", core.CallbackChat), core.ErrSessionNotFound)

	var calls int
	require.NoError(t, r.SetCallback("a", core.CallbackChat, core.ChunkFunc(func(core.ChunkEvent) { calls++ })))
	require.NoError(t, r.ClearCallback("a", core.CallbackChat))

	sess, _ := r.Get("a")
	sess.Begin()
	sess.ApplyChunk(core.ChunkEvent{NodeID: "a", Content: "x"})
	assert.Equal(t, 0, calls)
}

func TestRegistry_ConcurrentEnsure(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Ensure("shared")
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, r.Len())
}
