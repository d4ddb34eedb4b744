package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/canvasflow/core"
)

func TestInMemoryStore_SaveAndGet(t *testing.T) {
	s := NewInMemoryStore()

	_, ok := s.GetStep("g", "a")
	assert.False(t, ok)

	result := core.StepResult{
		GraphID:    "g",
		NodeID:     "a",
		Response:   "answer",
		Usage:      &core.TokenUsage{TotalTokens: 3},
		FinishedAt: time.Now(),
	}
	require.NoError(t, s.SaveStep(context.Background(), result))

	got, ok := s.GetStep("g", "a")
	require.True(t, ok)
	assert.Equal(t, "answer", got.Response)
	assert.Equal(t, 1, s.Len())
}

func TestInMemoryStore_LaterSaveWins(t *testing.T) {
	s := NewInMemoryStore()
	require.NoError(t, s.SaveStep(context.Background(), core.StepResult{GraphID: "g", NodeID: "a", Response: "v1"}))
	require.NoError(t, s.SaveStep(context.Background(), core.StepResult{GraphID: "g", NodeID: "a", Response: "v2"}))

	got, ok := s.GetStep("g", "a")
	require.True(t, ok)
	assert.Equal(t, "v2", got.Response)
	assert.Equal(t, 1, s.Len())
}

func TestInMemoryStore_KeysScopedByGraph(t *testing.T) {
	s := NewInMemoryStore()
	require.NoError(t, s.SaveStep(context.Background(), core.StepResult{GraphID: "g1", NodeID: "a", Response: "one"}))
	require.NoError(t, s.SaveStep(context.Background(), core.StepResult{GraphID: "g2", NodeID: "a", Response: "two"}))

	got, ok := s.GetStep("g2", "a")
	require.True(t, ok)
	assert.Equal(t, "two", got.Response)
	assert.Equal(t, 2, s.Len())
}

func TestInMemoryStore_ConcurrentAccess(t *testing.T) {
	s := NewInMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.SaveStep(context.Background(), core.StepResult{GraphID: "g", NodeID: "a", Response: "r"})
			s.GetStep("g", "a")
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, s.Len())
}
