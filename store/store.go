// Package store provides persistence for finished step results. The
// in-memory implementation backs tests and single-process deployments; the
// redis subpackage persists results across restarts.
package store

import (
	"context"
	"sync"

	"github.com/hupe1980/canvasflow/core"
)

// InMemoryStore keeps step results in a map keyed by graph and node. Safe for
// concurrent use.
type InMemoryStore struct {
	mu      sync.RWMutex
	results map[string]core.StepResult
}

var _ core.PlanStore = (*InMemoryStore)(nil)

// NewInMemoryStore constructs an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{results: make(map[string]core.StepResult)}
}

// SaveStep implements core.PlanStore. A later result for the same node
// replaces the earlier one.
func (s *InMemoryStore) SaveStep(_ context.Context, result core.StepResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[stepKey(result.GraphID, result.NodeID)] = result
	return nil
}

// GetStep returns the saved result for a node, if any.
func (s *InMemoryStore) GetStep(graphID, nodeID string) (core.StepResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[stepKey(graphID, nodeID)]
	return r, ok
}

// Len returns the number of saved results.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}

func stepKey(graphID, nodeID string) string {
	return graphID + ":" + nodeID
}
