package session

import (
	"fmt"
	"sync"

	"github.com/hupe1980/canvasflow/core"
)

// Registry is the in-memory core.SessionRegistry implementation: a process
// local map from node id to streaming session. It is safe for concurrent
// access and is the sole owner of session records; the multiplexer only holds
// a lookup relation by node id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*core.StreamSession
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*core.StreamSession)}
}

// Ensure returns the existing session for nodeID or lazily creates a default
// idle one. Safe to call repeatedly; it never resets an active session.
func (r *Registry) Ensure(nodeID string) *core.StreamSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[nodeID]; ok {
		return sess
	}
	sess := core.NewStreamSession(nodeID)
	r.sessions[nodeID] = sess
	return sess
}

// Get returns the session for nodeID or core.ErrSessionNotFound. It never
// fabricates state, so callers can surface the miss as a user-visible error.
func (r *Registry) Get(nodeID string) (*core.StreamSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[nodeID]
	if !ok {
		return nil, fmt.Errorf("node %q: %w", nodeID, core.ErrSessionNotFound)
	}
	return sess, nil
}

// SetCallback registers a callback in the given slot of nodeID's session,
// creating the session if needed. Setting replaces any previous value. The fn
// must be a core.ChunkFunc for the chat/canvas kinds and a core.FinishedFunc
// for the finished kind.
func (r *Registry) SetCallback(nodeID string, kind core.CallbackKind, fn any) error {
	sess := r.Ensure(nodeID)
	switch kind {
	case core.CallbackChat, core.CallbackCanvas:
		cb, ok := fn.(core.ChunkFunc)
		if !ok {
			return fmt.Errorf("callback for kind %q must be a core.ChunkFunc, got %T", kind, fn)
		}
		return sess.SetChunkCallback(kind, cb)
	case core.CallbackFinished:
		cb, ok := fn.(core.FinishedFunc)
		if !ok {
			return fmt.Errorf("callback for kind %q must be a core.FinishedFunc, got %T", kind, fn)
		}
		sess.SetFinishedCallback(cb)
		return nil
	default:
		return fmt.Errorf("unknown callback kind %q", kind)
	}
}

// ClearCallback removes the given slot from nodeID's session. Clearing a slot
// on an unknown node surfaces core.ErrSessionNotFound.
func (r *Registry) ClearCallback(nodeID string, kind core.CallbackKind) error {
	sess, err := r.Get(nodeID)
	if err != nil {
		return err
	}
	sess.ClearCallback(kind)
	return nil
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
