package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// CallbackKind names one of the per-session subscriber slots. Each slot holds
// at most one function: setting replaces, clearing removes.
type CallbackKind string

const (
	// CallbackChat feeds the chat panel rendering of a node's response.
	CallbackChat CallbackKind = "chat"
	// CallbackCanvas feeds the canvas-side rendering of a node's response.
	CallbackCanvas CallbackKind = "canvas"
	// CallbackFinished is the single-shot completion hook. It fires exactly
	// once per operation (end or error) and is cleared after firing.
	CallbackFinished CallbackKind = "finished"
)

// ChunkEvent is delivered synchronously to chat/canvas subscribers for every
// inbound chunk frame. A non-empty SubID identifies a fan-out sub-stream.
type ChunkEvent struct {
	NodeID  string
	SubID   string
	Content string
}

// FinishedEvent is delivered once per operation when the primary stream
// terminates. Err is nil on success, ErrCancelled on cancellation, and the
// transport/backend failure otherwise.
type FinishedEvent struct {
	NodeID string
	Usage  *TokenUsage
	Err    error
}

// ChunkFunc receives streamed response fragments.
type ChunkFunc func(ChunkEvent)

// FinishedFunc receives the single-shot completion signal.
type FinishedFunc func(FinishedEvent)

// StreamSession is the bookkeeping record for one node's in-flight streaming
// operation: registered callbacks, accumulated response text, usage data, the
// streaming flag and the last error. Sessions are created lazily by the
// registry on first reference and reused across repeated operations on the
// same node; the multiplexer only ever looks one up by node id.
//
// Contract:
//   - streaming transitions false→true on Begin and true→false on the primary
//     terminal frame (or a local failure)
//   - chat/canvas callbacks are invoked synchronously, chat before canvas
//   - the finished callback fires at most once and is cleared after firing
type StreamSession struct {
	nodeID string

	mu           sync.Mutex
	chatFn       ChunkFunc
	canvasFn     ChunkFunc
	finishedFn   FinishedFunc
	response     strings.Builder
	subResponses map[string]*strings.Builder
	usage        *TokenUsage
	streaming    bool
	err          error
}

// NewStreamSession constructs an idle session for the given node.
func NewStreamSession(nodeID string) *StreamSession {
	return &StreamSession{
		nodeID:       nodeID,
		subResponses: make(map[string]*strings.Builder),
	}
}

// NodeID returns the owning node's identifier.
func (s *StreamSession) NodeID() string { return s.nodeID }

// IsStreaming reports whether an operation is currently in flight.
func (s *StreamSession) IsStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// Response returns the accumulated primary response text.
func (s *StreamSession) Response() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.response.String()
}

// SubResponses returns a copy of the accumulated fan-out sub-stream texts
// keyed by sub id.
func (s *StreamSession) SubResponses() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.subResponses))
	for id, b := range s.subResponses {
		out[id] = b.String()
	}
	return out
}

// Usage returns the usage data stored by the last primary end frame, or nil.
func (s *StreamSession) Usage() *TokenUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// Err returns the last recorded error, or nil.
func (s *StreamSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// SetChunkCallback registers the chat or canvas subscriber slot, replacing any
// previous value. Kind must be CallbackChat or CallbackCanvas.
func (s *StreamSession) SetChunkCallback(kind CallbackKind, fn ChunkFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch kind {
	case CallbackChat:
		s.chatFn = fn
	case CallbackCanvas:
		s.canvasFn = fn
	default:
		return fmt.Errorf("callback kind %q does not accept chunk callbacks", kind)
	}
	return nil
}

// SetFinishedCallback registers the single-shot completion hook, replacing any
// previous value.
func (s *StreamSession) SetFinishedCallback(fn FinishedFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishedFn = fn
}

// ClearCallback removes the given subscriber slot.
func (s *StreamSession) ClearCallback(kind CallbackKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch kind {
	case CallbackChat:
		s.chatFn = nil
	case CallbackCanvas:
		s.canvasFn = nil
	case CallbackFinished:
		s.finishedFn = nil
	}
}

// Begin marks the session streaming for a new operation and clears the
// previous response, usage and error. It reports false when an operation is
// already in flight, in which case the session is left untouched — an active
// session is never reset.
func (s *StreamSession) Begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streaming {
		return false
	}
	s.streaming = true
	s.err = nil
	s.usage = nil
	s.response.Reset()
	s.subResponses = make(map[string]*strings.Builder)
	return true
}

// ApplyChunk appends an inbound fragment and fans it out to the chat and
// canvas subscribers, in that order, synchronously. Fragments with a sub id
// accumulate into their own sub-stream buffer and are passed through to the
// subscribers without being merged into the primary response.
func (s *StreamSession) ApplyChunk(ev ChunkEvent) {
	s.mu.Lock()
	if ev.SubID == "" {
		s.response.WriteString(ev.Content)
	} else {
		b, ok := s.subResponses[ev.SubID]
		if !ok {
			b = &strings.Builder{}
			s.subResponses[ev.SubID] = b
		}
		b.WriteString(ev.Content)
	}
	chatFn, canvasFn := s.chatFn, s.canvasFn
	s.mu.Unlock()

	if chatFn != nil {
		chatFn(ev)
	}
	if canvasFn != nil {
		canvasFn(ev)
	}
}

// Finish handles the primary terminal end frame: stores usage, flips the
// streaming flag and fires the finished callback exactly once. Finishing an
// already idle session only delivers the (still pending) callback, if any.
func (s *StreamSession) Finish(usage *TokenUsage) {
	s.mu.Lock()
	s.streaming = false
	s.usage = usage
	fn := s.finishedFn
	s.finishedFn = nil
	s.mu.Unlock()

	if fn != nil {
		fn(FinishedEvent{NodeID: s.nodeID, Usage: usage})
	}
}

// FinishSub terminates a single fan-out sub-stream. It must not flip the
// streaming flag or fire the finished callback for the parent.
func (s *StreamSession) FinishSub(subID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subResponses[subID]; !ok {
		s.subResponses[subID] = &strings.Builder{}
	}
}

// Fail records a terminal error, flips the streaming flag and fires the
// finished callback exactly once. Cancellation reuses this path with
// ErrCancelled.
func (s *StreamSession) Fail(err error) {
	s.mu.Lock()
	s.streaming = false
	s.err = err
	fn := s.finishedFn
	s.finishedFn = nil
	s.mu.Unlock()

	if fn != nil {
		fn(FinishedEvent{NodeID: s.nodeID, Err: err})
	}
}

// SessionRegistry owns the node id → session mapping. The zero-value session
// returned by Ensure is idle with an empty response; Ensure never resets an
// active session. Get surfaces ErrSessionNotFound instead of fabricating
// state.
type SessionRegistry interface {
	Ensure(nodeID string) *StreamSession
	Get(nodeID string) (*StreamSession, error)
}

// StreamStarter is the outbound surface of the stream multiplexer used by the
// scheduler: start a node operation, or cancel one best-effort.
type StreamStarter interface {
	Start(ctx context.Context, req StartRequest) (*StreamSession, error)
	Cancel(ctx context.Context, graphID, nodeID string) error
}
