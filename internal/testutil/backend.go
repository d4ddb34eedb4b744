package testutil

import (
	"context"
	"sync"

	"github.com/hupe1980/canvasflow/core"
	"github.com/hupe1980/canvasflow/stream"
)

// Script describes how the scripted backend answers one node's start frame.
type Script struct {
	// Chunks are emitted in order as chunk frames.
	Chunks []string
	// SubChunks maps sub-stream ids to their chunk sequences. Every
	// sub-stream gets its own end frame before the primary terminal frame.
	SubChunks map[string][]string
	// Usage is attached to the end frame.
	Usage *core.TokenUsage
	// Err, when non-empty, replaces the end frame with an error frame.
	Err string
	// Silent suppresses all frames for the node, leaving the session
	// in flight until the caller intervenes or a watchdog fires.
	Silent bool
}

// ScriptedBackend plays the far side of the wire protocol in tests: it reads
// start frames from a transport and answers each according to its script.
// Unknown nodes get a single chunk and a clean end frame.
type ScriptedBackend struct {
	mu      sync.Mutex
	scripts map[string]Script
	started []string
	stopped []string
}

// NewScriptedBackend constructs an empty backend.
func NewScriptedBackend() *ScriptedBackend {
	return &ScriptedBackend{scripts: make(map[string]Script)}
}

// ScriptNode sets the script for a node (chainable).
func (b *ScriptedBackend) ScriptNode(nodeID string, s Script) *ScriptedBackend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scripts[nodeID] = s
	return b
}

// Started returns the node ids whose start frames arrived, in order.
func (b *ScriptedBackend) Started() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.started...)
}

// Cancelled returns the node ids whose cancel frames arrived, in order.
func (b *ScriptedBackend) Cancelled() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.stopped...)
}

// Serve drains t's inbound frames until the transport closes or ctx expires.
// Run it on its own goroutine.
func (b *ScriptedBackend) Serve(ctx context.Context, t stream.Transport) {
	if err := t.Connect(ctx); err != nil {
		return
	}
	frames := t.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			switch f.Type {
			case core.FrameStartStream:
				b.mu.Lock()
				b.started = append(b.started, f.Payload.NodeID)
				script := b.scripts[f.Payload.NodeID]
				b.mu.Unlock()
				b.play(ctx, t, f.Payload.NodeID, script)
			case core.FrameCancelStream:
				b.mu.Lock()
				b.stopped = append(b.stopped, f.Payload.NodeID)
				b.mu.Unlock()
			}
		}
	}
}

func (b *ScriptedBackend) play(ctx context.Context, t stream.Transport, nodeID string, s Script) {
	if s.Silent {
		return
	}

	if s.Chunks == nil && s.SubChunks == nil && s.Err == "" {
		s.Chunks = []string{"ok"}
	}

	for _, c := range s.Chunks {
		_ = t.Send(ctx, core.NewChunkFrame(nodeID, "", c))
	}
	for subID, chunks := range s.SubChunks {
		for _, c := range chunks {
			_ = t.Send(ctx, core.NewChunkFrame(nodeID, subID, c))
		}
		_ = t.Send(ctx, core.NewEndFrame(nodeID, subID, nil))
	}

	if s.Err != "" {
		_ = t.Send(ctx, core.NewErrorFrame(nodeID, s.Err))
		return
	}
	_ = t.Send(ctx, core.NewEndFrame(nodeID, "", s.Usage))
}
