// Package ws provides a websocket implementation of stream.Transport using
// gorilla/websocket. One Transport wraps one client connection to the node
// execution backend; the multiplexer reconnects it on demand.
package ws

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hupe1980/canvasflow/core"
	"github.com/hupe1980/canvasflow/stream"
)

// Options configures the websocket transport.
type Options struct {
	// Header is sent with the websocket handshake (auth tokens etc).
	Header http.Header
	// HandshakeTimeout bounds the dial. Defaults to 15s.
	HandshakeTimeout time.Duration
	// FrameBuffer sets the inbound channel capacity. Defaults to 256.
	FrameBuffer int
}

// Transport is a stream.Transport over a websocket connection carrying JSON
// frames. Send is safe for a single writer (the multiplexer); reads happen on
// an internal pump goroutine feeding the Frames channel.
type Transport struct {
	url  string
	opts Options

	mu     sync.Mutex
	conn   *websocket.Conn
	frames chan core.Frame
	closed bool
}

var _ stream.Transport = (*Transport)(nil)

// New constructs a transport for the given ws:// or wss:// URL. No connection
// is made until Connect.
func New(url string, optFns ...func(o *Options)) *Transport {
	opts := Options{
		HandshakeTimeout: 15 * time.Second,
		FrameBuffer:      256,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Transport{url: url, opts: opts}
}

// Connect dials the backend and starts the read pump. Calling Connect on an
// already connected transport is a no-op.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return stream.ErrTransportClosed
	}
	if t.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: t.opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, t.url, t.opts.Header)
	if err != nil {
		return fmt.Errorf("websocket dial %s: %w", t.url, err)
	}

	t.conn = conn
	t.frames = make(chan core.Frame, t.opts.FrameBuffer)
	go t.readPump(conn, t.frames)
	return nil
}

// Send writes one JSON frame. Serialized with a mutex because gorilla allows
// only one concurrent writer.
func (t *Transport) Send(_ context.Context, f core.Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return stream.ErrTransportClosed
	}
	if t.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	return t.conn.WriteJSON(f)
}

// Frames returns the inbound channel for the current connection. The channel
// is closed when the connection drops.
func (t *Transport) Frames() <-chan core.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frames
}

// Close tears the connection down.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

// readPump decodes inbound JSON frames until the connection errors, then
// closes the frame channel so the multiplexer observes the drop.
func (t *Transport) readPump(conn *websocket.Conn, frames chan core.Frame) {
	defer close(frames)
	for {
		var f core.Frame
		if err := conn.ReadJSON(&f); err != nil {
			t.mu.Lock()
			if t.conn == conn {
				t.conn = nil
			}
			t.mu.Unlock()
			return
		}
		frames <- f
	}
}
