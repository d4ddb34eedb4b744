package executor

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/hupe1980/canvasflow/core"
	"github.com/hupe1980/canvasflow/logging"
	"github.com/hupe1980/canvasflow/stream"
)

// HandlerOptions configures the websocket handler.
type HandlerOptions struct {
	// Upgrader performs the websocket handshake. The default accepts any
	// origin; tighten CheckOrigin before exposing the endpoint publicly.
	Upgrader websocket.Upgrader
	// FrameBuffer sets the inbound channel capacity per connection.
	// Defaults to 256.
	FrameBuffer int
	// Logger defaults to a NoOpLogger.
	Logger logging.Logger
}

// Handler serves the executor over websocket connections. Each accepted
// connection gets its own Serve loop.
type Handler struct {
	executor *Executor
	opts     HandlerOptions
}

var _ http.Handler = (*Handler)(nil)

// NewHandler constructs an http.Handler exposing e over websockets.
func NewHandler(e *Executor, optFns ...func(o *HandlerOptions)) *Handler {
	opts := HandlerOptions{
		Upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		FrameBuffer: 256,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Handler{executor: e, opts: opts}
}

// ServeHTTP upgrades the request and runs the executor loop until the
// connection closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.opts.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.opts.Logger.Warn("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	t := newConnTransport(conn, h.opts.FrameBuffer)
	defer t.Close()

	if err := h.executor.Serve(r.Context(), t); err != nil && r.Context().Err() == nil {
		h.opts.Logger.Debug("Executor connection ended", "remote", r.RemoteAddr, "error", err)
	}
}

// connTransport adapts one accepted websocket connection to stream.Transport.
// The connection is already established, so Connect only starts the read pump.
type connTransport struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	frames chan core.Frame
	closed bool
}

var _ stream.Transport = (*connTransport)(nil)

func newConnTransport(conn *websocket.Conn, frameBuffer int) *connTransport {
	if frameBuffer <= 0 {
		frameBuffer = 256
	}
	return &connTransport{
		conn:   conn,
		frames: make(chan core.Frame, frameBuffer),
	}
}

// Connect implements stream.Transport.
func (t *connTransport) Connect(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return stream.ErrTransportClosed
	}
	go t.readPump()
	return nil
}

// Send implements stream.Transport. Serialized with a mutex because gorilla
// allows only one concurrent writer.
func (t *connTransport) Send(_ context.Context, f core.Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return stream.ErrTransportClosed
	}
	return t.conn.WriteJSON(f)
}

// Frames implements stream.Transport.
func (t *connTransport) Frames() <-chan core.Frame {
	return t.frames
}

// Close implements stream.Transport.
func (t *connTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}

func (t *connTransport) readPump() {
	defer close(t.frames)
	for {
		var f core.Frame
		if err := t.conn.ReadJSON(&f); err != nil {
			return
		}
		t.frames <- f
	}
}
