package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/canvasflow/core"
	"github.com/hupe1980/canvasflow/logging"
)

// Options configures a Mux.
type Options struct {
	// StaleAfter is the watchdog silence window: an in-flight session that
	// receives no frame for this long is failed locally with
	// core.ErrConnectionLost. The wire protocol itself mandates no timeout,
	// so this local backstop is what guarantees liveness.
	StaleAfter time.Duration

	// WatchInterval is how often the watchdog sweeps. Defaults to a quarter
	// of StaleAfter.
	WatchInterval time.Duration

	// Logger defaults to a NoOpLogger.
	Logger logging.Logger
}

// Mux owns the single shared transport and demultiplexes inbound frames to
// sessions keyed by node id. It connects on demand, enforces at-most-one
// in-flight operation per node, reconnects once after a drop and runs the
// stale-session watchdog.
//
// Frames for a given node are assumed to arrive in send order; the Mux takes
// no reordering responsibility.
type Mux struct {
	sessions  core.SessionRegistry
	transport Transport

	staleAfter    time.Duration
	watchInterval time.Duration
	logger        logging.Logger

	mu           sync.Mutex
	connected    bool
	closed       bool
	watchStarted bool
	active       map[string]time.Time // node id → last frame seen
	done         chan struct{}
}

// NewMux constructs a Mux over the given transport. The transport is not
// connected until the first Start.
func NewMux(sessions core.SessionRegistry, transport Transport, optFns ...func(o *Options)) *Mux {
	opts := Options{
		StaleAfter: 30 * time.Second,
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.WatchInterval <= 0 {
		opts.WatchInterval = opts.StaleAfter / 4
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	return &Mux{
		sessions:      sessions,
		transport:     transport,
		staleAfter:    opts.StaleAfter,
		watchInterval: opts.WatchInterval,
		logger:        opts.Logger,
		active:        make(map[string]time.Time),
		done:          make(chan struct{}),
	}
}

// Start launches a node operation: ensures the transport is connected, marks
// the session streaming and sends the typed start frame. If an operation for
// the node is already in flight the existing session is returned unchanged —
// at most one concurrent operation per node id.
//
// On a connect or send failure the session is failed (firing its finished
// callback) and the error is also returned.
func (m *Mux) Start(ctx context.Context, req core.StartRequest) (*core.StreamSession, error) {
	sess := m.sessions.Ensure(req.NodeID)
	if !sess.Begin() {
		m.logger.Debug("Start ignored, operation already in flight", "node_id", req.NodeID)
		return sess, nil
	}

	if err := m.ensureConnected(ctx); err != nil {
		sess.Fail(err)
		return nil, err
	}

	if err := m.transport.Send(ctx, core.NewStartFrame(req)); err != nil {
		err = fmt.Errorf("send start frame for node %q: %w", req.NodeID, err)
		sess.Fail(err)
		return nil, err
	}

	m.mu.Lock()
	m.active[req.NodeID] = time.Now()
	m.mu.Unlock()

	m.logger.Debug("Node operation started", "node_id", req.NodeID, "graph_id", req.GraphID)
	return sess, nil
}

// Cancel sends a best-effort cancel frame and fails the session with
// core.ErrCancelled. Cancelling a node with no in-flight operation (including
// one that already completed) is a no-op, not an error. The backend may still
// deliver a terminal frame afterwards; the session's at-most-once finished
// contract makes that harmless.
func (m *Mux) Cancel(ctx context.Context, graphID, nodeID string) error {
	sess, err := m.sessions.Get(nodeID)
	if err != nil || !sess.IsStreaming() {
		return nil
	}

	m.mu.Lock()
	connected := m.connected
	delete(m.active, nodeID)
	m.mu.Unlock()

	if connected {
		if err := m.transport.Send(ctx, core.NewCancelFrame(graphID, nodeID)); err != nil {
			m.logger.Warn("Failed to send cancel frame", "node_id", nodeID, "error", err)
		}
	}

	sess.Fail(core.ErrCancelled)
	return nil
}

// Close shuts the multiplexer down, closing the transport and failing any
// remaining in-flight sessions.
func (m *Mux) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.done)
	m.mu.Unlock()

	err := m.transport.Close()
	m.failActive(core.ErrConnectionLost)
	return err
}

// ensureConnected connects the transport on first use (or after a drop) and
// spawns the read loop and watchdog.
func (m *Mux) ensureConnected(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrTransportClosed
	}
	if m.connected {
		return nil
	}
	if err := m.transport.Connect(ctx); err != nil {
		return fmt.Errorf("transport connect: %w", err)
	}
	m.connected = true
	go m.readLoop(m.transport.Frames())
	if !m.watchStarted {
		m.watchStarted = true
		go m.watch()
	}
	return nil
}

// readLoop drains one connection's inbound frames. When the channel closes
// the connection has dropped.
func (m *Mux) readLoop(frames <-chan core.Frame) {
	for f := range frames {
		m.handleFrame(f)
	}
	m.onDisconnect()
}

// onDisconnect reacts to a dropped connection: one immediate reconnect
// attempt so the backend can replay terminal frames; if that fails every
// in-flight session observes a local ErrConnectionLost. Sessions that stay
// silent after a successful reconnect are caught by the watchdog.
func (m *Mux) onDisconnect() {
	m.mu.Lock()
	m.connected = false
	if m.closed {
		m.mu.Unlock()
		return
	}
	hasActive := len(m.active) > 0
	m.mu.Unlock()

	m.logger.Warn("Transport connection dropped", "in_flight", hasActive)
	if !hasActive {
		return
	}
	if err := m.reconnect(); err != nil {
		m.logger.Error("Reconnect failed, failing in-flight sessions", "error", err)
		m.failActive(core.ErrConnectionLost)
	}
}

func (m *Mux) reconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.connected {
		return nil
	}
	if err := m.transport.Connect(context.Background()); err != nil {
		return err
	}
	m.connected = true
	go m.readLoop(m.transport.Frames())
	return nil
}

// handleFrame routes one inbound frame to the owning session.
func (m *Mux) handleFrame(f core.Frame) {
	nodeID := f.Payload.NodeID
	sess, err := m.sessions.Get(nodeID)
	if err != nil {
		m.logger.Warn("Dropping frame for unknown session", "node_id", nodeID, "frame_type", string(f.Type))
		return
	}

	m.mu.Lock()
	if _, ok := m.active[nodeID]; ok {
		m.active[nodeID] = time.Now()
	}
	m.mu.Unlock()

	switch f.Type {
	case core.FrameChunk:
		sess.ApplyChunk(core.ChunkEvent{NodeID: nodeID, SubID: f.Payload.SubID, Content: f.Payload.Content})

	case core.FrameEnd:
		// A sub-stream end terminates only that sub-stream; the parent keeps
		// streaming until its own end frame arrives.
		if f.Payload.SubID != "" {
			sess.FinishSub(f.Payload.SubID)
			return
		}
		m.clearActive(nodeID)
		sess.Finish(f.Payload.Usage)

	case core.FrameError:
		m.clearActive(nodeID)
		msg := f.Payload.Message
		if msg == "" {
			msg = "node operation failed"
		}
		sess.Fail(fmt.Errorf("%s", msg))

	default:
		m.logger.Warn("Unknown inbound frame type", "frame_type", string(f.Type), "node_id", nodeID)
	}
}

func (m *Mux) clearActive(nodeID string) {
	m.mu.Lock()
	delete(m.active, nodeID)
	m.mu.Unlock()
}

// failActive fails every in-flight session with err and empties the active set.
func (m *Mux) failActive(err error) {
	m.mu.Lock()
	nodes := make([]string, 0, len(m.active))
	for nodeID := range m.active {
		nodes = append(nodes, nodeID)
	}
	m.active = make(map[string]time.Time)
	m.mu.Unlock()

	for _, nodeID := range nodes {
		if sess, getErr := m.sessions.Get(nodeID); getErr == nil {
			sess.Fail(err)
		}
	}
}

// watch is the stale-session watchdog loop.
func (m *Mux) watch() {
	ticker := time.NewTicker(m.watchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sweep(time.Now())
		}
	}
}

// sweep fails sessions whose last frame is older than the silence window.
func (m *Mux) sweep(now time.Time) {
	m.mu.Lock()
	var stale []string
	for nodeID, last := range m.active {
		if now.Sub(last) > m.staleAfter {
			stale = append(stale, nodeID)
			delete(m.active, nodeID)
		}
	}
	m.mu.Unlock()

	for _, nodeID := range stale {
		m.logger.Warn("Session went silent, failing it", "node_id", nodeID, "stale_after", m.staleAfter)
		if sess, err := m.sessions.Get(nodeID); err == nil {
			sess.Fail(core.ErrConnectionLost)
		}
	}
}
