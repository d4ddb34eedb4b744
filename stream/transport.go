package stream

import (
	"context"
	"errors"
	"sync"

	"github.com/hupe1980/canvasflow/core"
)

// ErrTransportClosed is returned by Send after the transport has been closed
// from either end.
var ErrTransportClosed = errors.New("transport closed")

// Transport is one duplex frame connection. Connect establishes (or
// re-establishes) the connection; Frames returns the inbound channel for the
// current connection, which is closed when the connection drops. Only the
// multiplexer writes to a transport.
type Transport interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, f core.Frame) error
	Frames() <-chan core.Frame
	Close() error
}

// pipeShared is the state common to both ends of an in-process pipe.
type pipeShared struct {
	mu     sync.Mutex
	closed bool
	aToB   chan core.Frame
	bToA   chan core.Frame
}

// pipeEnd is one side of a Pipe.
type pipeEnd struct {
	shared *pipeShared
	out    chan core.Frame
	in     chan core.Frame
}

// Pipe returns two connected in-memory transports. Frames sent on one end
// arrive on the other. Useful for tests and for running a backend executor in
// the same process as the canvas.
func Pipe() (Transport, Transport) {
	shared := &pipeShared{
		aToB: make(chan core.Frame, 256),
		bToA: make(chan core.Frame, 256),
	}
	a := &pipeEnd{shared: shared, out: shared.aToB, in: shared.bToA}
	b := &pipeEnd{shared: shared, out: shared.bToA, in: shared.aToB}
	return a, b
}

// Connect implements Transport. Pipes are always connected until closed.
func (p *pipeEnd) Connect(_ context.Context) error {
	p.shared.mu.Lock()
	defer p.shared.mu.Unlock()
	if p.shared.closed {
		return ErrTransportClosed
	}
	return nil
}

// Send implements Transport.
func (p *pipeEnd) Send(_ context.Context, f core.Frame) error {
	p.shared.mu.Lock()
	defer p.shared.mu.Unlock()
	if p.shared.closed {
		return ErrTransportClosed
	}
	select {
	case p.out <- f:
		return nil
	default:
		return errors.New("pipe buffer full")
	}
}

// Frames implements Transport.
func (p *pipeEnd) Frames() <-chan core.Frame {
	return p.in
}

// Close implements Transport. Closing either end closes both directions.
func (p *pipeEnd) Close() error {
	p.shared.mu.Lock()
	defer p.shared.mu.Unlock()
	if p.shared.closed {
		return nil
	}
	p.shared.closed = true
	close(p.shared.aToB)
	close(p.shared.bToA)
	return nil
}
