// Package canvasflow provides a high-level façade over the session registry,
// stream multiplexer and run controller, enabling a canvas UI backend to drive
// node execution over a single shared connection. Most applications interact
// with this package by:
//  1. Creating a Canvas via New() with a transport to the execution backend
//  2. Registering chunk callbacks for the nodes being displayed
//  3. Starting runs (Run), polling Progress and cancelling as needed
//
// The façade delegates scheduling to runner.Controller and frame routing to
// stream.Mux while keeping setup ergonomics concise. All defaults are safe for
// local development; production deployments typically supply a durable
// PlanStore and a structured logger.
package canvasflow

import (
	"context"
	"time"

	"github.com/hupe1980/canvasflow/core"
	"github.com/hupe1980/canvasflow/logging"
	"github.com/hupe1980/canvasflow/plan"
	"github.com/hupe1980/canvasflow/runner"
	"github.com/hupe1980/canvasflow/session"
	"github.com/hupe1980/canvasflow/stream"
)

// Options configures the Canvas instance.
type Options struct {
	// Store persists finished step results. Nil disables persistence.
	Store core.PlanStore

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger

	// GraceWindow is how long a finished run lingers before its plan is
	// discarded, unless the run view is open. Defaults to 5s.
	GraceWindow time.Duration

	// MaxConcurrentSteps caps how many steps stream at once. 0 means
	// unbounded fan-out.
	MaxConcurrentSteps int

	// StaleAfter is the multiplexer watchdog silence window. Defaults to 30s.
	StaleAfter time.Duration

	// Notify receives run notifications (step failures, completion,
	// cancellation). May be nil.
	Notify core.Notifier
}

// Canvas is the high-level façade aggregating the registry, multiplexer and
// controller for one graph.
type Canvas struct {
	graphID    string
	opts       Options
	registry   *session.Registry
	mux        *stream.Mux
	controller *runner.Controller
}

// New creates a Canvas for the given graph over the given transport. The
// transport is not connected until the first run starts.
func New(graphID string, transport stream.Transport, optFns ...func(o *Options)) *Canvas {
	opts := Options{
		Logger:      logging.NoOpLogger{},
		GraceWindow: 5 * time.Second,
		StaleAfter:  30 * time.Second,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	registry := session.NewRegistry()

	mux := stream.NewMux(registry, transport, func(o *stream.Options) {
		o.StaleAfter = opts.StaleAfter
		o.Logger = opts.Logger
	})

	rc := core.NewRunContext(graphID, registry, mux, opts.Store, opts.Logger)

	controller := runner.New(rc, func(o *runner.Options) {
		o.GraceWindow = opts.GraceWindow
		o.MaxConcurrentSteps = opts.MaxConcurrentSteps
		o.Notify = opts.Notify
	})

	return &Canvas{
		graphID:    graphID,
		opts:       opts,
		registry:   registry,
		mux:        mux,
		controller: controller,
	}
}

// Run builds an execution plan from the node specs and the scope request and
// starts it. Returns the run id, or core.ErrAlreadyRunning while a run is
// active.
func (c *Canvas) Run(ctx context.Context, specs []plan.Spec, req plan.Request) (string, error) {
	req.GraphID = c.graphID
	return c.controller.Start(ctx, specs, req)
}

// RunAll is a convenience for running every node of the graph.
func (c *Canvas) RunAll(ctx context.Context, specs []plan.Spec) (string, error) {
	return c.Run(ctx, specs, plan.Request{Scope: plan.ScopeAll})
}

// Wait blocks until the current run terminates or ctx expires.
func (c *Canvas) Wait(ctx context.Context) (core.RunState, error) {
	return c.controller.Wait(ctx)
}

// Progress reports completed versus total steps for the current run.
func (c *Canvas) Progress() (completed, total int) {
	return c.controller.Progress()
}

// State returns the current run state, or core.RunIdle when no run is held.
func (c *Canvas) State() core.RunState { return c.controller.State() }

// RunID returns the identifier of the current run, if any.
func (c *Canvas) RunID() string { return c.controller.RunID() }

// Cancel aborts the active run. Idempotent.
func (c *Canvas) Cancel() { c.controller.Cancel() }

// CancelNode cancels a single in-flight node operation without touching the
// rest of the run.
func (c *Canvas) CancelNode(ctx context.Context, nodeID string) error {
	return c.mux.Cancel(ctx, c.graphID, nodeID)
}

// SetViewing toggles whether the run view is open, which defers the
// grace-window discard of finished run state.
func (c *Canvas) SetViewing(open bool) { c.controller.SetViewing(open) }

// Session returns the streaming session for a node, or
// core.ErrSessionNotFound.
func (c *Canvas) Session(nodeID string) (*core.StreamSession, error) {
	return c.registry.Get(nodeID)
}

// OnChunk registers a chunk callback in the given slot for a node, creating
// the session if needed.
func (c *Canvas) OnChunk(nodeID string, kind core.CallbackKind, fn core.ChunkFunc) error {
	return c.registry.SetCallback(nodeID, kind, fn)
}

// ClearCallback removes the callback in the given slot for a node.
func (c *Canvas) ClearCallback(nodeID string, kind core.CallbackKind) error {
	return c.registry.ClearCallback(nodeID, kind)
}

// Close shuts the multiplexer and transport down. Any in-flight sessions
// observe core.ErrConnectionLost.
func (c *Canvas) Close() error {
	c.controller.Cancel()
	return c.mux.Close()
}
