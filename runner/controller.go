package runner

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/canvasflow/core"
	"github.com/hupe1980/canvasflow/plan"
	"github.com/hupe1980/canvasflow/scheduler"
)

// Options holds configuration overrides passed to New().
type Options struct {
	// GraceWindow is how long a finished run lingers before its plan is
	// discarded, unless the consumer is viewing it. Defaults to 5s.
	GraceWindow time.Duration

	// MaxConcurrentSteps is forwarded to the scheduler; 0 means unbounded.
	MaxConcurrentSteps int

	// Notify receives all run notifications, tagged with the run id. May be nil.
	Notify core.Notifier
}

// Controller is the façade over plan building and scheduling. One controller
// manages at most one active run at a time; public methods are safe for
// concurrent use and Progress is cheap enough to poll continuously from a UI.
type Controller struct {
	rc *core.RunContext

	graceWindow   time.Duration
	maxConcurrent int
	notify        core.Notifier

	mu      sync.Mutex
	runID   string
	plan    *plan.Plan
	sched   *scheduler.Scheduler
	discard *time.Timer
	viewing bool
}

// New constructs a Controller with optional overrides.
func New(rc *core.RunContext, optFns ...func(o *Options)) *Controller {
	opts := Options{
		GraceWindow: 5 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Controller{
		rc:            rc,
		graceWindow:   opts.GraceWindow,
		maxConcurrent: opts.MaxConcurrentSteps,
		notify:        opts.Notify,
	}
}

// Start builds the plan for the request and transitions the scheduler to
// Running. It rejects with core.ErrAlreadyRunning while a run is active. A
// finished-but-not-yet-discarded previous run is replaced, invalidating any
// pending discard timer.
func (c *Controller) Start(ctx context.Context, specs []plan.Spec, req plan.Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sched != nil && c.sched.State() == core.RunRunning {
		return "", core.ErrAlreadyRunning
	}

	p, err := plan.Build(specs, req)
	if err != nil {
		return "", err
	}

	runID := core.NewID()
	notify := c.notify
	sched := scheduler.New(p, c.rc, func(o *scheduler.Options) {
		o.MaxConcurrentSteps = c.maxConcurrent
		if notify != nil {
			o.Notify = func(n core.Notification) {
				n.RunID = runID
				notify(n)
			}
		}
	})

	if err := sched.Start(ctx); err != nil {
		return "", err
	}

	c.stopDiscardLocked()
	c.runID = runID
	c.plan = p
	c.sched = sched
	go c.watchTerminal(sched)

	c.rc.LogInfo("Run started", "run_id", runID, "steps", p.Len(), "graph_id", p.GraphID())
	return runID, nil
}

// Progress reports completed versus total steps for the current run, derived
// directly from step statuses. Returns (0, 0) when no plan is held.
func (c *Controller) Progress() (completed, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.plan == nil {
		return 0, 0
	}
	return c.plan.Progress()
}

// State returns the current run state, or RunIdle when no run is held.
func (c *Controller) State() core.RunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sched == nil {
		return core.RunIdle
	}
	return c.sched.State()
}

// RunID returns the identifier of the current run, if any.
func (c *Controller) RunID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runID
}

// Cancel aborts the active run. Every pending step receives a cancel frame
// and a single aggregated notification is emitted. Idempotent: cancelling an
// already terminal or absent run is a no-op.
func (c *Controller) Cancel() {
	c.mu.Lock()
	sched := c.sched
	c.mu.Unlock()
	if sched == nil {
		return
	}
	sched.Cancel()
}

// Wait blocks until the current run terminates or ctx expires. Returns
// RunIdle immediately when no run is held.
func (c *Controller) Wait(ctx context.Context) (core.RunState, error) {
	c.mu.Lock()
	sched := c.sched
	c.mu.Unlock()
	if sched == nil {
		return core.RunIdle, nil
	}
	return sched.Wait(ctx)
}

// SetViewing toggles whether the consumer is actively viewing the run.
// Opening the view cancels any pending discard; closing it re-arms the grace
// window on a finished run. Purely a debouncing affordance.
func (c *Controller) SetViewing(open bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.viewing = open
	if open {
		c.stopDiscardLocked()
		return
	}
	if c.sched != nil && c.sched.State().Terminal() {
		c.armDiscardLocked()
	}
}

// watchTerminal arms the discard timer once the run finishes, unless the view
// is open or a newer run has replaced this one.
func (c *Controller) watchTerminal(sched *scheduler.Scheduler) {
	<-sched.Done()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sched != sched {
		return
	}
	if !c.viewing {
		c.armDiscardLocked()
	}
}

// armDiscardLocked schedules the plan discard after the grace window. Any
// previously scheduled discard is invalidated first, so timers never leak or
// fire for a stale run.
func (c *Controller) armDiscardLocked() {
	c.stopDiscardLocked()
	sched := c.sched
	c.discard = time.AfterFunc(c.graceWindow, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.sched != sched {
			return
		}
		c.rc.LogDebug("Discarding finished run", "run_id", c.runID)
		c.plan = nil
		c.sched = nil
		c.runID = ""
		c.discard = nil
	})
}

func (c *Controller) stopDiscardLocked() {
	if c.discard != nil {
		c.discard.Stop()
		c.discard = nil
	}
}
