package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/canvasflow/core"
	"github.com/hupe1980/canvasflow/plan"
)

// completion is one step's terminal event, fed from the session's finished
// callback into the loop.
type completion struct {
	nodeID string
	usage  *core.TokenUsage
	err    error
}

// Options configures a Scheduler.
type Options struct {
	// MaxConcurrentSteps bounds how many steps may be in flight at once.
	// 0 means unbounded, which matches the reference behavior of launching
	// every ready step immediately; bounding it protects the shared
	// transport and the upstream executor from large fan-outs.
	MaxConcurrentSteps int

	// Notify receives step failure and run terminal notifications. May be nil.
	Notify core.Notifier
}

// Scheduler executes one plan. All step status writes happen on a single loop
// goroutine; the operations it launches run concurrently and report back
// through completion events, so the scheduler itself never blocks on a step.
//
// A Scheduler is single-use: Start may be called once.
type Scheduler struct {
	plan *plan.Plan
	rc   *core.RunContext

	maxConcurrent int
	notify        core.Notifier

	state      atomic.Int32
	events     chan completion
	cancelCh   chan struct{}
	cancelOnce sync.Once
	done       chan struct{}

	// pending is the set of in-flight node ids. Loop goroutine only.
	pending map[string]struct{}
}

// New constructs a scheduler for the given plan and run context.
func New(p *plan.Plan, rc *core.RunContext, optFns ...func(o *Options)) *Scheduler {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Scheduler{
		plan:          p,
		rc:            rc,
		maxConcurrent: opts.MaxConcurrentSteps,
		notify:        opts.Notify,
		// Each step produces at most one finished event plus one synthetic
		// failure, so this buffer can never fill and callbacks never block.
		events:   make(chan completion, 2*p.Len()+1),
		cancelCh: make(chan struct{}),
		done:     make(chan struct{}),
		pending:  make(map[string]struct{}),
	}
}

// Start resets every step to NotStarted and launches the loop. It returns
// immediately; observe progress via State, Done or the plan's statuses.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(core.RunIdle), int32(core.RunRunning)) {
		return errors.New("scheduler already started")
	}
	s.plan.Reset()
	go s.loop(ctx)
	return nil
}

// Cancel aborts the run: every pending step receives a cancel frame and the
// run terminates in the Cancelled state. Idempotent; calling it twice is the
// same as once.
func (s *Scheduler) Cancel() {
	s.cancelOnce.Do(func() { close(s.cancelCh) })
}

// State returns the current run state.
func (s *Scheduler) State() core.RunState {
	return core.RunState(s.state.Load())
}

// Done is closed when the run reaches a terminal state.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the run terminates or ctx expires.
func (s *Scheduler) Wait(ctx context.Context) (core.RunState, error) {
	select {
	case <-ctx.Done():
		return s.State(), ctx.Err()
	case <-s.done:
		return s.State(), nil
	}
}

// loop is the single writer for all step statuses and the pending set.
func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	start := time.Now()

	s.launchReady(ctx)
	if s.settleIfDrained() {
		s.rc.LogInfo("Run finished", "state", s.State().String(), "duration", time.Since(start))
		return
	}

	for {
		select {
		case <-ctx.Done():
			s.abort()
			s.rc.LogInfo("Run cancelled by context", "duration", time.Since(start))
			return

		case <-s.cancelCh:
			s.abort()
			s.rc.LogInfo("Run cancelled", "duration", time.Since(start))
			return

		case ev := <-s.events:
			// A frame for a step no longer pending (late terminal after a
			// cancel, duplicate delivery) is a no-op, not an error.
			if _, ok := s.pending[ev.nodeID]; !ok {
				s.rc.LogDebug("Ignoring completion for non-pending step", "node_id", ev.nodeID)
				continue
			}
			delete(s.pending, ev.nodeID)
			s.settle(ctx, ev)

			s.launchReady(ctx)
			if s.settleIfDrained() {
				s.rc.LogInfo("Run finished", "state", s.State().String(), "duration", time.Since(start))
				return
			}
		}
	}
}

// settle applies one completion event to its step.
func (s *Scheduler) settle(ctx context.Context, ev completion) {
	step, ok := s.plan.Step(ev.nodeID)
	if !ok {
		s.rc.LogWarn("Completion for step outside the plan", "node_id", ev.nodeID)
		return
	}

	if ev.err != nil {
		step.Transition(core.StepFailed)
		stepErr := &core.StepError{NodeID: ev.nodeID, Err: ev.err}
		s.rc.LogError("Step failed", "node_id", ev.nodeID, "error", ev.err)
		s.send(core.Notification{
			Kind:    core.NotifyStepFailed,
			NodeID:  ev.nodeID,
			Err:     stepErr,
			Message: stepErr.Error(),
		})
		return
	}

	// Await persistence before Done so dependents never start ahead of the
	// durable record. A save error is logged, not fatal to the step.
	s.persist(ctx, ev)
	step.Transition(core.StepDone)
	s.rc.LogDebug("Step done", "node_id", ev.nodeID)
}

// persist hands the step result to the plan store, if one is configured.
func (s *Scheduler) persist(ctx context.Context, ev completion) {
	if s.rc.Store == nil {
		return
	}
	sess, err := s.rc.Sessions.Get(ev.nodeID)
	if err != nil {
		s.rc.LogWarn("No session to persist", "node_id", ev.nodeID)
		return
	}
	result := core.StepResult{
		GraphID:      s.plan.GraphID(),
		NodeID:       ev.nodeID,
		Response:     sess.Response(),
		SubResponses: sess.SubResponses(),
		Usage:        ev.usage,
		FinishedAt:   time.Now().UTC(),
	}
	if err := s.rc.Store.SaveStep(ctx, result); err != nil {
		s.rc.LogError("Failed to persist step result", "node_id", ev.nodeID, "error", err)
	}
}

// launchReady scans the remaining NotStarted steps and launches every one
// whose dependencies are all Done, up to the concurrency bound. Launching an
// already started step is impossible here because the InProgress transition
// itself rejects repeats.
func (s *Scheduler) launchReady(ctx context.Context) {
	for _, step := range s.plan.Steps() {
		if s.maxConcurrent > 0 && len(s.pending) >= s.maxConcurrent {
			return
		}
		if step.Status() != core.StepNotStarted || !s.ready(step) {
			continue
		}
		if !step.Transition(core.StepInProgress) {
			continue
		}
		s.pending[step.NodeID] = struct{}{}
		s.launch(ctx, step)
	}
}

// ready reports whether every dependency of the step is Done.
func (s *Scheduler) ready(step *core.Step) bool {
	for _, dep := range step.DependsOn {
		depStep, ok := s.plan.Step(dep)
		if !ok || depStep.Status() != core.StepDone {
			return false
		}
	}
	return true
}

// launch wires the completion callback and starts the node operation. The
// multiplexer guarantees at most one concurrent operation per node id, which
// backs up the scheduler's own idempotence as defense in depth.
func (s *Scheduler) launch(ctx context.Context, step *core.Step) {
	nodeID := step.NodeID
	sess := s.rc.Sessions.Ensure(nodeID)
	sess.SetFinishedCallback(func(fe core.FinishedEvent) {
		s.events <- completion{nodeID: fe.NodeID, usage: fe.Usage, err: fe.Err}
	})

	s.rc.LogDebug("Launching step", "node_id", nodeID)
	if _, err := s.rc.Stream.Start(ctx, step.Request); err != nil {
		// The session was failed by the multiplexer; its finished callback
		// already queued the failure event.
		s.rc.LogWarn("Step launch failed", "node_id", nodeID, "error", err)
	}
}

// settleIfDrained decides the run outcome once nothing is in flight: all Done
// means Completed, anything else means steps are stranded behind a failure
// and the run terminates as Failed. Returns false while work remains.
func (s *Scheduler) settleIfDrained() bool {
	if len(s.pending) > 0 {
		return false
	}

	completed, total := s.plan.Progress()
	if completed == total {
		s.state.Store(int32(core.RunCompleted))
		s.send(core.Notification{Kind: core.NotifyRunCompleted, Message: "run completed"})
		return true
	}

	var blocked []string
	for _, step := range s.plan.Steps() {
		if step.Status() == core.StepNotStarted {
			blocked = append(blocked, step.NodeID)
		}
	}
	s.state.Store(int32(core.RunFailed))
	s.rc.LogError("Run stranded by step failures", "blocked", blocked, "completed", completed, "total", total)
	s.send(core.Notification{Kind: core.NotifyRunFailed, Message: "run failed; unexecuted steps are blocked by a failed dependency"})
	return true
}

// abort cancels every pending step and terminates the run as Cancelled with a
// single aggregated notification.
func (s *Scheduler) abort() {
	// Best-effort cancel frames even when the run's context is already gone.
	ctx := context.Background()
	for nodeID := range s.pending {
		if err := s.rc.Stream.Cancel(ctx, s.plan.GraphID(), nodeID); err != nil {
			s.rc.LogWarn("Cancel frame failed", "node_id", nodeID, "error", err)
		}
	}
	s.pending = make(map[string]struct{})
	s.state.Store(int32(core.RunCancelled))
	s.send(core.Notification{Kind: core.NotifyRunCancelled, Message: "run cancelled"})
}

func (s *Scheduler) send(n core.Notification) {
	if s.notify != nil {
		s.notify(n)
	}
}
