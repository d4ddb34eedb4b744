package core

import "sync/atomic"

// StepStatus tracks the lifecycle of a single schedulable step. Transitions
// only move forward (NotStarted → InProgress → Done|Failed); the only way back
// is a full-plan reset at the start of a new run.
type StepStatus int32

const (
	// StepNotStarted is the initial status of every step.
	StepNotStarted StepStatus = iota
	// StepInProgress marks a step whose underlying node operation is in flight.
	StepInProgress
	// StepDone marks a step whose operation finished successfully.
	StepDone
	// StepFailed marks a step whose operation terminated with an error.
	StepFailed
)

// String returns the human-readable name of the status.
func (s StepStatus) String() string {
	switch s {
	case StepNotStarted:
		return "not_started"
	case StepInProgress:
		return "in_progress"
	case StepDone:
		return "done"
	case StepFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is final for the current run.
func (s StepStatus) Terminal() bool {
	return s == StepDone || s == StepFailed
}

// Step is one schedulable unit of work: a node execution with a set of
// upstream dependencies that must be Done before it may start. The topology
// (NodeID, DependsOn, Request) is immutable for the lifetime of its plan;
// only the status mutates, and all writes are serialized by the scheduler.
type Step struct {
	// NodeID is the opaque unique identifier of the canvas node, stable
	// across a run.
	NodeID string

	// DependsOn lists the NodeIDs of upstream steps.
	DependsOn []string

	// Request carries the outbound start payload for the node operation.
	Request StartRequest

	status atomic.Int32
}

// NewStep constructs a NotStarted step.
func NewStep(nodeID string, dependsOn []string, req StartRequest) *Step {
	req.NodeID = nodeID
	return &Step{NodeID: nodeID, DependsOn: dependsOn, Request: req}
}

// Status returns the current status. Safe for concurrent readers (progress
// polling) while the scheduler mutates.
func (s *Step) Status() StepStatus {
	return StepStatus(s.status.Load())
}

// Transition advances the status and reports whether the move was legal.
// Legal moves: NotStarted→InProgress, InProgress→Done, InProgress→Failed.
// Everything else (including repeats) is rejected, which makes duplicate
// readiness-scan triggers harmless.
func (s *Step) Transition(to StepStatus) bool {
	var from StepStatus
	switch to {
	case StepInProgress:
		from = StepNotStarted
	case StepDone, StepFailed:
		from = StepInProgress
	default:
		return false
	}
	return s.status.CompareAndSwap(int32(from), int32(to))
}

// Reset returns the step to NotStarted. Only the scheduler calls this, on
// entry to a new run over the same plan.
func (s *Step) Reset() {
	s.status.Store(int32(StepNotStarted))
}

// RunState tracks the lifecycle of a whole run:
// Idle → Running → {Completed | Cancelled | Failed}.
type RunState int32

const (
	// RunIdle means no run has been started yet.
	RunIdle RunState = iota
	// RunRunning means the scheduler loop is active.
	RunRunning
	// RunCompleted means every step reached Done.
	RunCompleted
	// RunCancelled means the run was aborted by the controller.
	RunCancelled
	// RunFailed means the pending set drained with steps stranded behind a
	// failure; the run can never complete and is surfaced as failed.
	RunFailed
)

// String returns the human-readable name of the run state.
func (s RunState) String() string {
	switch s {
	case RunIdle:
		return "idle"
	case RunRunning:
		return "running"
	case RunCompleted:
		return "completed"
	case RunCancelled:
		return "cancelled"
	case RunFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the run state is final.
func (s RunState) Terminal() bool {
	return s == RunCompleted || s == RunCancelled || s == RunFailed
}
