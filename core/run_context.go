package core

import (
	"context"
	"time"

	"github.com/hupe1980/canvasflow/logging"
)

// StepResult is the durable record of one successfully completed step handed
// to the PlanStore before the step is marked Done.
type StepResult struct {
	GraphID      string            `json:"graph_id"`
	NodeID       string            `json:"node_id"`
	Response     string            `json:"response"`
	SubResponses map[string]string `json:"sub_responses,omitempty"`
	Usage        *TokenUsage       `json:"usage,omitempty"`
	FinishedAt   time.Time         `json:"finished_at"`
}

// PlanStore persists step results. The scheduler awaits SaveStep before
// marking a step Done so dependents never start ahead of durability; a save
// error is logged but does not fail the step.
type PlanStore interface {
	SaveStep(ctx context.Context, result StepResult) error
}

// NotificationKind classifies user-visible notifications emitted by the
// scheduler and controller.
type NotificationKind string

const (
	// NotifyStepFailed reports a single step failure. Emitted once per
	// failure; there are no retries.
	NotifyStepFailed NotificationKind = "step_failed"
	// NotifyRunCompleted reports that every step reached Done.
	NotifyRunCompleted NotificationKind = "run_completed"
	// NotifyRunCancelled reports a user-initiated abort, aggregated into a
	// single notification regardless of how many steps were pending.
	NotifyRunCancelled NotificationKind = "run_cancelled"
	// NotifyRunFailed reports a run stranded by step failures.
	NotifyRunFailed NotificationKind = "run_failed"
)

// Notification is a single user-visible progress or failure report.
type Notification struct {
	Kind    NotificationKind
	RunID   string
	NodeID  string
	Err     error
	Message string
}

// Notifier consumes notifications. Implementations must be fast; they are
// invoked from the scheduler loop.
type Notifier func(Notification)

// RunContext bundles the collaborators a run needs — session registry, stream
// multiplexer, optional persistence — into one explicitly constructed object,
// so independent runs and tests never share global state.
type RunContext struct {
	// GraphID scopes every outbound frame of this context.
	GraphID string

	// Sessions owns per-node streaming session state.
	Sessions SessionRegistry

	// Stream launches and cancels node operations on the shared transport.
	Stream StreamStarter

	// Store, when non-nil, receives each step's result before the step is
	// marked Done.
	Store PlanStore

	*loggerAdapter
}

// NewRunContext constructs a RunContext. Store may be nil; a nil logger is
// replaced with a NoOpLogger.
func NewRunContext(
	graphID string,
	sessions SessionRegistry,
	stream StreamStarter,
	store PlanStore,
	logger logging.Logger,
) *RunContext {
	return &RunContext{
		GraphID:       graphID,
		Sessions:      sessions,
		Stream:        stream,
		Store:         store,
		loggerAdapter: newLoggerAdapter(logger),
	}
}
