package core

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when a session for the given node id does
	// not exist. Lookups never fabricate state; callers decide whether to
	// Ensure a session or surface the miss as a usage error.
	ErrSessionNotFound = errors.New("session not found")

	// ErrAlreadyRunning is returned by the controller when a new run is
	// requested while one is still active.
	ErrAlreadyRunning = errors.New("a run is already active")

	// ErrCancelled marks a session or step aborted on user request. Terminal,
	// but not an error for reporting purposes.
	ErrCancelled = errors.New("cancelled")

	// ErrConnectionLost marks a session failed locally after the transport
	// dropped or went silent beyond the watchdog window.
	ErrConnectionLost = errors.New("connection lost")
)

// CycleError reports a dependency cycle detected while building a plan.
// Construction-time and fatal to the run request; nothing starts.
type CycleError struct {
	NodeID string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected involving node %q", e.NodeID)
}

// StepError wraps the failure of a single step's node operation. It isolates
// to that step and its unexecuted dependents; sibling branches keep running.
type StepError struct {
	NodeID string
	Err    error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	return fmt.Sprintf("step %q failed: %v", e.NodeID, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *StepError) Unwrap() error {
	return e.Err
}
