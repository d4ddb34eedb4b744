// Package scheduler walks an execution plan event-driven: every step whose
// dependencies are all Done is launched immediately (no layer batching, so
// makespan stays optimal), completions unlock dependents, and a single loop
// goroutine owns every status write. Failed steps strand their dependents for
// the rest of the run; there are no automatic retries.
package scheduler
