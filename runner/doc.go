// Package runner provides the user-facing run controller: it builds the
// execution plan for a request, drives the scheduler, exposes pollable
// progress, supports cancellation and owns the auto-dismiss timing of
// finished runs.
package runner
