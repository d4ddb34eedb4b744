// Package plan builds the immutable execution plan for one run request: the
// subset of canvas steps needed to satisfy the request, with dependency edges
// restricted to that subset, validated cycle-free before anything starts.
package plan
