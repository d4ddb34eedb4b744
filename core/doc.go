// Package core defines the shared domain contracts for CanvasFlow: steps and
// their forward-only status model, the typed wire frames exchanged with a node
// execution backend, streaming session bookkeeping, the error taxonomy and the
// per-run context object. Implementations (registry, multiplexer, stores,
// scheduler, controller) live in sibling packages and depend only on the
// interfaces declared here.
package core
