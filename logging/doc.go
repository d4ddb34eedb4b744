// Package logging provides a minimal logging interface and adapters for CanvasFlow.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the scheduler, multiplexer and controller use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - NoOpLogger for silent operation (testing, minimal setups)
//   - CanvasLogger with graph/run contextual helpers
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	cf := canvasflow.New("graph-1", transport, func(o *canvasflow.Options) { o.Logger = logger })
//
// The design intentionally keeps the interface minimal to avoid vendor lock-in
// while supporting structured logging where available.
package logging
