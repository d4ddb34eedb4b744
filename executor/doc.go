// Package executor implements the far side of the wire protocol: it consumes
// start_stream/cancel_stream frames, runs each node operation on a
// model.Model and emits the chunk/end/error frames the multiplexer routes
// back into sessions. Serve works over any stream.Transport (including an
// in-process Pipe); Handler exposes the same loop over a websocket endpoint.
package executor
