// Package stream implements the multiplexer that shares one duplex transport
// between many concurrent per-node response streams. Outbound, it exposes a
// start/cancel operation per node; inbound, it routes chunk/end/error frames
// to the owning session by node id. A watchdog fails sessions that go silent
// after the transport drops, so no session stays in flight forever.
//
// The Transport interface abstracts the wire. Pipe provides an in-process
// pair for tests and demos; package stream/ws provides the websocket client
// used against a real backend.
package stream
