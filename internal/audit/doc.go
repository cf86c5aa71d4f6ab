// Package audit implements async event dispatching for permission changes.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, no-op, multi).
//   - [Dispatcher]: buffered async relay with drop-if-full or block-if-full semantics.
//   - [Event]: structured audit record naming subject, instance and masks.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which
// events to emit; the engine does.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import objperm or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
