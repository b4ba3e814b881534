// Package transport defines the single external device connection the
// executor dispatches command lines over (spec §6 Clock/transport
// contract): a single-writer line protocol, treated as an opaque ASCII
// line protocol per spec.md's explicit scope exclusion.
package transport

import (
	"context"
	"time"
)

// Response is the successful outcome of sending one command line.
type Response struct {
	Line     string
	Received time.Time
}

// Event is an asynchronous, unsolicited notification surfaced by the
// device (spec §4.8 "transport-layer notifications").
type Event struct {
	Source   string
	Payload  map[string]any
	Received time.Time
}

// Transport is the seam between the Sequence Executor and the physical
// device connection. All calls are serialized through the built-in
// "transport" resource mutex (spec §5); Transport implementations
// themselves need not be internally thread-safe against concurrent Send
// calls for that reason, though Events() must be safe to read
// concurrently with Send.
type Transport interface {
	// Send transmits line and blocks for a response or until deadline,
	// returning TransportError (wrapped) on failure.
	Send(ctx context.Context, line string, deadline time.Time) (Response, error)
	// Events returns a channel of asynchronous device notifications, open
	// for the lifetime of the Transport.
	Events() <-chan Event
	Close() error
}
