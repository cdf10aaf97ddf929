// Package transport defines the message-oriented duplex connection the relay
// uses to deliver transcripts.
//
// Messages are opaque UTF-8 text. One call to [Conn.Send] produces exactly one
// message on the wire; the transport's own framing delimits messages.
//
// Implementations live in sub-packages:
//   - websocket: coder/websocket text frames
//   - nats: request/reply on a subject with a private reply inbox
//   - mock: in-memory connections for tests
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by [Conn.Receive] and [Conn.Send] once the connection
// has been closed by either side. Callers should dial a new connection.
var ErrClosed = errors.New("transport: connection closed")

// Conn is one open connection to the remote endpoint.
//
// Send and Receive may be called from different goroutines, but neither is
// safe for concurrent use with itself.
type Conn interface {
	// Send writes text as a single message.
	Send(ctx context.Context, text string) error

	// Receive blocks until the next inbound message arrives, the connection
	// closes ([ErrClosed]) or ctx is done.
	Receive(ctx context.Context) (string, error)

	// Close releases the connection. Safe to call more than once.
	Close() error
}

// Dialer opens connections to a fixed, pre-configured endpoint.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}
