// Package mock provides in-memory [transport.Dialer] and [transport.Conn]
// implementations for unit tests.
//
// A test scripts dial failures through [Dialer.Errs], hands out prepared
// connections through [Dialer.Conns], and then drives each connection from the
// remote side with [Conn.Reply] and [Conn.Drop]. Every successful Send is also
// pushed onto [Conn.SentCh] so tests can wait for it.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/nypyp/metahuman-stream/pkg/transport"
)

var (
	_ transport.Dialer = (*Dialer)(nil)
	_ transport.Conn   = (*Conn)(nil)
)

// Dialer is a mock implementation of [transport.Dialer].
type Dialer struct {
	mu sync.Mutex

	// Errs[i], when non-nil, fails the (i+1)-th Dial call.
	Errs []error

	// Conns are returned in order by successful Dial calls. A fresh Conn is
	// created once they are exhausted.
	Conns []*Conn

	// DialCalls counts Dial invocations.
	DialCalls int

	// DialedCh receives every connection handed out. Buffered; created on
	// first use if nil.
	DialedCh chan *Conn

	next int
}

// NewDialer returns a Dialer that hands out conns in order.
func NewDialer(conns ...*Conn) *Dialer {
	return &Dialer{Conns: conns, DialedCh: make(chan *Conn, 16)}
}

// Dial implements [transport.Dialer].
func (d *Dialer) Dial(ctx context.Context) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	idx := d.DialCalls
	d.DialCalls++
	if idx < len(d.Errs) && d.Errs[idx] != nil {
		return nil, d.Errs[idx]
	}
	var c *Conn
	if d.next < len(d.Conns) {
		c = d.Conns[d.next]
	} else {
		c = NewConn()
		d.Conns = append(d.Conns, c)
	}
	d.next++
	if d.DialedCh == nil {
		d.DialedCh = make(chan *Conn, 16)
	}
	select {
	case d.DialedCh <- c:
	default:
	}
	return c, nil
}

// Dials returns the number of Dial calls made so far.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.DialCalls
}

// Conn is a mock implementation of [transport.Conn].
type Conn struct {
	mu sync.Mutex

	// SendErrs[i], when non-nil, fails the (i+1)-th Send call.
	SendErrs []error

	// SentCh receives the text of every successful Send.
	SentCh chan string

	sent      []string
	sendCalls int
	replies   chan string
	dropped   chan struct{}
	dropOnce  sync.Once
	closed    bool
}

// NewConn returns an open Conn.
func NewConn() *Conn {
	return &Conn{
		SentCh:  make(chan string, 64),
		replies: make(chan string, 64),
		dropped: make(chan struct{}),
	}
}

// Send implements [transport.Conn].
func (c *Conn) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.dropped:
		return fmt.Errorf("mock: send: %w", transport.ErrClosed)
	default:
	}
	c.mu.Lock()
	idx := c.sendCalls
	c.sendCalls++
	if idx < len(c.SendErrs) && c.SendErrs[idx] != nil {
		err := c.SendErrs[idx]
		c.mu.Unlock()
		return err
	}
	c.sent = append(c.sent, text)
	c.mu.Unlock()
	c.SentCh <- text
	return nil
}

// Receive implements [transport.Conn]. Queued replies are returned before a
// drop is reported.
func (c *Conn) Receive(ctx context.Context) (string, error) {
	select {
	case msg := <-c.replies:
		return msg, nil
	default:
	}
	select {
	case msg := <-c.replies:
		return msg, nil
	case <-c.dropped:
		return "", fmt.Errorf("mock: receive: %w", transport.ErrClosed)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close implements [transport.Conn].
func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.Drop()
	return nil
}

// Reply queues a message from the remote side.
func (c *Conn) Reply(text string) { c.replies <- text }

// Drop simulates the remote side closing the connection.
func (c *Conn) Drop() { c.dropOnce.Do(func() { close(c.dropped) }) }

// Sent returns a copy of every successfully sent message.
func (c *Conn) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	copy(out, c.sent)
	return out
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
