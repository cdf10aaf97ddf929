// Package nats implements [transport.Dialer] on top of NATS request/reply.
//
// Each connection owns a private reply inbox. Send publishes the transcript to
// the configured subject with that inbox as the reply subject, and Receive
// returns whatever the responder writes back. The NATS client's own
// reconnect logic is disabled so a lost server surfaces as
// [transport.ErrClosed] and the relay's backoff takes over.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nypyp/metahuman-stream/pkg/transport"
)

const defaultDialTimeout = 5 * time.Second

var (
	_ transport.Dialer = (*Dialer)(nil)
	_ transport.Conn   = (*Conn)(nil)
)

// Option is a functional option for [NewDialer].
type Option func(*Dialer)

// WithName sets the client connection name reported to the server.
func WithName(name string) Option {
	return func(d *Dialer) { d.name = name }
}

// WithToken authenticates with a bearer token.
func WithToken(token string) Option {
	return func(d *Dialer) { d.token = token }
}

// WithDialTimeout bounds the initial connect. Default: 5s.
func WithDialTimeout(t time.Duration) Option {
	return func(d *Dialer) { d.timeout = t }
}

// Dialer connects to a NATS server and publishes to a fixed subject.
type Dialer struct {
	url     string
	subject string
	name    string
	token   string
	timeout time.Duration
}

// NewDialer returns a Dialer publishing to subject on the server at url.
func NewDialer(url, subject string, opts ...Option) (*Dialer, error) {
	if url == "" {
		return nil, errors.New("nats: url must not be empty")
	}
	if subject == "" {
		return nil, errors.New("nats: subject must not be empty")
	}
	d := &Dialer{
		url:     url,
		subject: subject,
		name:    "wakerelay",
		timeout: defaultDialTimeout,
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// Dial implements [transport.Dialer].
func (d *Dialer) Dial(ctx context.Context) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts := []nats.Option{
		nats.Name(d.name),
		nats.Timeout(d.timeout),
		nats.NoReconnect(),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "subject", d.subject, "err", err)
			}
		}),
	}
	if d.token != "" {
		opts = append(opts, nats.Token(d.token))
	}

	nc, err := nats.Connect(d.url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats: connect %s: %w", d.url, err)
	}
	inbox := nats.NewInbox()
	sub, err := nc.SubscribeSync(inbox)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats: subscribe reply inbox: %w", err)
	}
	slog.Debug("nats connected", "url", nc.ConnectedUrl(), "subject", d.subject)
	return &Conn{nc: nc, sub: sub, subject: d.subject, inbox: inbox}, nil
}

// Conn is one NATS connection with its reply subscription.
type Conn struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
	inbox   string

	closeOnce sync.Once
}

// Send implements [transport.Conn].
func (c *Conn) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.nc.IsClosed() {
		return fmt.Errorf("nats: send: %w", transport.ErrClosed)
	}
	if err := c.nc.PublishRequest(c.subject, c.inbox, []byte(text)); err != nil {
		return wrapErr("send", err)
	}
	if err := c.nc.Flush(); err != nil {
		return wrapErr("flush", err)
	}
	return nil
}

// Receive implements [transport.Conn].
func (c *Conn) Receive(ctx context.Context) (string, error) {
	msg, err := c.sub.NextMsgWithContext(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", wrapErr("receive", err)
	}
	return string(msg.Data), nil
}

// Close implements [transport.Conn].
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		_ = c.sub.Unsubscribe()
		c.nc.Close()
	})
	return nil
}

func wrapErr(op string, err error) error {
	switch {
	case errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrBadSubscription),
		errors.Is(err, nats.ErrConnectionDraining),
		errors.Is(err, nats.ErrNoServers):
		return fmt.Errorf("nats: %s: %w (%v)", op, transport.ErrClosed, err)
	}
	return fmt.Errorf("nats: %s: %w", op, err)
}
