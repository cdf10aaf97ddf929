// Package websocket implements [transport.Dialer] over a websocket connection
// using github.com/coder/websocket. Every transcript is sent as one text frame.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/nypyp/metahuman-stream/pkg/transport"
)

const (
	defaultDialTimeout = 10 * time.Second
	defaultReadLimit   = 1 << 20
)

var (
	_ transport.Dialer = (*Dialer)(nil)
	_ transport.Conn   = (*Conn)(nil)
)

// Option is a functional option for [NewDialer].
type Option func(*Dialer)

// WithHeader adds an HTTP header to the opening handshake.
func WithHeader(key, value string) Option {
	return func(d *Dialer) {
		if d.header == nil {
			d.header = make(http.Header)
		}
		d.header.Add(key, value)
	}
}

// WithDialTimeout bounds the opening handshake. Default: 10s.
func WithDialTimeout(d time.Duration) Option {
	return func(dl *Dialer) { dl.dialTimeout = d }
}

// WithHTTPClient sets the HTTP client used for the handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dialer) { d.client = c }
}

// WithReadLimit caps the size of inbound messages. Default: 1 MiB.
func WithReadLimit(n int64) Option {
	return func(d *Dialer) { d.readLimit = n }
}

// Dialer opens websocket connections to a fixed URL.
type Dialer struct {
	url         string
	header      http.Header
	client      *http.Client
	dialTimeout time.Duration
	readLimit   int64
}

// NewDialer returns a Dialer for url (ws:// or wss://).
func NewDialer(url string, opts ...Option) (*Dialer, error) {
	if url == "" {
		return nil, errors.New("websocket: url must not be empty")
	}
	d := &Dialer{
		url:         url,
		dialTimeout: defaultDialTimeout,
		readLimit:   defaultReadLimit,
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// URL returns the endpoint the dialer connects to.
func (d *Dialer) URL() string { return d.url }

// Dial implements [transport.Dialer].
func (d *Dialer) Dial(ctx context.Context) (transport.Conn, error) {
	dialCtx := ctx
	if d.dialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, d.dialTimeout)
		defer cancel()
	}
	c, _, err := websocket.Dial(dialCtx, d.url, &websocket.DialOptions{
		HTTPHeader: d.header,
		HTTPClient: d.client,
	})
	if err != nil {
		return nil, fmt.Errorf("websocket: dial %s: %w", d.url, err)
	}
	c.SetReadLimit(d.readLimit)
	return &Conn{ws: c}, nil
}

// Conn is an open websocket connection.
type Conn struct {
	ws        *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

// Send implements [transport.Conn].
func (c *Conn) Send(ctx context.Context, text string) error {
	if err := c.ws.Write(ctx, websocket.MessageText, []byte(text)); err != nil {
		return wrapErr("send", err)
	}
	return nil
}

// Receive implements [transport.Conn]. Binary messages are returned verbatim.
func (c *Conn) Receive(ctx context.Context) (string, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		return "", wrapErr("receive", err)
	}
	return string(data), nil
}

// Close implements [transport.Conn] with a normal closure.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		err := c.ws.Close(websocket.StatusNormalClosure, "")
		if err != nil && !isClosed(err) {
			c.closeErr = fmt.Errorf("websocket: close: %w", err)
		}
	})
	return c.closeErr
}

func wrapErr(op string, err error) error {
	if isClosed(err) {
		return fmt.Errorf("websocket: %s: %w (%v)", op, transport.ErrClosed, err)
	}
	return fmt.Errorf("websocket: %s: %w", op, err)
}

// isClosed reports whether err means the peer or we closed the connection.
func isClosed(err error) bool {
	if websocket.CloseStatus(err) != -1 {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
