// Package relay delivers finalized transcripts to a remote endpoint.
//
// A [Relay] holds one outbound connection at a time. For every transcript it
// takes from its [Source] it sends exactly one message, then waits for the
// endpoint to answer or hang up. An answer keeps the connection for the next
// transcript; a hang-up tears it down and dials again with exponential
// backoff. A transcript whose send failed is kept and sent on the next
// connection, so nothing taken from the source is dropped.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nypyp/metahuman-stream/internal/observe"
	"github.com/nypyp/metahuman-stream/internal/transcript"
	"github.com/nypyp/metahuman-stream/pkg/transport"
)

// Default reconnection parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// ErrUnavailable is returned by [Relay.Run] when the endpoint could not be
// reached within the configured number of attempts.
var ErrUnavailable = errors.New("relay: endpoint unavailable")

// Source yields published transcripts. [transcript.Slot] implements it.
type Source interface {
	Take(ctx context.Context) (transcript.Result, error)
}

// Delivery describes one transcript that reached the endpoint.
type Delivery struct {
	Result transcript.Result

	// Reply is the endpoint's answer. Empty when the endpoint closed the
	// connection instead of answering.
	Reply string

	// SentAt is when the message was written.
	SentAt time.Time
}

// Config configures a [Relay].
type Config struct {
	// Dialer opens connections to the endpoint.
	Dialer transport.Dialer

	// Source provides transcripts to deliver.
	Source Source

	// MaxRetries is the number of consecutive failed attempts after which Run
	// gives up. An attempt fails when the dial fails or when the connection
	// breaks before a send succeeded. Defaults to 10 if zero.
	MaxRetries int

	// Backoff is the wait after the first failed attempt. Doubles each
	// attempt up to MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff caps the wait between attempts. Defaults to 30s if zero.
	MaxBackoff time.Duration

	// OnDelivered is called after the endpoint answered or hung up following
	// a successful send. May be nil.
	OnDelivered func(ctx context.Context, d Delivery)

	// Metrics receives relay instruments. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Relay is the transcript relay. Create one with [New] and drive it with
// [Relay.Run] from a single goroutine. [Relay.Connected] is safe for
// concurrent use.
type Relay struct {
	dialer      transport.Dialer
	source      Source
	maxRetries  int
	backoff     time.Duration
	maxBackoff  time.Duration
	onDelivered func(context.Context, Delivery)
	metrics     *observe.Metrics

	connected atomic.Bool
	delivered atomic.Int64

	// pending holds a taken transcript that has not been sent yet.
	pending *transcript.Result

	// failures counts consecutive failed dials and connections that ended
	// before any send succeeded. wait is the pause before the next attempt.
	failures int
	wait     time.Duration
}

// New creates a Relay from cfg.
func New(cfg Config) (*Relay, error) {
	if cfg.Dialer == nil {
		return nil, errors.New("relay: dialer is required")
	}
	if cfg.Source == nil {
		return nil, errors.New("relay: source is required")
	}
	r := &Relay{
		dialer:      cfg.Dialer,
		source:      cfg.Source,
		maxRetries:  cfg.MaxRetries,
		backoff:     cfg.Backoff,
		maxBackoff:  cfg.MaxBackoff,
		onDelivered: cfg.OnDelivered,
		metrics:     cfg.Metrics,
	}
	if r.maxRetries <= 0 {
		r.maxRetries = defaultMaxRetries
	}
	if r.backoff <= 0 {
		r.backoff = defaultBackoff
	}
	if r.maxBackoff <= 0 {
		r.maxBackoff = defaultMaxBackoff
	}
	if r.maxBackoff < r.backoff {
		r.maxBackoff = r.backoff
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	r.wait = r.backoff
	return r, nil
}

// Connected reports whether the relay currently holds an open connection.
func (r *Relay) Connected() bool { return r.connected.Load() }

// Delivered returns the number of transcripts sent successfully.
func (r *Relay) Delivered() int64 { return r.delivered.Load() }

// Check is a readiness probe that fails while the relay is disconnected.
func (r *Relay) Check(context.Context) error {
	if !r.Connected() {
		return errors.New("relay not connected")
	}
	return nil
}

// Run connects and delivers transcripts until ctx is done or MaxRetries
// consecutive attempts failed, in which case the returned error wraps
// [ErrUnavailable]. A failed dial and a connection that breaks before any
// send succeeded both count as an attempt and are followed by the backoff.
// A successful send resets the count.
func (r *Relay) Run(ctx context.Context) error {
	for {
		conn, err := r.connect(ctx)
		if err != nil {
			return err
		}
		r.setConnected(true)

		before := r.delivered.Load()
		err = r.serve(ctx, conn)

		r.setConnected(false)
		if cerr := conn.Close(); cerr != nil {
			slog.Debug("relay close connection", "err", cerr)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if r.delivered.Load() > before {
			if errors.Is(err, transport.ErrClosed) {
				slog.Info("relay connection closed by endpoint, reconnecting")
			} else {
				slog.Warn("relay connection failed, reconnecting", "err", err)
			}
			continue
		}
		slog.Warn("relay connection failed before delivering, backing off",
			"attempt", r.failures+1,
			"max_retries", r.maxRetries,
			"backoff", r.wait,
			"err", err,
		)
		if err := r.fail(ctx, err); err != nil {
			return err
		}
	}
}

// connect dials until a connection is open, backing off between failures.
func (r *Relay) connect(ctx context.Context) (transport.Conn, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		conn, err := r.dialer.Dial(ctx)
		if err == nil {
			r.metrics.RecordRelayDial(ctx, "ok")
			slog.Info("relay connected", "failures", r.failures)
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.metrics.RecordRelayDial(ctx, "error")
		slog.Warn("relay connect attempt failed",
			"attempt", r.failures+1,
			"max_retries", r.maxRetries,
			"backoff", r.wait,
			"err", err,
		)
		if err := r.fail(ctx, err); err != nil {
			return nil, err
		}
	}
}

// fail counts one failed attempt. It returns an error wrapping
// [ErrUnavailable] once MaxRetries attempts in a row failed; otherwise it
// sleeps the current backoff and doubles it up to MaxBackoff.
func (r *Relay) fail(ctx context.Context, cause error) error {
	r.failures++
	if r.failures >= r.maxRetries {
		slog.Error("relay giving up", "max_retries", r.maxRetries, "err", cause)
		return fmt.Errorf("%w after %d attempts: %w", ErrUnavailable, r.failures, cause)
	}

	t := time.NewTimer(r.wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}
	r.wait = min(r.wait*2, r.maxBackoff)
	return nil
}

// serve runs the take-send-wait cycle on one connection until it fails.
func (r *Relay) serve(ctx context.Context, conn transport.Conn) error {
	for {
		if r.pending == nil {
			res, err := r.source.Take(ctx)
			if err != nil {
				return err
			}
			r.pending = &res
		}
		if err := r.deliver(ctx, conn, *r.pending); err != nil {
			return err
		}
	}
}

// deliver sends res and waits for the endpoint's reaction. It clears the
// pending transcript once the send succeeded.
func (r *Relay) deliver(ctx context.Context, conn transport.Conn, res transcript.Result) error {
	ctx, span := observe.StartSpan(ctx, "relay.deliver",
		trace.WithAttributes(
			attribute.String("run_id", res.RunID),
			attribute.Int("segment_id", res.SegmentID),
		),
	)
	defer span.End()
	log := observe.Logger(ctx)

	sentAt := time.Now()
	if err := conn.Send(ctx, res.Text); err != nil {
		r.metrics.RecordRelaySend(ctx, "error")
		observe.FailSpan(span, err, "send failed")
		log.Warn("relay send failed, will resend", "segment_id", res.SegmentID, "err", err)
		return fmt.Errorf("relay: send segment %d: %w", res.SegmentID, err)
	}
	r.pending = nil
	r.delivered.Add(1)
	r.failures, r.wait = 0, r.backoff
	r.metrics.RecordRelaySend(ctx, "ok")
	if !res.PublishedAt.IsZero() {
		r.metrics.DeliveryLatency.Record(ctx, sentAt.Sub(res.PublishedAt).Seconds())
	}
	log.Info("transcript sent", "segment_id", res.SegmentID, "text", res.Text)

	reply, err := conn.Receive(ctx)
	switch {
	case err == nil:
		r.metrics.RelayReplies.Add(ctx, 1)
		log.Info("relay reply", "segment_id", res.SegmentID, "reply", reply)
		r.notify(ctx, Delivery{Result: res, Reply: reply, SentAt: sentAt})
		return nil
	case errors.Is(err, transport.ErrClosed):
		log.Info("relay endpoint closed connection", "segment_id", res.SegmentID)
		r.notify(ctx, Delivery{Result: res, SentAt: sentAt})
		return err
	default:
		if ctx.Err() == nil {
			observe.FailSpan(span, err, "receive failed")
		}
		return fmt.Errorf("relay: wait for reply: %w", err)
	}
}

func (r *Relay) notify(ctx context.Context, d Delivery) {
	if r.onDelivered != nil {
		r.onDelivered(ctx, d)
	}
}

func (r *Relay) setConnected(v bool) {
	if r.connected.Swap(v) == v {
		return
	}
	if v {
		r.metrics.RelayConnected.Add(context.Background(), 1)
	} else {
		r.metrics.RelayConnected.Add(context.Background(), -1)
	}
}
