package archive

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nypyp/metahuman-stream/internal/observe"
	"github.com/nypyp/metahuman-stream/internal/relay"
	"github.com/nypyp/metahuman-stream/internal/resilience"
)

const defaultWriteTimeout = 2 * time.Second

// RecorderOption is a functional option for [NewRecorder].
type RecorderOption func(*Recorder)

// WithWriteTimeout bounds each insert. Default: 2s.
func WithWriteTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithBreaker replaces the default breaker.
func WithBreaker(cb *resilience.CircuitBreaker) RecorderOption {
	return func(r *Recorder) {
		if cb != nil {
			r.breaker = cb
		}
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) RecorderOption {
	return func(r *Recorder) {
		if m != nil {
			r.metrics = m
		}
	}
}

// Recorder writes relay deliveries to a [Store]. Every write is bounded by a
// timeout and guarded by a circuit breaker; failures are logged and counted,
// never returned to the relay.
type Recorder struct {
	store   Store
	breaker *resilience.CircuitBreaker
	timeout time.Duration
	metrics *observe.Metrics
	now     func() time.Time
}

// NewRecorder creates a Recorder for store.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:   store,
		timeout: defaultWriteTimeout,
		metrics: observe.DefaultMetrics(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	if r.breaker == nil {
		r.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "archive",
			MaxFailures:  3,
			ResetTimeout: 30 * time.Second,
			HalfOpenMax:  1,
		})
	}
	return r
}

// Record stores d. Its signature matches relay.Config.OnDelivered. The write
// outlives cancellation of ctx but never the write timeout.
func (r *Recorder) Record(ctx context.Context, d relay.Delivery) {
	ctx = context.WithoutCancel(ctx)
	rec := Record{
		RunID:       d.Result.RunID,
		SegmentID:   d.Result.SegmentID,
		Text:        d.Result.Text,
		Reply:       d.Reply,
		PublishedAt: d.Result.PublishedAt,
		DeliveredAt: d.SentAt,
	}
	if rec.DeliveredAt.IsZero() {
		rec.DeliveredAt = r.now()
	}

	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		wctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		_, err := r.store.Append(wctx, rec)
		return err
	})
	switch {
	case err == nil:
		r.metrics.RecordArchiveWrite(ctx, "ok")
	case errors.Is(err, resilience.ErrCircuitOpen):
		r.metrics.RecordArchiveWrite(ctx, "skipped")
		slog.Debug("archive unavailable, transcript not recorded", "segment_id", rec.SegmentID)
	default:
		r.metrics.RecordArchiveWrite(ctx, "error")
		slog.Warn("archive write failed", "segment_id", rec.SegmentID, "err", err)
	}
}

// Close closes the underlying store.
func (r *Recorder) Close() error { return r.store.Close() }
