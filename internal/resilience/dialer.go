package resilience

import (
	"context"

	"github.com/nypyp/metahuman-stream/pkg/transport"
)

var _ transport.Dialer = (*DialerFallback)(nil)

// DialerFallback is a [transport.Dialer] that dials the first reachable of
// several relay endpoints. An endpoint that keeps refusing connections is
// skipped by its breaker until its reset timeout passes.
type DialerFallback struct {
	group *FallbackGroup[transport.Dialer]
}

// NewDialerFallback creates a DialerFallback preferring primary.
func NewDialerFallback(name string, primary transport.Dialer, cfg FallbackConfig) *DialerFallback {
	return &DialerFallback{group: NewFallbackGroup(name, primary, cfg)}
}

// Add registers another endpoint.
func (f *DialerFallback) Add(name string, d transport.Dialer) {
	f.group.Add(name, d)
}

// Endpoints returns the endpoint names in preference order.
func (f *DialerFallback) Endpoints() []string { return f.group.Names() }

// Dial implements [transport.Dialer].
func (f *DialerFallback) Dial(ctx context.Context) (transport.Conn, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, d transport.Dialer) (transport.Conn, error) {
		return d.Dial(ctx)
	})
}
