// Package resilience provides a circuit breaker and ordered failover across
// equivalent backends.
//
// [CircuitBreaker] guards a single dependency such as the transcript archive.
// [FallbackGroup] puts one breaker in front of each of several interchangeable
// backends (relay endpoints, chat models) and tries them in order.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until ResetTimeout has
	// passed since the last failure.
	StateOpen

	// StateHalfOpen lets up to HalfOpenMax probe calls through. They all
	// have to succeed to close the breaker; one failure re-opens it.
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels log lines.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of probe calls admitted while half-open.
	// Default: 3.
	HalfOpenMax int

	// OnStateChange, if set, is called outside the lock after every
	// transition.
	OnStateChange func(name string, from, to State)

	// Now replaces time.Now in tests.
	Now func() time.Time
}

// CircuitBreaker is a three-state breaker.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	onStateChange func(string, State, State)
	now           func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	probes    int
	probeWins int
}

// NewCircuitBreaker creates a closed breaker. Zero config fields take their
// defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		halfOpenMax:   cfg.HalfOpenMax,
		onStateChange: cfg.OnStateChange,
		now:           cfg.Now,
	}
	if cb.maxFailures <= 0 {
		cb.maxFailures = 5
	}
	if cb.resetTimeout <= 0 {
		cb.resetTimeout = 30 * time.Second
	}
	if cb.halfOpenMax <= 0 {
		cb.halfOpenMax = 3
	}
	if cb.now == nil {
		cb.now = time.Now
	}
	return cb
}

// Name returns the configured label.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn unless the breaker rejects the call. Cancellation of ctx is
// not counted as a failure of the dependency.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	probe, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn(ctx)

	switch {
	case err == nil:
		cb.settle(probe, true)
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		cb.release(probe)
	default:
		cb.settle(probe, false)
	}
	return err
}

// admit decides whether a call may proceed and whether it is a probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	var from State
	changed := false
	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			cb.mu.Unlock()
			return false, ErrCircuitOpen
		}
		from, changed = cb.state, true
		cb.state = StateHalfOpen
		cb.probes, cb.probeWins = 0, 0
		fallthrough
	case StateHalfOpen:
		if cb.probes >= cb.halfOpenMax {
			cb.mu.Unlock()
			cb.notify(changed, from, StateHalfOpen)
			return false, ErrCircuitOpen
		}
		cb.probes++
		cb.mu.Unlock()
		cb.notify(changed, from, StateHalfOpen)
		return true, nil
	}
	cb.mu.Unlock()
	return false, nil
}

func (cb *CircuitBreaker) settle(probe, ok bool) {
	cb.mu.Lock()
	from := cb.state
	switch {
	case ok && probe && cb.state == StateHalfOpen:
		cb.probeWins++
		if cb.probeWins >= cb.halfOpenMax {
			cb.state = StateClosed
			cb.failures = 0
		}
	case ok:
		cb.failures = 0
	case probe && cb.state == StateHalfOpen:
		cb.trip()
	default:
		cb.failures++
		if cb.state == StateClosed && cb.failures >= cb.maxFailures {
			cb.trip()
		}
	}
	to := cb.state
	failures := cb.failures
	cb.mu.Unlock()

	if from != to {
		if to == StateOpen {
			slog.Warn("circuit breaker opened", "name", cb.name, "from", from, "consecutive_failures", failures)
		} else {
			slog.Info("circuit breaker closed", "name", cb.name)
		}
	}
	cb.notify(from != to, from, to)
}

// release gives back a probe slot that ended without a verdict.
func (cb *CircuitBreaker) release(probe bool) {
	if !probe {
		return
	}
	cb.mu.Lock()
	if cb.state == StateHalfOpen && cb.probes > 0 {
		cb.probes--
	}
	cb.mu.Unlock()
}

// trip opens the breaker. cb.mu must be held.
func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.failures = cb.maxFailures
}

func (cb *CircuitBreaker) notify(changed bool, from, to State) {
	if changed && cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}

// State returns the current state. An open breaker whose timeout has passed
// reports [StateHalfOpen]; the transition itself happens on the next call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.failures, cb.probes, cb.probeWins = 0, 0, 0
	cb.mu.Unlock()
	slog.Info("circuit breaker reset", "name", cb.name)
	cb.notify(from != StateClosed, from, StateClosed)
}
