// Package app wires the wakerelay subsystems into a running application.
//
// The App owns the full lifecycle: New checks the providers and builds the
// capture machine, transcript relay, archive recorder and optional listeners;
// Run drives them under one errgroup; Shutdown releases providers and stores.
//
// For testing, inject doubles via functional options (WithArchiveStore,
// WithReporter, WithMetrics). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nypyp/metahuman-stream/internal/archive"
	"github.com/nypyp/metahuman-stream/internal/capture"
	"github.com/nypyp/metahuman-stream/internal/config"
	"github.com/nypyp/metahuman-stream/internal/greeter"
	"github.com/nypyp/metahuman-stream/internal/health"
	"github.com/nypyp/metahuman-stream/internal/observe"
	"github.com/nypyp/metahuman-stream/internal/relay"
	"github.com/nypyp/metahuman-stream/internal/transcript"
	"github.com/nypyp/metahuman-stream/pkg/audio"
	"github.com/nypyp/metahuman-stream/pkg/provider/asr"
	"github.com/nypyp/metahuman-stream/pkg/provider/kws"
	"github.com/nypyp/metahuman-stream/pkg/transport"
)

// drainPoll is how often Run checks whether the relay caught up after the
// audio source ended.
const drainPoll = 50 * time.Millisecond

// Providers holds the external capabilities the run loop consumes. All four
// are required by [New].
type Providers struct {
	Audio   audio.Source
	Keyword kws.Spotter
	ASR     asr.Recognizer
	Relay   transport.Dialer
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	runID     string
	metrics   *observe.Metrics
	reporter  capture.Reporter

	slot     *transcript.Slot
	machine  *capture.Machine
	relay    *relay.Relay
	store    archive.Store
	recorder *archive.Recorder
	greeter  *greeter.Server
	health   *health.Handler
	httpSrv  *http.Server

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithArchiveStore injects a store instead of opening archive.driver.
func WithArchiveStore(s archive.Store) Option {
	return func(a *App) { a.store = s }
}

// WithReporter replaces the terminal progress reporter.
func WithReporter(r capture.Reporter) Option {
	return func(a *App) { a.reporter = r }
}

// WithMetrics sets the metrics instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithRunID fixes the run identifier instead of generating a UUID.
func WithRunID(id string) Option {
	return func(a *App) { a.runID = id }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App. Missing providers are reported before anything is
// started; on any error the providers are closed.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if err := checkProviders(providers); err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.runID == "" {
		a.runID = uuid.NewString()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.reporter == nil {
		if cfg.Capture.ShowPartials {
			a.reporter = capture.NewTerminalReporter(os.Stdout)
		} else {
			a.reporter = capture.NopReporter{}
		}
	}
	a.closers = append(a.closers, providers.Audio.Close, providers.Keyword.Close, providers.ASR.Close)

	// ── 1. Capture ───────────────────────────────────────────────────────
	if err := a.initCapture(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init capture: %w", err)
	}

	// ── 2. Archive ───────────────────────────────────────────────────────
	if err := a.initArchive(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init archive: %w", err)
	}

	// ── 3. Relay ─────────────────────────────────────────────────────────
	if err := a.initRelay(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init relay: %w", err)
	}

	// ── 4. Listeners ─────────────────────────────────────────────────────
	a.initListeners()

	slog.Info("application initialised",
		"run_id", a.runID,
		"sample_rate", providers.Audio.SampleRate(),
		"archive", cfg.Archive.Driver,
		"greeter", cfg.Greeter.Enabled,
	)
	return a, nil
}

func checkProviders(p *Providers) error {
	if p == nil {
		return errors.New("app: providers are required")
	}
	var errs []error
	if p.Audio == nil {
		errs = append(errs, errors.New("app: audio source is not configured"))
	}
	if p.Keyword == nil {
		errs = append(errs, errors.New("app: keyword spotter is not configured"))
	}
	if p.ASR == nil {
		errs = append(errs, errors.New("app: speech recognizer is not configured"))
	}
	if p.Relay == nil {
		errs = append(errs, errors.New("app: relay endpoint is not configured"))
	}
	return errors.Join(errs...)
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initCapture() error {
	spot, err := a.providers.Keyword.NewStream()
	if err != nil {
		return fmt.Errorf("keyword stream: %w", err)
	}
	a.closers = append(a.closers, func() error { spot.Close(); return nil })

	rec, err := a.providers.ASR.NewStream()
	if err != nil {
		return fmt.Errorf("recognizer stream: %w", err)
	}
	a.closers = append(a.closers, func() error { rec.Close(); return nil })

	a.slot = transcript.NewSlot()
	a.machine = capture.New(a.providers.Audio, spot, rec, a.slot,
		capture.WithReporter(a.reporter),
		capture.WithMetrics(a.metrics),
		capture.WithRunID(a.runID),
	)
	return nil
}

// initArchive opens the configured store unless one was injected.
func (a *App) initArchive(ctx context.Context) error {
	if a.store == nil {
		store, err := OpenArchive(ctx, a.cfg.Archive)
		if err != nil {
			return err
		}
		a.store = store
	}
	if a.store == nil {
		return nil
	}
	a.recorder = archive.NewRecorder(a.store, archive.WithMetrics(a.metrics))
	a.closers = append(a.closers, a.recorder.Close)
	return nil
}

func (a *App) initRelay() error {
	cfg := relay.Config{
		Dialer:     a.providers.Relay,
		Source:     a.slot,
		MaxRetries: a.cfg.Relay.MaxRetries,
		Backoff:    a.cfg.Relay.Backoff,
		MaxBackoff: a.cfg.Relay.MaxBackoff,
		Metrics:    a.metrics,
	}
	if a.recorder != nil {
		cfg.OnDelivered = a.recorder.Record
	}
	r, err := relay.New(cfg)
	if err != nil {
		return err
	}
	a.relay = r
	return nil
}

// initListeners creates the greeter and the observability server when
// configured. Neither binds until Run.
func (a *App) initListeners() {
	a.health = health.New(health.Checker{Name: "relay", Check: a.relay.Check})

	if a.cfg.Greeter.Enabled {
		var opts []greeter.Option
		if a.cfg.Greeter.Message != "" {
			opts = append(opts, greeter.WithMessage(a.cfg.Greeter.Message))
		}
		opts = append(opts, greeter.WithMetrics(a.metrics))
		a.greeter = greeter.New(a.cfg.Greeter.ListenAddr, opts...)
	}

	if a.cfg.Server.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", observe.MetricsHandler())
		a.health.Register(mux)
		a.httpSrv = &http.Server{
			Addr:              a.cfg.Server.ListenAddr,
			Handler:           observe.Middleware(a.metrics)(mux),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// RunID returns the identifier stamped on every published transcript.
func (a *App) RunID() string { return a.runID }

// Health returns the probe handler, for callers that mount it elsewhere.
func (a *App) Health() *health.Handler { return a.health }

// Run drives capture, relay and listeners until ctx is cancelled or one of
// them fails. A failure in any component cancels the others. When the audio
// source ends, Run waits for the relay to send every published transcript
// and then returns nil.
func (a *App) Run(ctx context.Context) error {
	ctx, finish := context.WithCancel(ctx)
	defer finish()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.machine.Run(gctx); err != nil {
			return err
		}
		slog.Info("audio source ended; waiting for relay", "published", a.machine.SegmentID())
		if err := a.waitDelivered(gctx, int64(a.machine.SegmentID())); err != nil {
			return err
		}
		finish()
		return nil
	})

	g.Go(func() error {
		return a.relay.Run(gctx)
	})

	if a.greeter != nil {
		g.Go(func() error { return a.greeter.Serve(gctx) })
	}

	if a.httpSrv != nil {
		g.Go(func() error {
			stop := context.AfterFunc(gctx, func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = a.httpSrv.Shutdown(shutdownCtx)
			})
			defer stop()
			slog.Info("http server listening", "addr", a.httpSrv.Addr)
			if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http: %w", err)
			}
			return nil
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// waitDelivered blocks until the relay has sent n transcripts.
func (a *App) waitDelivered(ctx context.Context, n int64) error {
	t := time.NewTicker(drainPoll)
	defer t.Stop()
	for a.relay.Delivered() < n {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases streams, providers and the archive. It respects the
// context deadline: once ctx expires the remaining closers are skipped.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers collected so far after a failed New.
func (a *App) closeAll() {
	_ = a.Shutdown(context.Background())
}
