package app_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/nypyp/metahuman-stream/internal/app"
	"github.com/nypyp/metahuman-stream/internal/archive"
	"github.com/nypyp/metahuman-stream/internal/capture"
	"github.com/nypyp/metahuman-stream/internal/config"
	"github.com/nypyp/metahuman-stream/internal/observe"
	"github.com/nypyp/metahuman-stream/internal/relay"
	"github.com/nypyp/metahuman-stream/internal/resilience"
	audiomock "github.com/nypyp/metahuman-stream/pkg/audio/mock"
	asrmock "github.com/nypyp/metahuman-stream/pkg/provider/asr/mock"
	kwsmock "github.com/nypyp/metahuman-stream/pkg/provider/kws/mock"
	"github.com/nypyp/metahuman-stream/pkg/provider/llm"
	llmmock "github.com/nypyp/metahuman-stream/pkg/provider/llm/mock"
	"github.com/nypyp/metahuman-stream/pkg/transport"
	transportmock "github.com/nypyp/metahuman-stream/pkg/transport/mock"
)

// memStore is an in-memory archive.Store.
type memStore struct {
	mu      sync.Mutex
	records []archive.Record
	closed  bool
}

func (s *memStore) Append(_ context.Context, r archive.Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = int64(len(s.records) + 1)
	s.records = append(s.records, r)
	return r.ID, nil
}

func (s *memStore) Recent(_ context.Context, limit int) ([]archive.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[:min(limit, len(s.records))], nil
}

func (s *memStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memStore) snapshot() []archive.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]archive.Record(nil), s.records...)
}

func testConfig() *config.Config {
	cfg := &config.Config{
		Relay: config.RelayConfig{
			MaxRetries: 3,
			Backoff:    time.Millisecond,
			MaxBackoff: 5 * time.Millisecond,
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

type fixture struct {
	src     *audiomock.Source
	spotter *kwsmock.Spotter
	rec     *asrmock.Recognizer
	dialer  *transportmock.Dialer
	conn    *transportmock.Conn
}

// newFixture scripts one utterance: keyword on frame 1, "hello" finalised on
// frame 3.
func newFixture() *fixture {
	conn := transportmock.NewConn()
	return &fixture{
		src: audiomock.NewSource(16000, 1600, 3),
		spotter: &kwsmock.Spotter{Stream: &kwsmock.Stream{
			Keywords: []string{"hey jarvis"},
		}},
		rec: &asrmock.Recognizer{Stream: &asrmock.Stream{
			Script: []asrmock.Step{
				{Text: "hello"},
				{Text: "hello", Endpoint: true},
			},
		}},
		dialer: transportmock.NewDialer(conn),
		conn:   conn,
	}
}

func (f *fixture) providers() *app.Providers {
	return &app.Providers{Audio: f.src, Keyword: f.spotter, ASR: f.rec, Relay: f.dialer}
}

func TestNew_MissingProviders(t *testing.T) {
	t.Parallel()
	_, err := app.New(context.Background(), testConfig(), &app.Providers{})
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"audio source", "keyword spotter", "speech recognizer", "relay endpoint"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %q", err, want)
		}
	}

	if _, err := app.New(context.Background(), testConfig(), nil); err == nil {
		t.Error("nil providers: expected error")
	}
}

func TestNew_StreamErrorClosesProviders(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.rec.NewStreamErr = errors.New("model not loaded")

	_, err := app.New(context.Background(), testConfig(), f.providers(),
		app.WithMetrics(testMetrics(t)))
	if err == nil || !strings.Contains(err.Error(), "model not loaded") {
		t.Fatalf("err = %v", err)
	}
	if !f.src.Closed || !f.spotter.Closed || !f.rec.Closed {
		t.Error("providers should be closed after a failed New")
	}
	if !f.spotter.Stream.Closed {
		t.Error("keyword stream should be closed after a failed New")
	}
}

func TestRun_DeliversAndArchives(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.conn.Reply("ack")
	store := &memStore{}

	a, err := app.New(context.Background(), testConfig(), f.providers(),
		app.WithArchiveStore(store),
		app.WithMetrics(testMetrics(t)),
		app.WithReporter(capture.NopReporter{}),
		app.WithRunID("run-test"),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.RunID() != "run-test" {
		t.Errorf("RunID = %q", a.RunID())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if sent := f.conn.Sent(); len(sent) != 1 || sent[0] != "hello" {
		t.Errorf("sent = %q, want [hello]", sent)
	}
	recs := store.snapshot()
	if len(recs) != 1 {
		t.Fatalf("archived %d records, want 1", len(recs))
	}
	if r := recs[0]; r.RunID != "run-test" || r.SegmentID != 0 || r.Text != "hello" || r.Reply != "ack" {
		t.Errorf("record = %+v", r)
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !f.src.Closed || !f.spotter.Closed || !f.rec.Closed || !store.closed {
		t.Error("Shutdown should close providers and the archive")
	}
	if !f.rec.Stream.Closed {
		t.Error("Shutdown should close the recognizer stream")
	}
}

func TestRun_RelayUnavailable(t *testing.T) {
	t.Parallel()
	f := newFixture()
	down := errors.New("connection refused")
	f.dialer.Errs = []error{down, down, down}

	a, err := app.New(context.Background(), testConfig(), f.providers(),
		app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = a.Run(ctx)
	if !errors.Is(err, relay.ErrUnavailable) {
		t.Fatalf("Run = %v, want ErrUnavailable", err)
	}
	if n := strings.Count(err.Error(), "relay:"); n != 1 {
		t.Errorf("Run error %q carries the relay prefix %d times, want 1", err, n)
	}
	if !errors.Is(err, down) {
		t.Errorf("Run = %v, should wrap the last dial error", err)
	}
}

func TestRun_CaptureFailureStopsRelay(t *testing.T) {
	t.Parallel()
	f := newFixture()
	lost := errors.New("device lost")
	f.src.Frames = nil
	f.src.Err = lost

	a, err := app.New(context.Background(), testConfig(), f.providers(),
		app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = a.Run(ctx)
	if !errors.Is(err, lost) {
		t.Fatalf("Run = %v, want wrapped device error", err)
	}
	if n := strings.Count(err.Error(), "capture:"); n != 1 {
		t.Errorf("Run error %q carries the capture prefix %d times, want 1", err, n)
	}
	if ctx.Err() != nil {
		t.Error("Run should return before the test deadline")
	}
}

func TestRun_CancelledIsClean(t *testing.T) {
	t.Parallel()
	f := newFixture()
	a, err := app.New(context.Background(), testConfig(), f.providers(),
		app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Run(ctx); err != nil {
		t.Errorf("Run with cancelled context = %v, want nil", err)
	}
}

func TestHealth_NotReadyBeforeRun(t *testing.T) {
	t.Parallel()
	f := newFixture()
	a, err := app.New(context.Background(), testConfig(), f.providers(),
		app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	if names := a.Health().Names(); len(names) != 1 || names[0] != "relay" {
		t.Errorf("checkers = %v", names)
	}
}

func TestBuildRelayDialer(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterTransport("mock", func(config.ProviderEntry) (transport.Dialer, error) {
		return transportmock.NewDialer(), nil
	})

	t.Run("none", func(t *testing.T) {
		if _, err := app.BuildRelayDialer(config.RelayConfig{}, reg); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("single", func(t *testing.T) {
		d, err := app.BuildRelayDialer(config.RelayConfig{
			Endpoints: []config.ProviderEntry{{Name: "mock", BaseURL: "ws://a"}},
		}, reg)
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := d.(*transportmock.Dialer); !ok {
			t.Errorf("got %T, want the registered dialer", d)
		}
	})

	t.Run("fallback", func(t *testing.T) {
		d, err := app.BuildRelayDialer(config.RelayConfig{
			Endpoints: []config.ProviderEntry{
				{Name: "mock", BaseURL: "ws://a"},
				{Name: "mock", BaseURL: "ws://b"},
			},
		}, reg)
		if err != nil {
			t.Fatal(err)
		}
		fb, ok := d.(*resilience.DialerFallback)
		if !ok {
			t.Fatalf("got %T, want *resilience.DialerFallback", d)
		}
		if got := fb.Endpoints(); len(got) != 2 || got[0] != "mock:ws://a" || got[1] != "mock:ws://b" {
			t.Errorf("endpoints = %v", got)
		}
	})

	t.Run("unregistered", func(t *testing.T) {
		_, err := app.BuildRelayDialer(config.RelayConfig{
			Endpoints: []config.ProviderEntry{{Name: "carrier-pigeon", BaseURL: "x"}},
		}, reg)
		if !errors.Is(err, config.ErrProviderNotRegistered) {
			t.Errorf("err = %v, want ErrProviderNotRegistered", err)
		}
	})
}

func TestBuildLLM(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{CompleteErr: errors.New("rate limited")}
	backup := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "from backup"}}

	reg := config.NewRegistry()
	reg.RegisterLLM("primary", func(config.ProviderEntry) (llm.Provider, error) { return primary, nil })
	reg.RegisterLLM("backup", func(config.ProviderEntry) (llm.Provider, error) { return backup, nil })

	if _, err := app.BuildLLM(config.ProvidersConfig{}, reg); err == nil {
		t.Error("no llm configured: expected error")
	}

	single, err := app.BuildLLM(config.ProvidersConfig{LLM: config.ProviderEntry{Name: "backup"}}, reg)
	if err != nil {
		t.Fatal(err)
	}
	if single != llm.Provider(backup) {
		t.Error("single provider should be returned unwrapped")
	}

	p, err := app.BuildLLM(config.ProvidersConfig{
		LLM:          config.ProviderEntry{Name: "primary"},
		LLMFallbacks: []config.ProviderEntry{{Name: "backup"}},
	}, reg)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{Messages: []llm.Message{llm.UserMessage("hi")}})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "from backup" {
		t.Errorf("content = %q", resp.Content)
	}
}

func TestOpenArchive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, err := app.OpenArchive(ctx, config.ArchiveConfig{Driver: config.ArchiveNone})
	if err != nil || s != nil {
		t.Errorf("none: store=%v err=%v", s, err)
	}

	s, err = app.OpenArchive(ctx, config.ArchiveConfig{
		Driver: config.ArchiveSQLite,
		DSN:    filepath.Join(t.TempDir(), "archive.db"),
	})
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	if _, err := s.Append(ctx, archive.Record{RunID: "r", Text: "t", DeliveredAt: time.Now()}); err != nil {
		t.Errorf("Append: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}

	if _, err := app.OpenArchive(ctx, config.ArchiveConfig{Driver: "mysql"}); err == nil {
		t.Error("unknown driver: expected error")
	}
}
