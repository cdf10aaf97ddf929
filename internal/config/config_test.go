package config_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nypyp/metahuman-stream/internal/config"
	"github.com/nypyp/metahuman-stream/pkg/audio"
	audiomock "github.com/nypyp/metahuman-stream/pkg/audio/mock"
	"github.com/nypyp/metahuman-stream/pkg/provider/llm"
	llmmock "github.com/nypyp/metahuman-stream/pkg/provider/llm/mock"
	"github.com/nypyp/metahuman-stream/pkg/transport"
	transportmock "github.com/nypyp/metahuman-stream/pkg/transport/mock"
)

func TestEnumsValid(t *testing.T) {
	t.Parallel()
	if !config.LogWarn.IsValid() || config.LogLevel("trace").IsValid() {
		t.Error("LogLevel.IsValid")
	}
	if !config.FormatPretty.IsValid() || config.LogFormat("xml").IsValid() {
		t.Error("LogFormat.IsValid")
	}
	if !config.ArchiveSQLite.IsValid() || config.ArchiveDriver("redis").IsValid() {
		t.Error("ArchiveDriver.IsValid")
	}
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()
	var cfg config.Config
	config.ApplyDefaults(&cfg)

	if cfg.Server.LogLevel != config.LogInfo || cfg.Server.LogFormat != config.FormatText {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Capture.SampleRate != 48000 || cfg.Capture.FrameDuration != 100*time.Millisecond {
		t.Errorf("capture = %+v", cfg.Capture)
	}
	if cfg.Capture.Endpoint.Rule3MinUtteranceLength != 300*time.Second {
		t.Errorf("endpoint = %+v", cfg.Capture.Endpoint)
	}
	if cfg.Relay.MaxRetries != 10 || cfg.Relay.Backoff != time.Second || cfg.Relay.MaxBackoff != 30*time.Second {
		t.Errorf("relay = %+v", cfg.Relay)
	}
	if cfg.Greeter.ListenAddr != "0.0.0.0:8010" {
		t.Errorf("greeter addr = %q", cfg.Greeter.ListenAddr)
	}
	if cfg.Chat.History != 20 {
		t.Errorf("chat history = %d", cfg.Chat.History)
	}
}

func TestProviderEntryOptions(t *testing.T) {
	t.Parallel()
	e := config.ProviderEntry{Options: map[string]any{
		"str":    "value",
		"float":  0.75,
		"int":    4,
		"bool":   true,
		"dur":    "250ms",
		"baddur": "soon",
		"numdur": 5,
	}}

	if got := e.String("str"); got != "value" {
		t.Errorf("String = %q", got)
	}
	if got := e.String("int"); got != "" {
		t.Errorf("String on int = %q, want empty", got)
	}
	if got := e.Float("float", 0); got != 0.75 {
		t.Errorf("Float = %v", got)
	}
	if got := e.Float("int", 0); got != 4 {
		t.Errorf("Float on int = %v", got)
	}
	if got := e.Float("missing", 1.5); got != 1.5 {
		t.Errorf("Float default = %v", got)
	}
	if got := e.Int("int", 0); got != 4 {
		t.Errorf("Int = %d", got)
	}
	if got := e.Bool("bool", false); !got {
		t.Error("Bool = false")
	}
	if d, err := e.Duration("dur", 0); err != nil || d != 250*time.Millisecond {
		t.Errorf("Duration = %s, %v", d, err)
	}
	if d, err := e.Duration("missing", time.Second); err != nil || d != time.Second {
		t.Errorf("Duration default = %s, %v", d, err)
	}
	if _, err := e.Duration("baddur", 0); err == nil {
		t.Error("Duration on malformed value: expected error")
	}
	if _, err := e.Duration("numdur", 0); err == nil {
		t.Error("Duration on number: expected error")
	}

	var empty config.ProviderEntry
	if empty.String("x") != "" || empty.Int("x", 7) != 7 {
		t.Error("accessors on nil options should return defaults")
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	src := audiomock.NewSource(16000, 160, 1)
	reg.RegisterAudio("mock", func(config.ProviderEntry) (audio.Source, error) { return src, nil })

	var gotEntry config.ProviderEntry
	reg.RegisterLLM("mock", func(e config.ProviderEntry) (llm.Provider, error) {
		gotEntry = e
		return &llmmock.Provider{}, nil
	})

	boom := errors.New("boom")
	reg.RegisterTransport("broken", func(config.ProviderEntry) (transport.Dialer, error) { return nil, boom })
	reg.RegisterTransport("mock", func(config.ProviderEntry) (transport.Dialer, error) {
		return transportmock.NewDialer(), nil
	})

	t.Run("create", func(t *testing.T) {
		got, err := reg.CreateAudio(config.ProviderEntry{Name: "mock"})
		if err != nil {
			t.Fatalf("CreateAudio: %v", err)
		}
		if got != audio.Source(src) {
			t.Error("CreateAudio returned a different source")
		}
		if _, err := got.ReadFrame(context.Background()); err != nil {
			t.Errorf("ReadFrame: %v", err)
		}
	})

	t.Run("entry passed through", func(t *testing.T) {
		if _, err := reg.CreateLLM(config.ProviderEntry{Name: "mock", Model: "m1"}); err != nil {
			t.Fatalf("CreateLLM: %v", err)
		}
		if gotEntry.Model != "m1" {
			t.Errorf("factory saw model %q", gotEntry.Model)
		}
	})

	t.Run("not registered", func(t *testing.T) {
		_, err := reg.CreateASR(config.ProviderEntry{Name: "sherpa"})
		if !errors.Is(err, config.ErrProviderNotRegistered) {
			t.Errorf("err = %v, want ErrProviderNotRegistered", err)
		}
		_, err = reg.CreateKeyword(config.ProviderEntry{Name: "sherpa"})
		if !errors.Is(err, config.ErrProviderNotRegistered) {
			t.Errorf("err = %v, want ErrProviderNotRegistered", err)
		}
	})

	t.Run("factory error wrapped", func(t *testing.T) {
		_, err := reg.CreateTransport(config.ProviderEntry{Name: "broken"})
		if !errors.Is(err, boom) {
			t.Errorf("err = %v, want wrapped boom", err)
		}
	})

	t.Run("names", func(t *testing.T) {
		names := reg.Names()
		if got := names["transport"]; len(got) != 2 || got[0] != "broken" || got[1] != "mock" {
			t.Errorf("transport names = %v", got)
		}
		if got := names["asr"]; len(got) != 0 {
			t.Errorf("asr names = %v", got)
		}
	})
}
