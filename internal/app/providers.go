package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nypyp/metahuman-stream/internal/archive"
	"github.com/nypyp/metahuman-stream/internal/archive/postgres"
	"github.com/nypyp/metahuman-stream/internal/archive/sqlite"
	"github.com/nypyp/metahuman-stream/internal/config"
	"github.com/nypyp/metahuman-stream/internal/resilience"
	"github.com/nypyp/metahuman-stream/pkg/provider/llm"
	"github.com/nypyp/metahuman-stream/pkg/transport"
)

// BuildProviders instantiates every provider named in cfg through reg. On
// failure the providers created so far are closed.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	ps := &Providers{}
	var err error
	defer func() {
		if err != nil {
			ps.close()
		}
	}()

	if ps.Audio, err = reg.CreateAudio(cfg.Providers.Audio); err != nil {
		return nil, fmt.Errorf("create audio provider %q: %w", cfg.Providers.Audio.Name, err)
	}
	slog.Info("provider created", "kind", "audio", "name", cfg.Providers.Audio.Name)

	if ps.Keyword, err = reg.CreateKeyword(cfg.Providers.Keyword); err != nil {
		return nil, fmt.Errorf("create keyword provider %q: %w", cfg.Providers.Keyword.Name, err)
	}
	slog.Info("provider created", "kind", "keyword", "name", cfg.Providers.Keyword.Name)

	if ps.ASR, err = reg.CreateASR(cfg.Providers.ASR); err != nil {
		return nil, fmt.Errorf("create asr provider %q: %w", cfg.Providers.ASR.Name, err)
	}
	slog.Info("provider created", "kind", "asr", "name", cfg.Providers.ASR.Name)

	if ps.Relay, err = BuildRelayDialer(cfg.Relay, reg); err != nil {
		return nil, err
	}
	return ps, nil
}

func (p *Providers) close() {
	if p.Audio != nil {
		_ = p.Audio.Close()
	}
	if p.Keyword != nil {
		_ = p.Keyword.Close()
	}
	if p.ASR != nil {
		_ = p.ASR.Close()
	}
}

// BuildRelayDialer creates a dialer for the configured relay endpoints. With
// more than one endpoint the result tries them in order, each behind its own
// circuit breaker.
func BuildRelayDialer(cfg config.RelayConfig, reg *config.Registry) (transport.Dialer, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("no relay endpoint configured (relay.endpoints)")
	}
	dialers := make([]transport.Dialer, len(cfg.Endpoints))
	for i, ep := range cfg.Endpoints {
		d, err := reg.CreateTransport(ep)
		if err != nil {
			return nil, fmt.Errorf("create relay endpoint %d (%s %s): %w", i, ep.Name, ep.BaseURL, err)
		}
		dialers[i] = d
		slog.Info("relay endpoint configured", "transport", ep.Name, "url", ep.BaseURL)
	}
	if len(dialers) == 1 {
		return dialers[0], nil
	}
	fb := resilience.NewDialerFallback(endpointName(cfg.Endpoints[0]), dialers[0], resilience.FallbackConfig{})
	for i := 1; i < len(dialers); i++ {
		fb.Add(endpointName(cfg.Endpoints[i]), dialers[i])
	}
	return fb, nil
}

func endpointName(ep config.ProviderEntry) string {
	return ep.Name + ":" + ep.BaseURL
}

// BuildLLM creates the chat provider and, when fallbacks are configured,
// wraps it so that each fallback is tried in order after a failure.
func BuildLLM(cfg config.ProvidersConfig, reg *config.Registry) (llm.Provider, error) {
	if cfg.LLM.Name == "" {
		return nil, errors.New("no chat provider configured (providers.llm)")
	}
	primary, err := reg.CreateLLM(cfg.LLM)
	if err != nil {
		return nil, err
	}
	if len(cfg.LLMFallbacks) == 0 {
		return primary, nil
	}
	fb := resilience.NewLLMFallback(cfg.LLM.Name, primary, resilience.FallbackConfig{})
	for _, entry := range cfg.LLMFallbacks {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
		}
		fb.Add(entry.Name, p)
	}
	return fb, nil
}

// OpenArchive opens the store selected by cfg.Driver. It returns a nil store
// for [config.ArchiveNone].
func OpenArchive(ctx context.Context, cfg config.ArchiveConfig) (archive.Store, error) {
	switch cfg.Driver {
	case config.ArchiveSQLite:
		s, err := sqlite.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		slog.Info("archive opened", "driver", "sqlite", "path", s.Path())
		return s, nil
	case config.ArchivePostgres:
		s, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		slog.Info("archive opened", "driver", "postgres")
		return s, nil
	case config.ArchiveNone, "":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown archive driver %q", cfg.Driver)
}
