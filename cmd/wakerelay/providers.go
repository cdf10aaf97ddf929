package main

import (
	"errors"
	"log/slog"
	"os"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/nypyp/metahuman-stream/internal/config"
	"github.com/nypyp/metahuman-stream/pkg/audio"
	"github.com/nypyp/metahuman-stream/pkg/audio/portaudio"
	"github.com/nypyp/metahuman-stream/pkg/audio/wavfile"
	"github.com/nypyp/metahuman-stream/pkg/provider/asr"
	"github.com/nypyp/metahuman-stream/pkg/provider/asr/whisper"
	"github.com/nypyp/metahuman-stream/pkg/provider/kws"
	"github.com/nypyp/metahuman-stream/pkg/provider/kws/phonetic"
	"github.com/nypyp/metahuman-stream/pkg/provider/llm"
	"github.com/nypyp/metahuman-stream/pkg/provider/llm/anyllm"
	"github.com/nypyp/metahuman-stream/pkg/provider/llm/openai"
	"github.com/nypyp/metahuman-stream/pkg/provider/sherpa"
	"github.com/nypyp/metahuman-stream/pkg/transport"
	natstransport "github.com/nypyp/metahuman-stream/pkg/transport/nats"
	"github.com/nypyp/metahuman-stream/pkg/transport/websocket"
)

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires every built-in factory into reg. Capture
// settings (sample rate, frame size, endpoint rules) come from cfg so that
// all providers agree on them.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	capture := cfg.Capture

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("portaudio", func(entry config.ProviderEntry) (audio.Source, error) {
		return portaudio.Open(
			portaudio.WithDevice(entry.String("device")),
			portaudio.WithSampleRate(capture.SampleRate),
			portaudio.WithFrameDuration(capture.FrameDuration),
		)
	})

	reg.RegisterAudio("wavfile", func(entry config.ProviderEntry) (audio.Source, error) {
		tail, err := entry.Duration("trailing_silence", 0)
		if err != nil {
			return nil, err
		}
		return wavfile.Open(entry.String("path"),
			wavfile.WithFrameDuration(capture.FrameDuration),
			wavfile.WithRealtime(entry.Bool("realtime", false)),
			wavfile.WithTrailingSilence(tail),
		)
	})

	// ── Keyword spotting ──────────────────────────────────────────────────────

	reg.RegisterKeyword("sherpa", func(entry config.ProviderEntry) (kws.Spotter, error) {
		return sherpa.NewSpotter(sherpa.SpotterConfig{
			Model:             modelConfig(entry),
			KeywordsFile:      entry.String("keywords_file"),
			KeywordsScore:     float32(entry.Float("keywords_score", 0)),
			KeywordsThreshold: float32(entry.Float("keywords_threshold", 0)),
			NumTrailingBlanks: entry.Int("num_trailing_blanks", 0),
		})
	})

	// phonetic runs a whisper recognizer continuously and matches keyword
	// phrases against its transcript.
	reg.RegisterKeyword("phonetic", func(entry config.ProviderEntry) (kws.Spotter, error) {
		keywords, err := kws.LoadKeywords(entry.String("keywords_file"))
		if err != nil {
			return nil, err
		}
		rec, err := newWhisper(entry, capture.Endpoint)
		if err != nil {
			return nil, err
		}
		sp, err := phonetic.NewSpotter(rec, keywords, phonetic.WithThresholds(
			entry.Float("phonetic_threshold", 0),
			entry.Float("fuzzy_threshold", 0),
		))
		if err != nil {
			_ = rec.Close()
			return nil, err
		}
		return sp, nil
	})

	// ── ASR ───────────────────────────────────────────────────────────────────

	reg.RegisterASR("sherpa", func(entry config.ProviderEntry) (asr.Recognizer, error) {
		return sherpa.NewRecognizer(sherpa.RecognizerConfig{
			Model:          modelConfig(entry),
			DecodingMethod: entry.String("decoding_method"),
			MaxActivePaths: entry.Int("max_active_paths", 0),
			Endpoint:       capture.Endpoint,
			HotwordsFile:   entry.String("hotwords_file"),
			HotwordsScore:  float32(entry.Float("hotwords_score", 0)),
		})
	})

	reg.RegisterASR("whisper", func(entry config.ProviderEntry) (asr.Recognizer, error) {
		return newWhisper(entry, capture.Endpoint)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		key := entry.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := entry.String("organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		return openai.New(key, entry.Model, opts...)
	})

	// Every other vendor goes through any-llm-go. An empty key lets the
	// backend read its own environment variable.
	for _, backend := range anyllm.Backends() {
		if backend == "openai" {
			continue
		}
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	// ── Transport ─────────────────────────────────────────────────────────────

	reg.RegisterTransport("websocket", func(entry config.ProviderEntry) (transport.Dialer, error) {
		timeout, err := entry.Duration("dial_timeout", 0)
		if err != nil {
			return nil, err
		}
		var opts []websocket.Option
		if timeout > 0 {
			opts = append(opts, websocket.WithDialTimeout(timeout))
		}
		if entry.APIKey != "" {
			opts = append(opts, websocket.WithHeader("Authorization", "Bearer "+entry.APIKey))
		}
		return websocket.NewDialer(entry.BaseURL, opts...)
	})

	reg.RegisterTransport("nats", func(entry config.ProviderEntry) (transport.Dialer, error) {
		timeout, err := entry.Duration("dial_timeout", 0)
		if err != nil {
			return nil, err
		}
		var opts []natstransport.Option
		if timeout > 0 {
			opts = append(opts, natstransport.WithDialTimeout(timeout))
		}
		if entry.APIKey != "" {
			opts = append(opts, natstransport.WithToken(entry.APIKey))
		}
		if name := entry.String("client_name"); name != "" {
			opts = append(opts, natstransport.WithName(name))
		}
		return natstransport.NewDialer(entry.BaseURL, entry.String("subject"), opts...)
	})

	for kind, names := range reg.Names() {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// modelConfig reads the transducer model paths shared by both sherpa
// providers.
func modelConfig(entry config.ProviderEntry) sherpa.ModelConfig {
	return sherpa.ModelConfig{
		Tokens:     entry.String("tokens"),
		Encoder:    entry.String("encoder"),
		Decoder:    entry.String("decoder"),
		Joiner:     entry.String("joiner"),
		NumThreads: entry.Int("num_threads", 0),
		Provider:   entry.String("execution_provider"),
	}
}

func newWhisper(entry config.ProviderEntry, ep asr.EndpointConfig) (*whisper.Recognizer, error) {
	path := entry.String("model_path")
	if path == "" {
		path = entry.Model
	}
	if path == "" {
		return nil, errors.New("whisper: options.model_path is required")
	}
	opts := []whisper.Option{whisper.WithEndpoint(ep)}
	if lang := entry.String("language"); lang != "" {
		opts = append(opts, whisper.WithLanguage(lang))
	}
	if rms := entry.Float("rms_threshold", 0); rms > 0 {
		opts = append(opts, whisper.WithRMSThreshold(rms))
	}
	return whisper.New(path, opts...)
}
