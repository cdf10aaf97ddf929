package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the built-in provider names per kind. [Validate]
// warns about names outside this list; they may still be registered by a
// custom build.
var ValidProviderNames = map[string][]string{
	"audio":     {"portaudio", "wavfile"},
	"keyword":   {"sherpa", "phonetic"},
	"asr":       {"sherpa", "whisper"},
	"llm":       {"openai", "anthropic", "deepseek", "gemini", "groq", "llamacpp", "llamafile", "mistral", "ollama"},
	"transport": {"websocket", "nats"},
}

// Load reads the YAML file at path and returns a defaulted, validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r, expands ${VAR} references in secrets
// and addresses, applies defaults and validates the result. Unknown keys are
// rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	expandEnv(cfg)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv substitutes environment variables in every api_key and base_url
// and in the archive DSN. Unset variables expand to "".
func expandEnv(cfg *Config) {
	entries := []*ProviderEntry{
		&cfg.Providers.Audio, &cfg.Providers.Keyword,
		&cfg.Providers.ASR, &cfg.Providers.LLM,
	}
	for i := range cfg.Providers.LLMFallbacks {
		entries = append(entries, &cfg.Providers.LLMFallbacks[i])
	}
	for i := range cfg.Relay.Endpoints {
		entries = append(entries, &cfg.Relay.Endpoints[i])
	}
	for _, e := range entries {
		e.APIKey = os.ExpandEnv(e.APIKey)
		e.BaseURL = os.ExpandEnv(e.BaseURL)
	}
	cfg.Archive.DSN = os.ExpandEnv(cfg.Archive.DSN)
}

// Validate checks cfg for contradictory or out-of-range values and returns
// every problem found, joined.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json, pretty", cfg.Server.LogFormat))
	}

	// Providers
	validateProviderName("audio", cfg.Providers.Audio.Name)
	validateProviderName("keyword", cfg.Providers.Keyword.Name)
	validateProviderName("asr", cfg.Providers.ASR.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("llm", fb.Name)
	}
	if len(cfg.Providers.LLMFallbacks) > 0 && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm_fallbacks requires providers.llm"))
	}

	// Capture
	if cfg.Capture.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must be positive", cfg.Capture.SampleRate))
	}
	if cfg.Capture.FrameDuration < 0 {
		errs = append(errs, fmt.Errorf("capture.frame_duration %s must be positive", cfg.Capture.FrameDuration))
	}
	if err := cfg.Capture.Endpoint.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("capture.endpoint: %w", err))
	}
	if cfg.Providers.Keyword.Name != "" && cfg.Providers.ASR.Name == "" {
		slog.Warn("providers.keyword is set but providers.asr is not; nothing will be transcribed after a keyword")
	}

	// Relay
	for i, ep := range cfg.Relay.Endpoints {
		prefix := fmt.Sprintf("relay.endpoints[%d]", i)
		if ep.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			validateProviderName("transport", ep.Name)
		}
		if ep.BaseURL == "" {
			errs = append(errs, fmt.Errorf("%s.base_url is required", prefix))
		}
	}
	if cfg.Relay.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("relay.max_retries %d must not be negative", cfg.Relay.MaxRetries))
	}
	if cfg.Relay.Backoff < 0 || cfg.Relay.MaxBackoff < 0 {
		errs = append(errs, errors.New("relay.backoff and relay.max_backoff must not be negative"))
	}
	if cfg.Relay.MaxBackoff > 0 && cfg.Relay.Backoff > cfg.Relay.MaxBackoff {
		errs = append(errs, fmt.Errorf("relay.backoff %s exceeds relay.max_backoff %s", cfg.Relay.Backoff, cfg.Relay.MaxBackoff))
	}

	// Archive
	if cfg.Archive.Driver != "" && !cfg.Archive.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("archive.driver %q is invalid; valid values: none, sqlite, postgres", cfg.Archive.Driver))
	}
	if cfg.Archive.Driver == ArchivePostgres && cfg.Archive.DSN == "" {
		errs = append(errs, errors.New("archive.dsn is required when archive.driver is postgres"))
	}

	// Greeter
	if cfg.Greeter.Enabled && cfg.Greeter.ListenAddr == "" {
		errs = append(errs, errors.New("greeter.listen_addr is required when the greeter is enabled"))
	}

	// Chat
	if cfg.Chat.History < 0 {
		errs = append(errs, fmt.Errorf("chat.history %d must not be negative", cfg.Chat.History))
	}

	return errors.Join(errs...)
}

// validateProviderName warns when name is set but not a built-in for kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or a custom registration",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
