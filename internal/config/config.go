// Package config provides the configuration schema, loader, and provider
// registry for wakerelay.
package config

import (
	"fmt"
	"time"

	"github.com/nypyp/metahuman-stream/pkg/provider/asr"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the log handler.
type LogFormat string

const (
	FormatText   LogFormat = "text"
	FormatJSON   LogFormat = "json"
	FormatPretty LogFormat = "pretty"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == FormatText || f == FormatJSON || f == FormatPretty
}

// ArchiveDriver selects the delivered-transcript store.
type ArchiveDriver string

const (
	ArchiveNone     ArchiveDriver = "none"
	ArchiveSQLite   ArchiveDriver = "sqlite"
	ArchivePostgres ArchiveDriver = "postgres"
)

// IsValid reports whether d is a recognised archive driver.
func (d ArchiveDriver) IsValid() bool {
	switch d {
	case ArchiveNone, ArchiveSQLite, ArchivePostgres:
		return true
	}
	return false
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultSampleRate    = 48000
	DefaultFrameDuration = 100 * time.Millisecond
	DefaultMaxRetries    = 10
	DefaultBackoff       = time.Second
	DefaultMaxBackoff    = 30 * time.Second
	DefaultGreeterAddr   = "0.0.0.0:8010"
	DefaultChatHistory   = 20
	DefaultArchivePath   = "data/wakerelay.db"
)

// Config is the root configuration. Load it with [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Capture   CaptureConfig   `yaml:"capture"`
	Relay     RelayConfig     `yaml:"relay"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Greeter   GreeterConfig   `yaml:"greeter"`
	Chat      ChatConfig      `yaml:"chat"`
}

// ServerConfig holds logging settings and the optional observability
// listener.
type ServerConfig struct {
	// ListenAddr serves /metrics, /healthz and /readyz when set (e.g. ":9090").
	ListenAddr string `yaml:"listen_addr"`

	LogLevel  LogLevel  `yaml:"log_level"`
	LogFormat LogFormat `yaml:"log_format"`
}

// ProvidersConfig selects the implementation for each external capability.
// Each entry names a factory registered in the [Registry].
type ProvidersConfig struct {
	Audio   ProviderEntry `yaml:"audio"`
	Keyword ProviderEntry `yaml:"keyword"`
	ASR     ProviderEntry `yaml:"asr"`
	LLM     ProviderEntry `yaml:"llm"`

	// LLMFallbacks are tried in order when the primary LLM fails.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
}

// ProviderEntry is the configuration block shared by all provider kinds.
type ProviderEntry struct {
	// Name selects the registered factory (e.g. "sherpa", "openai").
	Name string `yaml:"name"`

	// APIKey may reference an environment variable as ${NAME}.
	APIKey string `yaml:"api_key"`

	// BaseURL is the endpoint address. Transports use it as their URL.
	BaseURL string `yaml:"base_url"`

	Model string `yaml:"model"`

	// Options holds provider-specific values such as model file paths.
	Options map[string]any `yaml:"options"`
}

// CaptureConfig tunes the keyword/transcription loop.
type CaptureConfig struct {
	SampleRate    int                `yaml:"sample_rate"`
	FrameDuration time.Duration      `yaml:"frame_duration"`
	Endpoint      asr.EndpointConfig `yaml:"endpoint"`

	// ShowPartials prints partial transcripts to the terminal.
	ShowPartials bool `yaml:"show_partials"`
}

// RelayConfig configures delivery of transcripts to the downstream service.
type RelayConfig struct {
	// Endpoints are tried in order; each is a transport entry ("websocket"
	// or "nats") whose BaseURL is the server address.
	Endpoints []ProviderEntry `yaml:"endpoints"`

	MaxRetries int           `yaml:"max_retries"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// ArchiveConfig configures the delivered-transcript store.
type ArchiveConfig struct {
	Driver ArchiveDriver `yaml:"driver"`

	// DSN is a file path for sqlite and a connection string for postgres.
	DSN string `yaml:"dsn"`
}

// GreeterConfig configures the inbound greeting listener.
type GreeterConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
	Message    string `yaml:"message"`
}

// ChatConfig configures the interactive chat command.
type ChatConfig struct {
	SystemPrompt string `yaml:"system_prompt"`
	History      int    `yaml:"history"`
}

// ApplyDefaults fills zero values with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = FormatText
	}
	if cfg.Capture.SampleRate == 0 {
		cfg.Capture.SampleRate = DefaultSampleRate
	}
	if cfg.Capture.FrameDuration == 0 {
		cfg.Capture.FrameDuration = DefaultFrameDuration
	}
	ep, def := &cfg.Capture.Endpoint, asr.DefaultEndpointConfig()
	if ep.Rule1MinTrailingSilence == 0 {
		ep.Rule1MinTrailingSilence = def.Rule1MinTrailingSilence
	}
	if ep.Rule2MinTrailingSilence == 0 {
		ep.Rule2MinTrailingSilence = def.Rule2MinTrailingSilence
	}
	if ep.Rule3MinUtteranceLength == 0 {
		ep.Rule3MinUtteranceLength = def.Rule3MinUtteranceLength
	}
	if cfg.Relay.MaxRetries == 0 {
		cfg.Relay.MaxRetries = DefaultMaxRetries
	}
	if cfg.Relay.Backoff == 0 {
		cfg.Relay.Backoff = DefaultBackoff
	}
	if cfg.Relay.MaxBackoff == 0 {
		cfg.Relay.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.Archive.Driver == "" {
		cfg.Archive.Driver = ArchiveNone
	}
	if cfg.Archive.Driver == ArchiveSQLite && cfg.Archive.DSN == "" {
		cfg.Archive.DSN = DefaultArchivePath
	}
	if cfg.Greeter.ListenAddr == "" {
		cfg.Greeter.ListenAddr = DefaultGreeterAddr
	}
	if cfg.Chat.History == 0 {
		cfg.Chat.History = DefaultChatHistory
	}
}

// ── Option accessors ──────────────────────────────────────────────────────────

// String returns Options[key] as a string, or "" when absent or not a string.
func (e ProviderEntry) String(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// Float returns Options[key] as a float64, or def. YAML integers are accepted.
func (e ProviderEntry) Float(key string, def float64) float64 {
	switch v := e.Options[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

// Int returns Options[key] as an int, or def.
func (e ProviderEntry) Int(key string, def int) int {
	if v, ok := e.Options[key].(int); ok {
		return v
	}
	return def
}

// Bool returns Options[key] as a bool, or def.
func (e ProviderEntry) Bool(key string, def bool) bool {
	if v, ok := e.Options[key].(bool); ok {
		return v
	}
	return def
}

// Duration parses Options[key] with time.ParseDuration. A missing key yields
// def; a malformed value is an error.
func (e ProviderEntry) Duration(key string, def time.Duration) (time.Duration, error) {
	raw, ok := e.Options[key]
	if !ok {
		return def, nil
	}
	s, ok := raw.(string)
	if !ok {
		return 0, fmt.Errorf("config: option %q: want a duration string, got %T", key, raw)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("config: option %q: %w", key, err)
	}
	return d, nil
}
