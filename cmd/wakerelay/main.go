// Command wakerelay listens for a wake keyword, transcribes the utterance that
// follows, and relays each transcript to a downstream service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nypyp/metahuman-stream/internal/app"
	"github.com/nypyp/metahuman-stream/internal/config"
	"github.com/nypyp/metahuman-stream/internal/observe"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "wakerelay: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "wakerelay",
		Short:         "Keyword-gated speech transcription relay",
		Long:          "wakerelay waits for a wake keyword, transcribes the following utterance and sends the text to a websocket or NATS endpoint.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "config.yaml", "path to the YAML configuration file")

	root.AddCommand(
		newRunCmd(),
		newDevicesCmd(),
		newGreetCmd(),
		newProbeCmd(),
		newChatCmd(),
		newHistoryCmd(),
	)
	return root
}

// loadConfig reads --config. When required is false a missing file yields
// the defaults so that stand-alone tools work without one.
func loadConfig(cmd *cobra.Command, required bool) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist) && !required:
		cfg = &config.Config{}
		config.ApplyDefaults(cfg)
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", path)
	default:
		return nil, err
	}
	slog.SetDefault(newLogger(cfg.Server.LogLevel, cfg.Server.LogFormat))
	return cfg, nil
}

// ── run ───────────────────────────────────────────────────────────────────────

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Listen for the wake keyword and relay transcripts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, true)
			if err != nil {
				return err
			}
			return runRelay(cmd.Context(), cfg)
		},
	}
}

func runRelay(ctx context.Context, cfg *config.Config) error {
	slog.Info("wakerelay starting",
		"version", version,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := app.BuildProviders(cfg, reg)
	if err != nil {
		return fmt.Errorf("build providers: %w", err)
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		return err
	}

	slog.Info("listening for the wake keyword; press Ctrl+C to stop", "run_id", application.RunID())
	runErr := application.Run(ctx)

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	if runErr != nil {
		return runErr
	}
	slog.Info("goodbye")
	return nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       wakerelay startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Audio", cfg.Providers.Audio.Name, cfg.Providers.Audio.String("device"))
	printRow("Keyword", cfg.Providers.Keyword.Name, "")
	printRow("ASR", cfg.Providers.ASR.Name, cfg.Providers.ASR.Model)
	for i, ep := range cfg.Relay.Endpoints {
		printRow(fmt.Sprintf("Relay %d", i+1), ep.Name, ep.BaseURL)
	}
	printRow("Archive", string(cfg.Archive.Driver), "")
	if cfg.Greeter.Enabled {
		printRow("Greeter", cfg.Greeter.ListenAddr, "")
	} else {
		printRow("Greeter", "", "")
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", "Sample rate", fmt.Sprintf("%d Hz", cfg.Capture.SampleRate))
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr, "")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(kind, name, detail string) {
	value := name
	if value == "" {
		value = "(disabled)"
	} else if detail != "" {
		value = name + " / " + detail
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel, format config.LogFormat) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	switch format {
	case config.FormatJSON:
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	case config.FormatPretty:
		// charmbracelet levels share slog's numeric values.
		return slog.New(charmlog.NewWithOptions(os.Stderr, charmlog.Options{
			Level:           charmlog.Level(lvl),
			ReportTimestamp: true,
			TimeFormat:      time.TimeOnly,
		}))
	default:
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	}
}
