package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/nypyp/metahuman-stream/internal/app"
	"github.com/nypyp/metahuman-stream/internal/chat"
	"github.com/nypyp/metahuman-stream/internal/config"
	"github.com/nypyp/metahuman-stream/internal/greeter"
	"github.com/nypyp/metahuman-stream/internal/probe"
	"github.com/nypyp/metahuman-stream/pkg/audio/portaudio"
)

// ── devices ───────────────────────────────────────────────────────────────────

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio input devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := loadConfig(cmd, false); err != nil {
				return err
			}
			devices, err := portaudio.Devices()
			if err != nil {
				return err
			}
			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Index", "Name", "Host API", "Channels", "Rate", "Default"})
			for _, d := range devices {
				def := ""
				if d.Default {
					def = "*"
				}
				table.Append([]string{
					strconv.Itoa(d.Index),
					d.Name,
					d.HostAPI,
					strconv.Itoa(d.MaxInputChannels),
					strconv.FormatFloat(d.DefaultSampleRate, 'f', 0, 64),
					def,
				})
			}
			table.Render()
			return nil
		},
	}
}

// ── greet ─────────────────────────────────────────────────────────────────────

func newGreetCmd() *cobra.Command {
	var (
		addr string
		once bool
	)
	cmd := &cobra.Command{
		Use:   "greet",
		Short: "Serve the greeting listener on its own",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, false)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Greeter.ListenAddr
			}
			var opts []greeter.Option
			if cfg.Greeter.Message != "" {
				opts = append(opts, greeter.WithMessage(cfg.Greeter.Message))
			}
			if once {
				opts = append(opts, greeter.WithOnce())
			}
			return greeter.New(addr, opts...).Serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default greeter.listen_addr)")
	cmd.Flags().BoolVar(&once, "once", false, "exit after serving one connection")
	return cmd
}

// ── probe ─────────────────────────────────────────────────────────────────────

func newProbeCmd() *cobra.Command {
	var entry config.ProviderEntry
	var subject string
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Interactively send messages to a relay endpoint",
		Long:  "probe connects to a relay endpoint, sends each typed line as one message and prints the reply. Without --url it uses the first relay endpoint from the config.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, false)
			if err != nil {
				return err
			}
			if entry.BaseURL == "" {
				if len(cfg.Relay.Endpoints) == 0 {
					return errors.New("no endpoint: pass --url or configure relay.endpoints")
				}
				entry = cfg.Relay.Endpoints[0]
			} else if subject != "" {
				entry.Options = map[string]any{"subject": subject}
			}
			reg := config.NewRegistry()
			registerBuiltinProviders(reg, cfg)
			d, err := reg.CreateTransport(entry)
			if err != nil {
				return err
			}
			return probe.New(d, cmd.InOrStdin(), cmd.OutOrStdout()).Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&entry.BaseURL, "url", "", "endpoint address, e.g. ws://localhost:8765")
	cmd.Flags().StringVar(&entry.Name, "transport", "websocket", "transport: websocket or nats")
	cmd.Flags().StringVar(&subject, "subject", "", "NATS subject")
	return cmd
}

// ── chat ──────────────────────────────────────────────────────────────────────

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat [message]",
		Short: "Ask the configured chat model, or start an interactive session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, true)
			if err != nil {
				return err
			}
			reg := config.NewRegistry()
			registerBuiltinProviders(reg, cfg)
			p, err := app.BuildLLM(cfg.Providers, reg)
			if err != nil {
				return err
			}

			if len(args) > 0 {
				answer, err := chat.Ask(cmd.Context(), p, strings.Join(args, " "))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), answer)
				return nil
			}

			var opts []chat.Option
			if cfg.Chat.SystemPrompt != "" {
				opts = append(opts, chat.WithSystemPrompt(cfg.Chat.SystemPrompt))
			}
			opts = append(opts, chat.WithHistory(cfg.Chat.History))
			return chat.NewSession(p, opts...).Loop(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

// ── history ───────────────────────────────────────────────────────────────────

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently delivered transcripts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, true)
			if err != nil {
				return err
			}
			store, err := app.OpenArchive(cmd.Context(), cfg.Archive)
			if err != nil {
				return err
			}
			if store == nil {
				return errors.New("archive is disabled (archive.driver: none)")
			}
			defer store.Close()

			records, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"ID", "Delivered", "Run", "Segment", "Text", "Reply"})
			for _, r := range records {
				table.Append([]string{
					strconv.FormatInt(r.ID, 10),
					r.DeliveredAt.Local().Format(time.DateTime),
					shortRunID(r.RunID),
					strconv.Itoa(r.SegmentID),
					r.Text,
					r.Reply,
				})
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of records to show")
	return cmd
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

