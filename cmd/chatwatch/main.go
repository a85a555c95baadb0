// Command chatwatch watches one Avito messenger conversation and streams
// its new messages.
//
// Usage:
//
//	chatwatch run --config chatwatch.yaml      # watch (default command)
//	chatwatch bind status                      # show the bound conversation
//	chatwatch bind set /profile/messenger/channel/<id>
//	chatwatch bind clear
//	chatwatch journal tail -n 20               # recent journaled events
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zenamons-s/avito-sream/chatwatch"
	"github.com/zenamons-s/avito-sream/chatwatch/event"
)

var (
	configPath string
	logLevel   string
)

func main() {
	root := &cobra.Command{
		Use:           "chatwatch",
		Short:         "Watch an Avito messenger conversation and stream new messages",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runWatch,
	}
	root.PersistentFlags().StringVar(&configPath, "config", envOr("CHATWATCH_CONFIG", "chatwatch.yaml"), "path to the YAML config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")

	root.AddCommand(runCmd(), bindCmd(), journalCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "chatwatch:", err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the watcher until interrupted",
		RunE:  runWatch,
	}
}

func bindCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bind",
		Short: "Inspect or change the watched conversation",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the current binding",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			b, err := chatwatch.ReadBinding(cfg)
			if err != nil {
				return err
			}
			if b == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "unbound")
				return nil
			}
			return printJSON(cmd, b)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <location>",
		Short: "Bind a conversation (absolute or relative location)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			b, err := chatwatch.SetBinding(cfg, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, b)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove the binding",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := chatwatch.ClearBinding(cfg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "unbound")
			return nil
		},
	})
	return cmd
}

func journalCmd() *cobra.Command {
	var (
		n    int
		only string
	)
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print the most recent journaled events as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			entries, err := chatwatch.TailJournal(cmd.Context(), cfg, n, event.Type(only))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, e := range entries {
				if err := enc.Encode(e); err != nil {
					return err
				}
			}
			return nil
		},
	}
	tail.Flags().IntVarP(&n, "lines", "n", 50, "number of events")
	tail.Flags().StringVar(&only, "type", "", "only this event type (status or message)")

	cmd := &cobra.Command{Use: "journal", Short: "Read the event journal"}
	cmd.AddCommand(tail)
	return cmd
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("chatwatch: starting",
		"origin", cfg.Origin,
		"bind_file", cfg.BindFile,
		"headless", cfg.Browser.HeadlessMode(),
		"auth", cfg.Auth.Login != "",
		"api", cfg.HTTP.Addr)
	logger.Debug("chatwatch: effective config", "config", cfg.Redacted())

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w, err := chatwatch.New(cfg, logger)
	if err != nil {
		return err
	}
	if err := w.Run(ctx); err != nil {
		logger.Error("chatwatch: fatal", "error", err)
		return err
	}
	logger.Info("chatwatch: stopped")
	return nil
}

func loadConfig() (*chatwatch.Config, error) {
	cfg, err := chatwatch.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
