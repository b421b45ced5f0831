package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/antigravity-dev/tina/internal/config"
	"github.com/antigravity-dev/tina/internal/daemon"
	"github.com/antigravity-dev/tina/internal/journal"
)

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Daemon management subcommands",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start the daemon as a background process",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.DefaultPath())
			if err != nil {
				return err
			}
			pid, err := daemon.StartBackground(cfg.Daemon.PidFile)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"started": true, "pid": pid})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.DefaultPath())
			if err != nil {
				return err
			}
			if err := daemon.StopBackground(cfg.Daemon.PidFile); err != nil {
				return err
			}
			return printJSON(map[string]any{"stopped": true})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Check if the daemon is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.DefaultPath())
			if err != nil {
				return err
			}
			pid, running := daemon.IsRunning(cfg.Daemon.PidFile)

			result := map[string]any{"running": running}
			if running {
				result["pid"] = pid
			}

			// Recent activity from the local journal, when present.
			if jrnl, err := journal.Open(cfg.Daemon.JournalDB); err == nil {
				defer jrnl.Close()
				if events, err := jrnl.RecentEvents(10); err == nil {
					var lines []string
					for _, event := range events {
						lines = append(lines, fmt.Sprintf("%s %s: %s", event.RecordedAt, event.EventType, event.Message))
					}
					result["recent_events"] = lines
				}
				if errorCount, err := jrnl.ErrorCount(); err == nil {
					result["span_errors"] = errorCount
				}
			}

			if err := printJSON(result); err != nil {
				return err
			}
			if !running {
				os.Exit(1)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground (used internally)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.DefaultPath())
			if err != nil {
				return err
			}

			logger := configureDaemonLogger(cfg.Daemon.LogLevel)
			slog.SetDefault(logger)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				sig := <-sigCh
				logger.Info("received signal, shutting down", "signal", sig.String())
				cancel()
			}()

			d, err := daemon.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer d.Close()

			if err := daemon.WritePidFile(cfg.Daemon.PidFile, os.Getpid()); err != nil {
				logger.Warn("failed to write pid file", "error", err)
			}
			defer os.Remove(cfg.Daemon.PidFile)

			return d.Run(ctx)
		},
	})
	return cmd
}

func configureDaemonLogger(logLevel string) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
