package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/antigravity-dev/tina/internal/config"
	"github.com/antigravity-dev/tina/internal/daemon"
)

func configureLogger(logLevel string, useDev bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if useDev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func main() {
	configPath := flag.String("config", config.DefaultPath(), "path to config file")
	dev := flag.Bool("dev", false, "use text log format (default is JSON)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	logger.Info("tina-daemon starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = configureLogger(cfg.Daemon.LogLevel, *dev)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := daemon.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start daemon", "error", err)
		os.Exit(1)
	}
	defer d.Close()

	if err := daemon.WritePidFile(cfg.Daemon.PidFile, os.Getpid()); err != nil {
		logger.Warn("failed to write pid file", "error", err)
	}
	defer os.Remove(cfg.Daemon.PidFile)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		shutdownStart := time.Now()
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
		logger.Info("tina-daemon stopped", "shutdown_duration", time.Since(shutdownStart).String())
	}()

	logger.Info("tina-daemon running",
		"http_port", cfg.Daemon.HTTPPort,
		"tick_interval", cfg.Daemon.TickInterval.Duration.String(),
	)

	if err := d.Run(ctx); err != nil {
		logger.Error("daemon error", "error", err)
		os.Exit(1)
	}
}
