// Package main is the entry point for the aodd sensor notifier daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jmylchreest/aodd/internal/config"
	"github.com/jmylchreest/aodd/internal/daemon"
	"github.com/jmylchreest/aodd/internal/sensor"
)

var (
	// Build-time variables
	version = "dev"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: ~/.config/aodd/aodd.toml)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	noWatch := flag.Bool("no-watch", false, "Do not reload the config file when it changes")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("aodd version", version)
		os.Exit(0)
	}

	level, err := parseLevel(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := run(*configPath, !*noWatch, logger); err != nil {
		logger.Error("aodd failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, watch bool, logger *slog.Logger) error {
	logger.Info("starting aodd", "version", version)

	if configPath == "" {
		configPath = config.ConfigPath()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Sensor.Source == config.SourceStream {
		if err := sensor.EnsureFIFO(cfg.Sensor.StreamPath); err != nil {
			return err
		}
	}

	opts := []daemon.Option{daemon.WithLogger(logger)}
	if watch {
		opts = append(opts, daemon.WithConfigPath(configPath))
	}

	d, err := daemon.New(cfg, opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}
