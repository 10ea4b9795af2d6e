package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"libdb.so/adaglow"
	"libdb.so/adaglow/internal/events"
)

var (
	config      = "adaglow.toml"
	verbose     = false
	metricsAddr = ""
	watch       = false
)

func init() {
	pflag.StringVarP(&config, "config", "c", config, "configuration file")
	pflag.BoolVarP(&verbose, "verbose", "v", verbose, "verbose output")
	pflag.StringVarP(&metricsAddr, "metrics", "m", metricsAddr, "address to serve Prometheus metrics on, disabled if empty")
	pflag.BoolVarP(&watch, "watch", "w", watch, "reinitialize the device when the configuration file changes")
}

func main() {
	pflag.Parse()

	logLevel := slog.LevelWarn
	if verbose {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := adaglow.LoadConfig(config)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var opts []adaglow.DaemonOption
	if watch {
		opts = append(opts, adaglow.WatchConfig(config))
	}
	if metricsAddr != "" {
		opts = append(opts, adaglow.ServeMetrics(metricsAddr))
	}

	d, err := adaglow.NewDaemon(cfg, slog.Default(), opts...)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	unsub := d.Events().Subscribe(func(e events.StateChangedEvent) {
		slog.Info(
			"device state changed",
			"port", e.Port,
			"from", e.From,
			"to", e.To,
			"error", e.Error)
	})
	defer unsub()

	unsub = d.Events().Subscribe(func(e events.ConfigReloadedEvent) {
		if e.Error != "" {
			slog.Warn(
				"configuration not reloaded",
				"path", e.Path,
				"error", e.Error)
		}
	})
	defer unsub()

	if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("daemon failed: %w", err)
	}

	return nil
}
