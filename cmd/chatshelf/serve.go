package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofrs/flock"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/agentworkforce/chatshelf/internal/chatshelf"
	"github.com/agentworkforce/chatshelf/internal/collection"
	"github.com/agentworkforce/chatshelf/internal/config"
	"github.com/agentworkforce/chatshelf/internal/httpapi"
	"github.com/agentworkforce/chatshelf/internal/reconcile"
)

func newServeCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the chatshelf daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := config.Load(*configFlag)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
}

func newConfigShowCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, exists, err := config.Load(*configFlag)
			if err != nil {
				return err
			}
			if exists {
				fmt.Fprintf(cmd.OutOrStdout(), "# loaded from %s\n", path)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "# built-in defaults (no config file)")
			}
			encoded, err := toml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(encoded)
			return err
		},
	}
}

func runServe(cfg *config.Config) error {
	logger := newLogger(cfg.Logging)

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// One daemon per data dir. A second instance would race the state file
	// and double-run the reconciliation loop.
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.LockFile), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	lock := flock.New(cfg.Storage.LockFile)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another chatshelf instance holds %s", cfg.Storage.LockFile)
	}
	defer func() { _ = lock.Unlock() }()

	kv, err := chatshelf.OpenKV(cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() { _ = kv.Close() }()

	source, err := collection.NewSnapshotSource(cfg.Watch.SnapshotFile, logger.StandardLog())
	if err != nil {
		return fmt.Errorf("open snapshot source: %w", err)
	}
	defer func() { _ = source.Close() }()

	feed := reconcile.NewFeed()
	engine := reconcile.NewEngine(kv, source, feed, reconcile.Config{
		ScanDebounce:         config.Duration(cfg.Reconcile.ScanDebounce),
		RenderDebounce:       config.Duration(cfg.Reconcile.RenderDebounce),
		SettleDelay:          config.Duration(cfg.Reconcile.SettleDelay),
		HoldRetry:            config.Duration(cfg.Reconcile.HoldRetry),
		TitleSyncInterval:    config.Duration(cfg.Reconcile.TitleSyncInterval),
		NamespaceMinInterval: config.Duration(cfg.Reconcile.NamespaceMinInterval),
	}, logger)

	api := httpapi.NewServerWithConfig(engine, feed, httpapi.ServerConfig{
		JWTSecret:       cfg.Server.JWTSecret,
		RateLimitMax:    cfg.Server.RateLimitMax,
		RateLimitWindow: config.Duration(cfg.Server.RateLimitWindow),
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
	})

	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer stop()

	engineDone := make(chan error, 1)
	go func() {
		engineDone <- engine.Run(ctx)
	}()

	httpServer := &http.Server{
		Addr:              cfg.Server.Bind,
		Handler:           api,
		ReadHeaderTimeout: 5 * time.Second,
	}
	serverDone := make(chan error, 1)
	go func() {
		logger.Info("chatshelf listening", "bind", cfg.Server.Bind, "storage", cfg.Storage.DSN)
		serverDone <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serverDone:
		stop()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	if err := <-engineDone; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newLogger(cfg config.Logging) *log.Logger {
	opts := log.Options{
		ReportTimestamp: true,
	}
	switch cfg.Level {
	case "debug":
		opts.Level = log.DebugLevel
	case "warn":
		opts.Level = log.WarnLevel
	case "error":
		opts.Level = log.ErrorLevel
	default:
		opts.Level = log.InfoLevel
	}
	switch cfg.Format {
	case "json":
		opts.Formatter = log.JSONFormatter
	case "logfmt":
		opts.Formatter = log.LogfmtFormatter
	default:
		opts.Formatter = log.TextFormatter
	}
	return log.NewWithOptions(os.Stderr, opts)
}
