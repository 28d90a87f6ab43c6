package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/bryan-buckman/rssynthesis/internal/backend"
	"github.com/bryan-buckman/rssynthesis/internal/config"
	"github.com/bryan-buckman/rssynthesis/internal/database"
	"github.com/bryan-buckman/rssynthesis/internal/handler"
	"github.com/bryan-buckman/rssynthesis/internal/handler/builtin"
	"github.com/bryan-buckman/rssynthesis/internal/logging"
	"github.com/bryan-buckman/rssynthesis/internal/model"
	"github.com/bryan-buckman/rssynthesis/internal/rss"
	"github.com/bryan-buckman/rssynthesis/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("rssynthesis stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := &http.Client{Timeout: cfg.FetchTimeout}
	registry := builtin.Registry(handler.Env{
		BaseURL:    cfg.BaseURL,
		UserAgent:  cfg.UserAgent,
		HTTPClient: client,
		Logger:     logger,
	})

	store, err := database.Open(database.Options{
		Kind:    cfg.Storage,
		DataDir: cfg.DataDir,
		DSN:     cfg.DatabaseDSN,
	}, registry, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() { err = multierr.Append(err, store.Close()) }()

	fetcher := rss.NewFetcher(client, cfg.UserAgent, cfg.FetchTimeout, logger)
	poller := rss.NewPoller(store, fetcher, logger, rss.WithColdStartEntries(cfg.ColdStartEntries))
	b := backend.New(store, fetcher, poller, logger)

	declarative, err := config.LoadDeclarative(cfg.ConfigDir)
	if err != nil {
		return fmt.Errorf("read config dir: %w", err)
	}
	if err := b.LoadConfig(ctx, declarative); err != nil {
		return err
	}

	settings := b.Settings(ctx)
	scheduler, err := rss.NewScheduler(poller, settings.RefreshInterval, logger)
	if err != nil {
		return err
	}
	b.OnSettingsChange(func(s model.GlobalSettings) {
		if err := scheduler.Reschedule(s.RefreshInterval); err != nil {
			logger.Error("reschedule poller", zap.Error(err))
		}
	})

	active, err := database.ActiveHandlers(ctx, store)
	if err != nil {
		return fmt.Errorf("resolve handlers: %w", err)
	}
	if err := active.Notifier.Login(ctx); err != nil {
		logger.Warn("notifier login failed", zap.String("handler", active.Notifier.ID()), zap.Error(err))
	}

	scheduler.Start()
	srv := server.New(b, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.ListenAddr) }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr := <-errCh:
		err = multierr.Append(err, serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = multierr.Append(err, srv.Shutdown(shutdownCtx))
	scheduler.Stop()
	return multierr.Append(err, active.Notifier.Logout(shutdownCtx))
}

