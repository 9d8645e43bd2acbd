package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/FairForge/warden/internal/api"
	"github.com/FairForge/warden/internal/config"
	"github.com/FairForge/warden/internal/guard"
	"github.com/FairForge/warden/internal/health"
	"github.com/FairForge/warden/internal/ledger"
	"github.com/FairForge/warden/internal/store"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	var cfg *config.Config
	if path := os.Getenv("WARDEN_CONFIG"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			logger.Fatal("failed to load config", zap.String("path", path), zap.Error(err))
		}
		cfg = loaded
	} else {
		cfg = config.Default()
		config.LoadFromEnv(cfg)
	}

	var kv store.Store
	if cfg.Database.Host != "" {
		pg, err := store.NewPostgres(cfg.Database, logger)
		if err != nil {
			logger.Fatal("failed to connect to postgres", zap.Error(err))
		}
		kv = pg
		logger.Info("using postgres store", zap.String("host", cfg.Database.Host))
	} else {
		kv = store.NewMemory()
		logger.Warn("no database configured, using in-memory store")
	}
	defer func() { _ = kv.Close() }()

	g := guard.New(cfg.Guard, kv, logger)
	notifier := health.NewWebhookNotifier(cfg.Notifier)
	monitor := health.NewMonitor(cfg.Health, kv, notifier, logger)
	book := ledger.New(cfg.Ledger, kv, logger)

	server := api.NewServer(cfg, logger, g, monitor, book, kv)
	monitor.SetMetricsSource(server.MetricsSource())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Background loops run on their own timers, never on the request
	// path.
	go monitor.Run(ctx)
	go book.Run(ctx)
	go func() {
		ticker := time.NewTicker(cfg.Guard.FlagTTL)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := g.CleanupExpiredSessions(ctx); err != nil {
					logger.Warn("session sweep failed", zap.Error(err))
				}
				if _, err := g.CleanupExpiredEvents(ctx); err != nil {
					logger.Warn("event sweep failed", zap.Error(err))
				}
			}
		}
	}()

	if path := os.Getenv("WARDEN_CONFIG"); path != "" {
		go func() {
			err := config.Watch(ctx, path, logger, func(updated *config.Config) {
				logger.Info("configuration reloaded; restart required for structural changes")
			})
			if err != nil {
				logger.Warn("config watch unavailable", zap.Error(err))
			}
		}()
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	if err := server.Start(); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}
