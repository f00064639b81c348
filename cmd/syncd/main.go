package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"synckit/internal/api"
	"synckit/internal/authretry"
	"synckit/internal/breaker"
	"synckit/internal/client"
	"synckit/internal/config"
	"synckit/internal/connectivity"
	"synckit/internal/csrf"
	"synckit/internal/database"
	"synckit/internal/domain"
	"synckit/internal/events"
	"synckit/internal/logging"
	"synckit/internal/metrics"
	"synckit/internal/queue"
	"synckit/internal/securestore"
	"synckit/internal/syncer"
	"synckit/internal/token"
	"synckit/internal/transport"

	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	metrics.Register()

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info().Str("path", cfg.Database.Path).Msg("queue store opened")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	secureStore := buildSecureStore(ctx, cfg, logger)

	executor := transport.NewHTTPExecutor(cfg.Backend.BaseURL, cfg.Backend.RequestTimeout)
	tokens := token.NewManager(executor, secureStore, cfg.Backend.RefreshPath, cfg.Auth.RefreshLead, logger)
	if err := tokens.Load(ctx); err != nil {
		logger.Warn().Err(err).Msg("stored token unavailable, starting logged out")
	}

	csrfSource := csrf.NewSource(executor, cfg.Backend.CSRFPath, logger)

	eventBus := events.NewEventBus()
	eventBus.Subscribe(events.EventAuthFailed, func(e *events.Event) error {
		logger.Warn().Msg("authentication lost, re-login required")
		return nil
	})

	coordinator := authretry.NewCoordinator(executor, tokens, authretry.Config{
		MaxParked:      cfg.Auth.MaxParked,
		RefreshTimeout: cfg.Auth.RefreshTimeout,
		AuthPaths:      []string{cfg.Backend.LoginPath, cfg.Backend.RefreshPath, cfg.Backend.LogoutPath},
		OnAuthFailed: func() {
			_ = eventBus.PublishJSON(events.EventAuthFailed, map[string]string{"reason": "token refresh failed"})
		},
	}, logger)

	prober := connectivity.NewTransportProber(executor, cfg.Backend.HealthPath)
	monitor := connectivity.NewMonitor(prober, cfg.Connectivity.PollInterval, logger)

	circuits := breaker.New(breaker.Config{
		MinVolume:  cfg.Breaker.MinVolume,
		Threshold:  cfg.Breaker.Threshold,
		Window:     cfg.Breaker.Window,
		MaxSamples: cfg.Breaker.MaxSamples,
	}, logger)

	authExecutor := client.NewAuthExecutor(executor, tokens, csrfSource, coordinator)

	offlineQueue := queue.New(db, authExecutor, monitor, queue.Config{
		MaxSize:    cfg.Queue.MaxSize,
		MaxRetries: cfg.Queue.MaxRetries,
		DefaultTTL: cfg.Queue.DefaultTTL,
	}, logger)

	orchestrator := syncer.New(offlineQueue, db, authExecutor, circuits, monitor, cfg.Sync.RPS, cfg.Sync.Burst, logger)
	orchestrator.SetEventPublisher(eventBus)

	go monitor.Start(ctx)
	go orchestrator.Run(ctx)
	go cleanupLoop(ctx, orchestrator, cfg.Sync.CleanupAfterDays)

	adminServer := api.NewAdminServer(cfg.Monitoring, offlineQueue, orchestrator, circuits, coordinator, monitor, logger)
	go func() {
		if err := adminServer.Start(); err != nil {
			logger.Error().Err(err).Msg("admin server error")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = adminServer.Shutdown(shutdownCtx)
	}()

	logger.Info().Msg("syncd started")
	<-ctx.Done()
	logger.Info().Msg("shutting down")
	return nil
}

// buildSecureStore prefers redis with an in-memory failover; without a
// configured redis address credentials live in process memory only.
func buildSecureStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) domain.SecureStore {
	memory := securestore.NewMemoryStore()
	if cfg.Redis.Address == "" {
		logger.Warn().Msg("no redis configured, credentials held in memory only")
		return memory
	}

	redisClient := securestore.NewRedisClient(cfg.Redis)
	if err := securestore.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis unreachable at startup, failover store will retry")
	}
	return securestore.NewFailoverStore(securestore.NewRedisStore(redisClient), memory, logger)
}

func cleanupLoop(ctx context.Context, orchestrator *syncer.Orchestrator, olderThanDays int) {
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = orchestrator.CleanupCompletedOperations(ctx, olderThanDays)
		}
	}
}
