package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/fleetpulse/fleetpulse/internal/alerting"
	"github.com/fleetpulse/fleetpulse/internal/cache"
	"github.com/fleetpulse/fleetpulse/internal/config"
	"github.com/fleetpulse/fleetpulse/internal/handlers"
	"github.com/fleetpulse/fleetpulse/internal/logging"
	"github.com/fleetpulse/fleetpulse/internal/middleware"
	"github.com/fleetpulse/fleetpulse/internal/realtime"
	"github.com/fleetpulse/fleetpulse/internal/repository"
	"github.com/fleetpulse/fleetpulse/internal/server"
	"github.com/fleetpulse/fleetpulse/internal/service"
	"github.com/fleetpulse/fleetpulse/internal/sweeper"
	"github.com/fleetpulse/fleetpulse/pkg/tokens"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the telemetry server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		return runServe(cmd.Context(), cfg, logger)
	},
}

func runServe(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	repo, err := buildRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	hub := realtime.NewHub()
	var broadcaster realtime.Broadcaster = hub
	if cfg.Realtime.NATS.Enabled {
		bridge, err := realtime.NewBridge(realtime.NATSConfig{
			URL:           cfg.Realtime.NATS.URL,
			MaxReconnects: cfg.Realtime.NATS.MaxReconnects,
			ReconnectWait: cfg.Realtime.NATS.ReconnectWait,
		}, hub, uuid.New().String(), logger)
		if err != nil {
			return fmt.Errorf("start nats bridge: %w", err)
		}
		defer bridge.Close()
		broadcaster = bridge
		logger.Info("nats bridge connected", "url", cfg.Realtime.NATS.URL)
	}

	sampleCache := buildCache(ctx, cfg, logger)
	defer sampleCache.Close()

	evaluator := alerting.NewEvaluator(repo, broadcaster, logger)
	if err := evaluator.Rebuild(ctx); err != nil {
		return fmt.Errorf("rebuild alert state: %w", err)
	}

	gen := tokens.NewGenerator(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	fleetSvc := service.NewFleetService(repo, sampleCache, evaluator, broadcaster, logger)
	authSvc := service.NewAuthService(repo, gen, logger)
	policySvc := service.NewPolicyService(repo, logger)

	if err := policySvc.SeedDefaults(ctx); err != nil {
		return fmt.Errorf("seed default policies: %w", err)
	}

	// The bootstrap token only appears in the log. There is no other
	// channel to hand it to the operator on first run.
	setupToken, err := authSvc.EnsureSetupToken(ctx)
	if err != nil {
		return fmt.Errorf("prepare setup token: %w", err)
	}
	if setupToken != "" {
		logger.Info("no admin account exists yet, complete setup with this token",
			"setup_token", setupToken)
	}

	sw := sweeper.New(repo, evaluator, broadcaster, logger, cfg.Sweeper.Interval, cfg.Sweeper.Grace)
	sw.Start(ctx)
	defer sw.Stop()

	router := server.NewRouter(server.Handlers{
		Auth:      handlers.NewAuthHandler(authSvc, gen, logger),
		Telemetry: handlers.NewTelemetryHandler(fleetSvc, logger),
		Machines:  handlers.NewMachineHandler(fleetSvc, logger),
		Alerts:    handlers.NewAlertHandler(policySvc, logger),
		Events:    handlers.NewEventsHandler(hub, logger),
	}, middleware.NewAuthMiddleware(cfg.Agent.APIKey, gen),
		middleware.CORSConfig{AllowedOrigins: cfg.Server.AllowedOrigins})

	srv := server.New(cfg.Server, router, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("signal received, shutting down", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildRepository(ctx context.Context, cfg *config.Config, logger *logging.Logger) (repository.Repository, error) {
	switch cfg.Database.Type {
	case "memory":
		logger.Warn("using in-memory store, all data is lost on restart")
		return repository.NewInMemoryRepository(), nil
	default:
		if cfg.Database.AutoMigrate {
			if err := runMigrations(cfg, logger); err != nil {
				return nil, err
			}
		}
		repo, err := repository.NewPostgresRepository(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		return repo, nil
	}
}

// buildCache returns a disabled cache rather than failing startup when
// redis is unreachable. The cache is an optimization, not a dependency.
func buildCache(ctx context.Context, cfg *config.Config, logger *logging.Logger) *cache.SampleCache {
	if !cfg.Cache.Redis.Enabled {
		return cache.NewSampleCache(nil, 0)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Cache.Redis.Addr,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable, running without sample cache",
			"addr", cfg.Cache.Redis.Addr, logging.Error(err))
		_ = client.Close()
		return cache.NewSampleCache(nil, 0)
	}

	logger.Info("redis sample cache enabled", "addr", cfg.Cache.Redis.Addr)
	return cache.NewSampleCache(client, cfg.Cache.Redis.TTL)
}
