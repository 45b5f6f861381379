package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/stockrelay/internal/adapter/httpserver"
	"github.com/pscheid92/stockrelay/internal/adapter/postgres"
	"github.com/pscheid92/stockrelay/internal/adapter/redis"
	"github.com/pscheid92/stockrelay/internal/broadcast"
	"github.com/pscheid92/stockrelay/internal/domain"
	"github.com/pscheid92/stockrelay/internal/metrics"
	"github.com/pscheid92/stockrelay/internal/notification"
	"github.com/pscheid92/stockrelay/internal/platform/config"
	"github.com/pscheid92/stockrelay/internal/platform/logging"
	"github.com/pscheid92/stockrelay/internal/platform/retry"
	"github.com/pscheid92/stockrelay/internal/platform/version"
	"github.com/pscheid92/stockrelay/internal/workflow"
)

var startupRetry = retry.Policy{
	MaxAttempts:    6,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     8 * time.Second,
	OnRetry: func(attempt int, err error, backoff time.Duration) {
		slog.Warn("Backend not reachable yet, retrying", "attempt", attempt, "backoff", backoff, "error", err)
	},
}

type components struct {
	pool         *pgxpool.Pool
	redisClient  *redis.Client
	relay        *redis.Relay
	history      *notification.History
	registry     *broadcast.Registry
	workflow     *workflow.Workflow
	server       *httpserver.Server
	stopRelay    context.CancelFunc
	relayStopped chan struct{}
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config) *pgxpool.Pool {
	if cfg.DatabaseURL == "" {
		slog.Info("DATABASE_URL not set, notification archive disabled")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := retry.Do(ctx, startupRetry, retry.Transient, func(ctx context.Context) (*pgxpool.Pool, error) {
		return postgres.Connect(ctx, cfg.DatabaseURL)
	})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := postgres.Migrate(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupRedis(cfg *config.Config) *redis.Client {
	if cfg.RedisURL == "" {
		slog.Info("REDIS_URL not set, running as a single instance")
		return nil
	}

	client, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		slog.Error("Invalid Redis configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := retry.DoVoid(ctx, startupRetry, retry.Transient, client.Ping); err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	slog.Info("Redis connected")
	return client
}

func build(cfg *config.Config, clock clockwork.Clock) *components {
	c := &components{
		pool:        setupDB(cfg),
		redisClient: setupRedis(cfg),
	}

	var archive domain.NotificationArchive
	if c.pool != nil {
		archive = postgres.NewNotificationArchive(c.pool)
	}
	c.history = notification.NewHistory(cfg.NotificationHistoryLimit, clock, archive)

	c.registry = broadcast.NewRegistry(broadcast.Options{
		HeartbeatInterval:     cfg.HeartbeatInterval,
		WriteTimeout:          cfg.WriteTimeout,
		MaxConnectionsPerUser: cfg.MaxConnectionsPerUser,
		Clock:                 clock,
		History:               c.history,
	})

	var notifier domain.Notifier = c.registry
	var healthChecks []httpserver.HealthCheck

	if c.redisClient != nil {
		c.relay = redis.NewRelay(c.redisClient, c.registry, redis.RelayOptions{
			Origin: uuid.NewString(),
			Clock:  clock,
		})
		notifier = c.relay

		ctx, cancel := context.WithCancel(context.Background())
		c.stopRelay = cancel
		c.relayStopped = make(chan struct{})
		go func() {
			defer close(c.relayStopped)
			c.relay.Run(ctx)
		}()

		healthChecks = append(healthChecks, httpserver.HealthCheck{Name: "redis", Check: c.redisClient.Ping})
	}
	if c.pool != nil {
		healthChecks = append(healthChecks, httpserver.HealthCheck{Name: "postgres", Check: c.pool.Ping})
	}

	c.workflow = workflow.New(notifier, clock)

	c.server = httpserver.NewServer(cfg, httpserver.Dependencies{
		Registry:     c.registry,
		Workflow:     c.workflow,
		History:      c.history,
		Notifier:     notifier,
		HealthChecks: healthChecks,
		Clock:        clock,
	})

	return c
}

// shutdown stops intake before draining in-flight dispatches and archive writes.
func (c *components) shutdown(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := c.server.Shutdown(ctx); err != nil {
		slog.Error("Server shutdown error", "error", err)
	}
	if err := c.workflow.Shutdown(ctx); err != nil {
		slog.Error("Workflow dispatches did not drain", "error", err)
	}

	if c.stopRelay != nil {
		c.stopRelay()
		select {
		case <-c.relayStopped:
		case <-ctx.Done():
			slog.Warn("Relay subscriber did not stop in time")
		}
	}

	if err := c.registry.Shutdown(ctx); err != nil {
		slog.Error("Registry shutdown error", "error", err)
	}
	if err := c.history.Close(ctx); err != nil {
		slog.Error("Notification archive did not flush", "error", err)
	}

	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil {
			slog.Error("Failed to close Redis client", "error", err)
		}
	}
	if c.pool != nil {
		c.pool.Close()
	}
}

func runGracefulShutdown(c *components, timeout time.Duration) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")
		c.shutdown(timeout)
		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	info := version.Get()
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", info.String())
	metrics.BuildInfo.WithLabelValues(info.Version, info.Commit, info.BuildTime, info.GoVersion).Set(1)

	c := build(cfg, clock)
	done := runGracefulShutdown(c, cfg.ShutdownTimeout)

	if err := c.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
	slog.Info("Shutdown complete")
}
