package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
	AppURL    string `env:"APP_URL" default:"http://localhost:8080"`

	// Optional backends. Empty disables the Redis relay / Postgres archive.
	RedisURL    string `env:"REDIS_URL"`
	DatabaseURL string `env:"DATABASE_URL"`

	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" default:"25s"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT" default:"5s"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`

	NotificationHistoryLimit int `env:"NOTIFICATION_HISTORY_LIMIT" default:"0"`
	MaxConnectionsPerUser    int `env:"MAX_CONNECTIONS_PER_USER" default:"10"`

	HandshakeRatePerSecond float64 `env:"HANDSHAKE_RATE_PER_SECOND" default:"5"`
	HandshakeBurst         int     `env:"HANDSHAKE_BURST" default:"10"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.HeartbeatInterval <= 0 {
		return errors.New("HEARTBEAT_INTERVAL must be positive")
	}
	if cfg.WriteTimeout <= 0 {
		return errors.New("WRITE_TIMEOUT must be positive")
	}
	if cfg.WriteTimeout >= cfg.HeartbeatInterval {
		return fmt.Errorf("WRITE_TIMEOUT (%s) must be shorter than HEARTBEAT_INTERVAL (%s)", cfg.WriteTimeout, cfg.HeartbeatInterval)
	}
	if cfg.NotificationHistoryLimit < 0 {
		return errors.New("NOTIFICATION_HISTORY_LIMIT must not be negative")
	}
	if cfg.MaxConnectionsPerUser < 1 {
		return errors.New("MAX_CONNECTIONS_PER_USER must be at least 1")
	}
	if cfg.HandshakeRatePerSecond <= 0 || cfg.HandshakeBurst < 1 {
		return errors.New("HANDSHAKE_RATE_PER_SECOND and HANDSHAKE_BURST must be positive")
	}

	if _, err := url.Parse(cfg.AppURL); err != nil {
		return fmt.Errorf("APP_URL is not a valid URL: %w", err)
	}

	if cfg.RedisURL != "" {
		if _, err := url.Parse(cfg.RedisURL); err != nil {
			return fmt.Errorf("REDIS_URL is not a valid URL: %w", err)
		}
	}

	if cfg.DatabaseURL != "" && cfg.AppEnv == "production" {
		if mode := sslMode(cfg.DatabaseURL); mode == "disable" || mode == "allow" {
			return fmt.Errorf("DATABASE_URL uses sslmode=%s which is not allowed in production", mode)
		}
	}

	return nil
}

func sslMode(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Query().Get("sslmode"))
}
