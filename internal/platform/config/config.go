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

const (
	StoreBackendPostgres = "postgres"
	StoreBackendSQLite   = "sqlite"

	minSessionSecretLength = 32
)

type Config struct {
	AppEnv        string `env:"APP_ENV" default:"development"`
	Port          string `env:"PORT" default:"8080"`
	StoreBackend  string `env:"STORE_BACKEND" default:"postgres"`
	DatabaseURL   string `env:"DATABASE_URL"`
	SQLitePath    string `env:"SQLITE_PATH" default:"pollpulse.db"`
	RedisURL      string `env:"REDIS_URL"`
	SessionSecret string `env:"SESSION_SECRET"`
	LogLevel      string `env:"LOG_LEVEL" default:"info"`
	LogFormat     string `env:"LOG_FORMAT" default:"text"`

	// AllowedOrigins is a comma-separated list of extra origins allowed to
	// open viewer sockets. The server's own host is always allowed.
	AllowedOrigins string `env:"ALLOWED_ORIGINS"`

	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" default:"10s"`
	MaxViewersPerPoll int           `env:"MAX_VIEWERS_PER_POLL" default:"10000"`

	VoteRateLimit float64 `env:"VOTE_RATE_LIMIT" default:"20"`
	VoteRateBurst int     `env:"VOTE_RATE_BURST" default:"40"`

	DrainWorkers int `env:"DRAIN_WORKERS" default:"1"`

	SessionMaxAge time.Duration `env:"SESSION_MAX_AGE" default:"720h"` // 30 days
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
	required := map[string]string{
		"REDIS_URL":      cfg.RedisURL,
		"SESSION_SECRET": cfg.SessionSecret,
	}
	switch cfg.StoreBackend {
	case StoreBackendPostgres:
		required["DATABASE_URL"] = cfg.DatabaseURL
	case StoreBackendSQLite:
		required["SQLITE_PATH"] = cfg.SQLitePath
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", StoreBackendPostgres, StoreBackendSQLite, cfg.StoreBackend)
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	if cfg.AppEnv == "production" && cfg.StoreBackend == StoreBackendPostgres {
		if err := requireSecureSSL(cfg.DatabaseURL); err != nil {
			return err
		}
	}

	if len(cfg.SessionSecret) < minSessionSecretLength {
		return fmt.Errorf("SESSION_SECRET must be at least %d characters", minSessionSecretLength)
	}
	if cfg.HeartbeatInterval < time.Second {
		return errors.New("HEARTBEAT_INTERVAL must be at least 1s")
	}
	if cfg.MaxViewersPerPoll < 1 {
		return errors.New("MAX_VIEWERS_PER_POLL must be positive")
	}
	if cfg.VoteRateLimit <= 0 || cfg.VoteRateBurst < 1 {
		return errors.New("VOTE_RATE_LIMIT and VOTE_RATE_BURST must be positive")
	}
	if cfg.DrainWorkers < 1 {
		return errors.New("DRAIN_WORKERS must be at least 1")
	}

	return nil
}

// Origins returns AllowedOrigins split and trimmed.
func (c *Config) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func requireSecureSSL(databaseURL string) error {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return fmt.Errorf("DATABASE_URL is not a valid URL: %w", err)
	}
	mode := strings.ToLower(u.Query().Get("sslmode"))
	if mode == "disable" || mode == "allow" {
		return fmt.Errorf("DATABASE_URL uses sslmode=%s which is not allowed in production", mode)
	}
	return nil
}
