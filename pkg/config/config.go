// Package config loads cartflow settings from the environment.
package config

import (
	"errors"
	"io/fs"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config is the full application configuration.
type Config struct {
	Env      string `env:"APP_ENV,default=development"`
	LogLevel string `env:"LOG_LEVEL,default=info"`

	Database Database
	Redis    Redis
	Cart     Cart
	Tracing  Tracing
}

// Database configures the PostgreSQL pool and unit-of-work isolation.
type Database struct {
	URL             string        `env:"DATABASE_URL,required"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS,default=20"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME,default=30m"`
	Isolation       string        `env:"DATABASE_ISOLATION,default=read committed"`
}

// Redis configures the cart query cache. An empty Addr disables it.
type Redis struct {
	Addr     string        `env:"REDIS_ADDR"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB,default=0"`
	CacheTTL time.Duration `env:"CART_CACHE_TTL,default=30s"`
}

// Cart tunes the reconciliation engine.
type Cart struct {
	MaxAttempts  int           `env:"CART_TX_MAX_ATTEMPTS,default=3"`
	RetryBackoff time.Duration `env:"CART_TX_RETRY_BACKOFF,default=25ms"`
	OpTimeout    time.Duration `env:"CART_OP_TIMEOUT,default=5s"`
}

// Tracing configures the OTLP exporter. An empty Host disables export.
type Tracing struct {
	Host        string  `env:"OTEL_HOST"`
	Probability float64 `env:"OTEL_SAMPLE_PROBABILITY,default=0.05"`
}

// Load reads the given .env files, when present, and decodes the environment.
// Variables already set in the environment win over file values.
func Load(envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
