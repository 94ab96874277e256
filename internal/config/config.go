package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	HTTPAddr    string        `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel    slog.Level    `env:"LOG_LEVEL" envDefault:"INFO"`
	StoreDriver string        `env:"STORE_DRIVER" envDefault:"sqlite"`
	DBPath      string        `env:"DB_PATH" envDefault:"data/coupleplay.db"`
	DatabaseURL string        `env:"DATABASE_URL"`
	RedisURL    string        `env:"REDIS_URL"`
	PublicURL   string        `env:"PUBLIC_URL" envDefault:"http://localhost:8080"`
	RoomTTL     time.Duration `env:"ROOM_TTL" envDefault:"1h"`
	RateLimit   float64       `env:"RATE_LIMIT_RPS" envDefault:"20"`
	RateBurst   int           `env:"RATE_LIMIT_BURST" envDefault:"40"`
	SPADir      string        `env:"SPA_DIR"`
}

// Load reads an optional .env file and then parses the environment.
// Variables already set in the environment win over the file.
func Load() (*Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDotEnv loads variables from path if the file exists.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q (want %s or %s)", c.StoreDriver, DriverSQLite, DriverPostgres)
	}
	if c.RoomTTL <= 0 {
		return fmt.Errorf("ROOM_TTL must be positive, got %s", c.RoomTTL)
	}
	if c.RateLimit <= 0 || c.RateBurst <= 0 {
		return fmt.Errorf("rate limit must be positive, got %v rps burst %d", c.RateLimit, c.RateBurst)
	}
	return nil
}

// StoreConfigured reports whether credentials for the selected store driver
// are present. Without them the server runs but every room operation fails.
func (c *Config) StoreConfigured() bool {
	switch c.StoreDriver {
	case DriverSQLite:
		return c.DBPath != ""
	case DriverPostgres:
		return c.DatabaseURL != ""
	}
	return false
}
