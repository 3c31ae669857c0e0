package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

type Config struct {
	ServerAddr      string        `env:"SERVER_ADDR" envDefault:"localhost:8000"`
	StoreDriver     string        `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseDSN     string        `env:"DATABASE_DSN" envDefault:"host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"`
	SigningSecret   string        `env:"SIGNING_KEY"`
	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS" envSeparator:","`
	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"1h"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"720h"`
	StoreTimeout    time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`
	EventsPerSecond float64       `env:"EVENTS_PER_SECOND" envDefault:"60"`
	EventBurst      int           `env:"EVENT_BURST" envDefault:"120"`
	Migrate         bool          `env:"MIGRATE" envDefault:"true"`
	Debug           bool          `env:"DEBUG"`

	// SigningKey is the decoded SigningSecret, set by Validate.
	SigningKey []byte `env:"-"`
}

// Load reads an optional .env file from the working directory and parses
// the environment into a Config. The result is not validated.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	return &cfg, nil
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, fmt.Errorf("empty secret")
	}
	return base64.StdEncoding.DecodeString(base64Secret)
}

func (c *Config) Validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if c.StoreDriver != StorePostgres && c.StoreDriver != StoreSQLite {
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}
	if c.DatabaseDSN == "" {
		return fmt.Errorf("database DSN cannot be empty")
	}
	if c.SigningSecret == "" {
		return fmt.Errorf("signing secret cannot be empty")
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("token lifetimes must be positive")
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("store timeout must be positive")
	}

	signingKey, err := decodeSigningSecret(c.SigningSecret)
	if err != nil {
		return fmt.Errorf("decode signing secret: %w", err)
	}
	c.SigningKey = signingKey

	return nil
}
