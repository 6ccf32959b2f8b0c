package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/npezzotti/go-poker/internal/database"
)

type Config struct {
	ServerAddr     string   `env:"ADDR" envDefault:"localhost:8000"`
	Store          string   `env:"STORE" envDefault:"memory"`
	DatabaseDSN    string   `env:"DSN"`
	SqlitePath     string   `env:"SQLITE_PATH" envDefault:"poker.db"`
	SigningSecret  string   `env:"SIGNING_KEY"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	TokenTTL        time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
	DisconnectGrace time.Duration `env:"DISCONNECT_GRACE" envDefault:"5s"`
	StoreTimeout    time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	RoomMarkAfter   time.Duration `env:"ROOM_MARK_AFTER" envDefault:"24h"`
	RoomDeleteAfter time.Duration `env:"ROOM_DELETE_AFTER" envDefault:"720h"`
	UserExpiry      time.Duration `env:"USER_EXPIRY" envDefault:"168h"`

	// SigningKey is the decoded SigningSecret, set by Validate.
	SigningKey []byte `env:"-"`
}

// Load reads the configuration from the environment. Callers may override
// fields before calling Validate.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

// StoreDSN returns the connection string for the configured store.
func (c *Config) StoreDSN() string {
	if c.Store == database.StoreSqlite {
		return c.SqlitePath
	}
	return c.DatabaseDSN
}

func (c *Config) Validate() error {
	if c.ServerAddr == "" {
		return errors.New("server address cannot be empty")
	}

	switch c.Store {
	case database.StoreMemory:
	case database.StorePostgres:
		if c.DatabaseDSN == "" {
			return errors.New("database DSN cannot be empty")
		}
	case database.StoreSqlite:
		if c.SqlitePath == "" {
			return errors.New("sqlite path cannot be empty")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}

	if c.SigningSecret == "" {
		return errors.New("signing secret cannot be empty")
	}
	signingKey, err := decodeSigningSecret(c.SigningSecret)
	if err != nil {
		return fmt.Errorf("decode signing secret: %w", err)
	}
	if len(signingKey) < 16 {
		return errors.New("signing key must be at least 16 bytes")
	}
	c.SigningKey = signingKey

	for name, d := range map[string]time.Duration{
		"token ttl":        c.TokenTTL,
		"disconnect grace": c.DisconnectGrace,
		"store timeout":    c.StoreTimeout,
		"sweep interval":   c.SweepInterval,
		"room mark after":  c.RoomMarkAfter,
		"user expiry":      c.UserExpiry,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if c.RoomDeleteAfter <= c.RoomMarkAfter {
		return errors.New("room delete after must be longer than room mark after")
	}

	return nil
}
