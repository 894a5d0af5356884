// Package config loads the server configuration from the environment.
package config

import (
	"fmt"
	"log/slog"

	"github.com/kelseyhightower/envconfig"
)

// Prefix of every variable. Each one may also be given without the prefix, DATABASE_URL being the usual case.
const Prefix = "QUILLQAY"

type Config struct {
	// DatabaseURL selects the backing store: postgres://... or sqlite://path.
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	Addr        string `envconfig:"ADDR" default:"0.0.0.0:3000"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	MaxConns    int    `envconfig:"MAX_CONNS" default:"5"`
	Migrate     bool   `envconfig:"MIGRATE" default:"true"`

	HubCapacity int `envconfig:"HUB_CAPACITY" default:"100"`
	// NotifyOnSave publishes a change notification to the hub after each successful page write.
	NotifyOnSave bool `envconfig:"NOTIFY_ON_SAVE" default:"true"`
	// RelayInbound rebroadcasts text frames received from one websocket client to the others.
	RelayInbound bool    `envconfig:"RELAY_INBOUND" default:"false"`
	RelayRate    float64 `envconfig:"RELAY_RATE" default:"10"`
}

// Load reads the environment. A missing DATABASE_URL is an error.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set")
	}
	if c.MaxConns < 1 {
		return fmt.Errorf("MAX_CONNS must be positive, got %d", c.MaxConns)
	}
	if c.HubCapacity < 1 {
		return fmt.Errorf("HUB_CAPACITY must be positive, got %d", c.HubCapacity)
	}
	if c.RelayRate < 0 {
		return fmt.Errorf("RELAY_RATE must not be negative, got %v", c.RelayRate)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel: debug, info, warn or error.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return l, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return l, nil
}
