// Package config holds relay settings loaded from defaults and the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Store backend selectors.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

type Config struct {
	HTTP   *HTTPConfig
	Auth   *AuthConfig
	Store  *StoreConfig
	Broker *BrokerConfig
}

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// AuthConfig selects the authentication chain. An empty Secret runs the
// relay in open mode where claimed identities are accepted as-is.
type AuthConfig struct {
	Secret string
}

type StoreConfig struct {
	Backend    string
	SQLitePath string
}

// BrokerConfig selects the bus topology. An empty URL keeps routing
// in-process; a URL switches to the broker bridge so several relay
// processes share traffic.
type BrokerConfig struct {
	URL string
}

func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         3000,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Auth: &AuthConfig{},
		Store: &StoreConfig{
			Backend:    StoreMemory,
			SQLitePath: "./collabrelay.db",
		},
		Broker: &BrokerConfig{},
	}
}

// LoadFromEnv layers RELAY_* environment variables over the defaults.
// Malformed values are ignored in favor of the default.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()

	if host := os.Getenv("RELAY_HOST"); host != "" {
		cfg.HTTP.Host = host
	}
	if port := os.Getenv("RELAY_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.HTTP.Port = p
		}
	}
	if timeout := os.Getenv("RELAY_HTTP_READ_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			cfg.HTTP.ReadTimeout = d
		}
	}
	if timeout := os.Getenv("RELAY_HTTP_WRITE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			cfg.HTTP.WriteTimeout = d
		}
	}
	if secret := os.Getenv("RELAY_AUTH_SECRET"); secret != "" {
		cfg.Auth.Secret = secret
	}
	if backend := os.Getenv("RELAY_STORE"); backend != "" {
		cfg.Store.Backend = backend
	}
	if path := os.Getenv("RELAY_SQLITE_PATH"); path != "" {
		cfg.Store.SQLitePath = path
	}
	if url := os.Getenv("RELAY_BROKER_URL"); url != "" {
		cfg.Broker.URL = url
	}
	return cfg
}

func (c *Config) Validate() error {
	if c.HTTP == nil {
		return fmt.Errorf("http configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("http host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("http timeouts must be positive")
	}
	if c.Store == nil {
		return fmt.Errorf("store configuration is required")
	}
	switch c.Store.Backend {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("sqlite path cannot be empty")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	return nil
}
