package config

import (
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		valid  bool
	}{
		{"defaults", func(*Config) {}, true},
		{"zero port", func(c *Config) { c.HTTP.Port = 0 }, false},
		{"port too large", func(c *Config) { c.HTTP.Port = 70000 }, false},
		{"empty host", func(c *Config) { c.HTTP.Host = "" }, false},
		{"negative read timeout", func(c *Config) { c.HTTP.ReadTimeout = -time.Second }, false},
		{"unknown backend", func(c *Config) { c.Store.Backend = "postgres" }, false},
		{"sqlite without path", func(c *Config) {
			c.Store.Backend = StoreSQLite
			c.Store.SQLitePath = ""
		}, false},
		{"sqlite with path", func(c *Config) { c.Store.Backend = StoreSQLite }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.valid && err != nil {
				t.Errorf("Validate: %v", err)
			}
			if !tt.valid && err == nil {
				t.Error("Validate accepted an invalid config")
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("RELAY_HOST", "127.0.0.1")
	t.Setenv("RELAY_PORT", "8080")
	t.Setenv("RELAY_HTTP_READ_TIMEOUT", "10s")
	t.Setenv("RELAY_AUTH_SECRET", "hunter2")
	t.Setenv("RELAY_STORE", StoreSQLite)
	t.Setenv("RELAY_SQLITE_PATH", "/tmp/relay.db")
	t.Setenv("RELAY_BROKER_URL", "amqp://localhost:5672")

	cfg := LoadFromEnv()
	if cfg.HTTP.Host != "127.0.0.1" || cfg.HTTP.Port != 8080 {
		t.Errorf("http = %s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	}
	if cfg.HTTP.ReadTimeout != 10*time.Second {
		t.Errorf("read timeout = %v", cfg.HTTP.ReadTimeout)
	}
	if cfg.HTTP.WriteTimeout != 30*time.Second {
		t.Errorf("write timeout lost its default: %v", cfg.HTTP.WriteTimeout)
	}
	if cfg.Auth.Secret != "hunter2" {
		t.Errorf("secret = %q", cfg.Auth.Secret)
	}
	if cfg.Store.Backend != StoreSQLite || cfg.Store.SQLitePath != "/tmp/relay.db" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Broker.URL != "amqp://localhost:5672" {
		t.Errorf("broker url = %q", cfg.Broker.URL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFromEnvIgnoresMalformedValues(t *testing.T) {
	t.Setenv("RELAY_PORT", "not-a-port")
	t.Setenv("RELAY_HTTP_READ_TIMEOUT", "soon")

	cfg := LoadFromEnv()
	def := DefaultConfig()
	if cfg.HTTP.Port != def.HTTP.Port {
		t.Errorf("port = %d, want default %d", cfg.HTTP.Port, def.HTTP.Port)
	}
	if cfg.HTTP.ReadTimeout != def.HTTP.ReadTimeout {
		t.Errorf("read timeout = %v, want default %v", cfg.HTTP.ReadTimeout, def.HTTP.ReadTimeout)
	}
}
