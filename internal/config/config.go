// Package config loads and validates the client configuration.
//
// Sources are merged with priority: flags > environment > file > defaults.
// Environment variables use the TABLEMESH_ prefix with underscores for
// nesting, e.g. TABLEMESH_SERVER_ADDR=127.0.0.1:5125.
package config

import (
	"fmt"
	"time"

	"github.com/tablemesh/tablemesh-go/internal/core/domain"
	"github.com/tablemesh/tablemesh-go/pkg/crypto/sealed"
)

// Config is the full client configuration.
type Config struct {
	Server ServerConfig `koanf:"server"`
	Mirror MirrorConfig `koanf:"mirror"`
	Cache  CacheConfig  `koanf:"cache"`
	Log    LogConfig    `koanf:"log"`

	// Tables lists the tables to subscribe on startup.
	Tables []string `koanf:"tables"`
}

// ServerConfig describes the change feed endpoint.
type ServerConfig struct {
	Addr         string        `koanf:"addr"`
	AppName      string        `koanf:"appname"`
	DialTimeout  time.Duration `koanf:"dialtimeout"`
	PingInterval time.Duration `koanf:"pinginterval"`
}

// MirrorConfig tunes the local mirror store.
type MirrorConfig struct {
	SweepInterval time.Duration `koanf:"sweepinterval"`

	// ServeStale lets reads serve the last known-good snapshot while a
	// resync is in progress.
	ServeStale bool `koanf:"servestale"`
}

// CacheConfig describes the bootstrap cache.
type CacheConfig struct {
	Enabled bool   `koanf:"enabled"`
	Dir     string `koanf:"dir"`

	// EncryptionKey, when set, must be exactly 32 bytes; it seals cached
	// snapshots at rest.
	EncryptionKey string `koanf:"encryptionkey"`
}

// LogConfig tunes logging output.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Default returns the configuration defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:         "127.0.0.1:5125",
			AppName:      "tablemesh-client",
			DialTimeout:  3 * time.Second,
			PingInterval: 3 * time.Second,
		},
		Mirror: MirrorConfig{
			SweepInterval: 30 * time.Second,
			ServeStale:    true,
		},
		Cache: CacheConfig{
			Enabled: false,
			Dir:     "./tablemesh-cache",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config: server.addr is required")
	}
	if c.Server.AppName == "" {
		return fmt.Errorf("config: server.appname is required")
	}
	if c.Server.PingInterval <= 0 {
		return fmt.Errorf("config: server.pinginterval must be positive")
	}
	if c.Mirror.SweepInterval <= 0 {
		return fmt.Errorf("config: mirror.sweepinterval must be positive")
	}
	if c.Cache.Enabled {
		if c.Cache.Dir == "" {
			return fmt.Errorf("config: cache.dir is required when the cache is enabled")
		}
		if key := c.Cache.EncryptionKey; key != "" && len(key) != sealed.KeySize {
			return fmt.Errorf("config: cache.encryptionkey must be %d bytes, got %d", sealed.KeySize, len(key))
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}

	for _, name := range c.Tables {
		if err := domain.ValidateTableName(name); err != nil {
			return fmt.Errorf("config: table %q: %w", name, err)
		}
	}
	return nil
}
