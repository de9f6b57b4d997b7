package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	// Hostname is the hostname the HTTP server reports in logs and health
	// output.
	Hostname string

	// Port is the HTTP server port.
	Port int

	// DataDir is the directory of the primary key-value store.
	DataDir string

	// DatabasePath is the SQLite mirror's database file.
	DatabasePath string

	// SyncInterval is how often the background reconciliation pass runs.
	SyncInterval time.Duration
}

// Load reads configuration from MUSHIMAP_-prefixed environment variables
// with sensible defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("mushimap")
	v.AutomaticEnv()

	v.SetDefault("hostname", "localhost")
	v.SetDefault("port", 3000)
	v.SetDefault("data_dir", "data/kv")
	v.SetDefault("database_path", "data/mushimap.db")
	v.SetDefault("sync_interval", "5m")

	cfg := &Config{
		Hostname:     v.GetString("hostname"),
		Port:         v.GetInt("port"),
		DataDir:      v.GetString("data_dir"),
		DatabasePath: v.GetString("database_path"),
		SyncInterval: v.GetDuration("sync_interval"),
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid MUSHIMAP_PORT: %d", cfg.Port)
	}
	if cfg.SyncInterval <= 0 {
		return nil, fmt.Errorf("invalid MUSHIMAP_SYNC_INTERVAL: %s", cfg.SyncInterval)
	}

	return cfg, nil
}
