// Package config loads service configuration: built-in defaults,
// overridden by an optional YAML file, overridden by environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Volume  VolumeConfig  `yaml:"volume"`
	Store   StoreConfig   `yaml:"store"`
	Reindex ReindexConfig `yaml:"reindex"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type VolumeConfig struct {
	// Root is the persistent storage mount holding product directories.
	Root             string `yaml:"root"`
	MetadataFileName string `yaml:"metadata_file_name"`
}

type StoreConfig struct {
	// Backend is one of memory, sqlite, postgres.
	Backend string `yaml:"backend"`
	DSN     string `yaml:"dsn"`
}

type ReindexConfig struct {
	// Interval between periodic re-index cycles. Zero disables the
	// timer; startup still runs one cycle.
	Interval time.Duration `yaml:"interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8000},
		Volume: VolumeConfig{
			Root:             "/mnt/data",
			MetadataFileName: "ska-data-product.yaml",
		},
		Store:   StoreConfig{Backend: "memory"},
		Reindex: ReindexConfig{Interval: 5 * time.Minute},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load builds the configuration. path may be empty; a missing file at
// an explicit path is an error, silence otherwise.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	return cfg, nil
}

// applyEnv layers environment overrides, keeping the variable names of
// the original deployment charts.
func applyEnv(cfg *Config) {
	if v := os.Getenv("PERSISTENT_STORAGE_PATH"); v != "" {
		cfg.Volume.Root = v
	}
	if v := os.Getenv("METADATA_FILE_NAME"); v != "" {
		cfg.Volume.MetadataFileName = v
	}
	if v := os.Getenv("API_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("API_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("METADATA_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("METADATA_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("REINDEXING_DELAY"); v != "" {
		// Accepted as a Go duration or a bare number of seconds.
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Reindex.Interval = d
		} else if secs, err := strconv.Atoi(v); err == nil {
			cfg.Reindex.Interval = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
