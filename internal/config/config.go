// Package config loads and validates rookery.yml, the per-deployment
// configuration selecting the storage backend the coordination documents and
// event logs live in.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Backend selects where shared documents and event logs are stored.
type Backend string

const (
	// BackendFile stores documents and logs as files under a data directory.
	BackendFile Backend = "file"

	// BackendRedis stores documents and logs in a shared Redis server.
	BackendRedis Backend = "redis"
)

// Config represents the top-level rookery.yml configuration.
type Config struct {
	Version  string        `yaml:"version"`
	Instance string        `yaml:"instance,omitempty"`
	Storage  StorageConfig `yaml:"storage"`
}

// StorageConfig selects and parameterizes the storage backend.
type StorageConfig struct {
	Backend Backend      `yaml:"backend"`
	Redis   *RedisConfig `yaml:"redis,omitempty"`
	Dir     string       `yaml:"dir,omitempty"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// DefaultInstance is used when rookery.yml does not name an instance.
const DefaultInstance = "default"

// Load reads and validates a rookery.yml file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults(filepath.Dir(path))
	return &cfg, nil
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("config version is required")
	}

	switch c.Storage.Backend {
	case BackendFile:
		// Dir defaults to a directory next to the config file.
	case BackendRedis:
		if c.Storage.Redis == nil || c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr is required for the redis backend")
		}
	case "":
		return fmt.Errorf("storage.backend is required (file or redis)")
	default:
		return fmt.Errorf("unknown storage backend: %q", c.Storage.Backend)
	}

	return nil
}

// applyDefaults fills in optional fields after successful validation.
func (c *Config) applyDefaults(configDir string) {
	if c.Instance == "" {
		c.Instance = DefaultInstance
	}
	if c.Storage.Backend == BackendFile && c.Storage.Dir == "" {
		c.Storage.Dir = filepath.Join(configDir, ".rookery")
	}
}
