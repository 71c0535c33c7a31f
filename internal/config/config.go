// Package config loads service configuration from environment variables
// with the INLET_ prefix, optionally overlaid by a YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete service configuration
type Config struct {
	Server  ServerConfig  `yaml:"server" envconfig:"SERVER"`
	Logging LoggingConfig `yaml:"logging" envconfig:"LOGGING"`
	Upload  UploadConfig  `yaml:"upload" envconfig:"UPLOAD"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES" default:"1048576"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format string `yaml:"format" envconfig:"FORMAT" default:"json"`
}

// UploadConfig contains upload ingestion configuration
type UploadConfig struct {
	// StagingDir is the fixed directory for stream-mode uploads.
	StagingDir string `yaml:"staging_dir" envconfig:"STAGING_DIR" default:"staging"`
	// MaxBodySize is the default ceiling applied by the built-in endpoints.
	MaxBodySize int64 `yaml:"max_body_size" envconfig:"MAX_BODY_SIZE" default:"10485760"`
	// ChunkSize is the read granularity while draining bodies.
	ChunkSize int `yaml:"chunk_size" envconfig:"CHUNK_SIZE" default:"32768"`
}

// Load loads configuration from environment variables, then overlays the
// YAML file named by INLET_CONFIG_FILE (or inlet.yml if present).
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("INLET", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	configFile := os.Getenv("INLET_CONFIG_FILE")
	if configFile == "" {
		configFile = "inlet.yml"
	}
	if _, err := os.Stat(configFile); err == nil {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks configuration invariants
func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Upload.StagingDir == "" {
		return fmt.Errorf("upload staging directory must be set")
	}
	if c.Upload.MaxBodySize < 0 {
		return fmt.Errorf("upload max body size must not be negative")
	}
	if c.Upload.ChunkSize < 1 {
		return fmt.Errorf("upload chunk size must be positive")
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid logging format: %s", c.Logging.Format)
	}
	return nil
}

// EnsureStagingDir creates the staging directory if needed and verifies it
// is writable by creating and removing a probe file.
func (c *Config) EnsureStagingDir() error {
	dir := c.Upload.StagingDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create staging directory %s: %w", dir, err)
	}

	probe := filepath.Join(dir, ".write_test")
	f, err := os.Create(probe)
	if err != nil {
		return fmt.Errorf("staging directory %s is not writable: %w", dir, err)
	}
	f.Close()
	os.Remove(probe)
	return nil
}
