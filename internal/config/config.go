// Package config loads the worker's tuning knobs from an optional YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds settings that sit alongside the CLI's required positional
// arguments (workerId, coordinator host/port, task listen port). Everything
// here has a sane default so the worker runs with no config file at all.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Server  ServerConfig  `yaml:"server"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig controls the zerolog logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ServerConfig controls the task server and registration client.
type ServerConfig struct {
	TaskPoolSize        int           `yaml:"task_pool_size"`
	RegistrationTimeout time.Duration `yaml:"registration_timeout"`
	MaxFrameBytes       int64         `yaml:"max_frame_bytes"`
	MaxAcceptRatePerSec float64       `yaml:"max_accept_rate"`
}

// MetricsConfig controls the Prometheus metrics listener.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration used when no file is present.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info"},
		Server: ServerConfig{
			TaskPoolSize:        10,
			RegistrationTimeout: 60 * time.Second,
			MaxFrameBytes:       100 * 1024 * 1024,
			MaxAcceptRatePerSec: 0,
		},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9500"},
	}
}

// Load reads configuration from path, falling back to Default() if the file
// does not exist. An existing but unparsable file is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate rejects nonsensical tuning values.
func (c *Config) Validate() error {
	if c.Server.TaskPoolSize <= 0 {
		return fmt.Errorf("server.task_pool_size must be positive")
	}
	if c.Server.MaxFrameBytes <= 0 {
		return fmt.Errorf("server.max_frame_bytes must be positive")
	}
	if c.Server.RegistrationTimeout <= 0 {
		return fmt.Errorf("server.registration_timeout must be positive")
	}
	return nil
}
