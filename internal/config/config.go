// Package config provides configuration loading for remedyd.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Config is the full remedyd configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
	Store    StoreConfig    `koanf:"store"`
	Executor ExecutorConfig `koanf:"executor"`
	Workflow WorkflowConfig `koanf:"workflow"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// StoreConfig configures session persistence.
type StoreConfig struct {
	// Path is the bbolt database file holding session records.
	Path string `koanf:"path"`
}

// ExecutorConfig configures the external analysis tool.
type ExecutorConfig struct {
	Binary           string   `koanf:"binary"`
	ScratchDir       string   `koanf:"scratch_dir"`
	OffloadThreshold int      `koanf:"offload_threshold"`
	DefaultTimeout   Duration `koanf:"default_timeout"`
	DefaultMaxTurns  int      `koanf:"default_max_turns"`
}

// WorkflowConfig configures workflow execution.
type WorkflowConfig struct {
	// WorkDir is the workspace the external tool operates in.
	WorkDir string `koanf:"work_dir"`

	// MaxConcurrent caps concurrently executing workflows (0 = no cap).
	MaxConcurrent int `koanf:"max_concurrent"`
}

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (SERVER_PORT, EXECUTOR_BINARY, ...)
//  2. YAML config file (~/.config/remedyd/config.yaml by default)
//  3. Hardcoded defaults
//
// Environment variables map section_field to section.field:
//
//	SERVER_PORT           -> server.port
//	EXECUTOR_SCRATCH_DIR  -> executor.scratch_dir
//	WORKFLOW_WORK_DIR     -> workflow.work_dir
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "remedyd", "config.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Split on the first underscore only: section, then field name.
	if err := k.Load(env.Provider("", ".", func(s string) string {
		lower := strings.ToLower(s)
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9190
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Store.Path == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.Store.Path = filepath.Join(home, ".local", "share", "remedyd", "sessions.db")
		}
	}

	if cfg.Executor.Binary == "" {
		cfg.Executor.Binary = "claude"
	}
	if cfg.Executor.ScratchDir == "" {
		cfg.Executor.ScratchDir = filepath.Join(os.TempDir(), "remedyd")
	}
	if cfg.Executor.OffloadThreshold == 0 {
		cfg.Executor.OffloadThreshold = 4000
	}
	if cfg.Executor.DefaultTimeout == 0 {
		cfg.Executor.DefaultTimeout = Duration(5 * time.Minute)
	}
	if cfg.Executor.DefaultMaxTurns == 0 {
		cfg.Executor.DefaultMaxTurns = 30
	}

	if cfg.Workflow.WorkDir == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.Workflow.WorkDir = wd
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store path is required")
	}
	if c.Executor.Binary == "" {
		return fmt.Errorf("executor binary is required")
	}
	if c.Executor.OffloadThreshold < 0 {
		return fmt.Errorf("offload threshold cannot be negative")
	}
	if c.Workflow.MaxConcurrent < 0 {
		return fmt.Errorf("max concurrent workflows cannot be negative")
	}
	return nil
}
