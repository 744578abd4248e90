package logging

import "fmt"

// Config holds logging configuration.
type Config struct {
	Level   string `koanf:"level"`
	Format  string `koanf:"format"`
	Service string `koanf:"service"`
}

// NewDefaultConfig returns config with production-ready defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Level:   "info",
		Format:  "json",
		Service: "remedyd",
	}
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	}
	switch c.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("level must be debug, info, warn or error, got %q", c.Level)
	}
	return nil
}
