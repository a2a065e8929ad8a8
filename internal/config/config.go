// Package config loads YAML configuration for the tiercache CLI.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v2"
)

// Config is the complete CLI configuration.
type Config struct {
	Memory MemoryConfig `yaml:"memory"`
	Disk   DiskConfig   `yaml:"disk"`
}

// MemoryConfig configures the in-process tier.
type MemoryConfig struct {
	CountLimit int    `yaml:"count_limit"`
	CostLimit  string `yaml:"cost_limit"`
}

// DiskConfig configures the persistent tier.
type DiskConfig struct {
	Directory         string `yaml:"directory"`
	SizeLimit         string `yaml:"size_limit"`
	ExpirationTimeout string `yaml:"expiration_timeout"`
	Compress          bool   `yaml:"compress"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Memory: MemoryConfig{CountLimit: 0, CostLimit: ""},
		Disk:   DiskConfig{SizeLimit: "150MiB"},
	}
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks size strings and limits.
func (c *Config) Validate() error {
	if c.Memory.CountLimit < 0 {
		return fmt.Errorf("memory.count_limit must not be negative")
	}
	if _, err := c.CostLimitBytes(); err != nil {
		return fmt.Errorf("memory.cost_limit: %w", err)
	}
	if _, err := c.SizeLimitBytes(); err != nil {
		return fmt.Errorf("disk.size_limit: %w", err)
	}
	if d, err := c.ExpirationDuration(); err != nil {
		return fmt.Errorf("disk.expiration_timeout: %w", err)
	} else if d < 0 {
		return fmt.Errorf("disk.expiration_timeout must not be negative")
	}
	return nil
}

// ExpirationDuration parses the disk tier's expiration timeout. Empty
// means no expiration.
func (c *Config) ExpirationDuration() (time.Duration, error) {
	if c.Disk.ExpirationTimeout == "" {
		return 0, nil
	}
	return time.ParseDuration(c.Disk.ExpirationTimeout)
}

// CostLimitBytes parses the memory tier's cost limit. Empty means
// unlimited.
func (c *Config) CostLimitBytes() (int64, error) {
	return parseSize(c.Memory.CostLimit)
}

// SizeLimitBytes parses the disk tier's size limit. Empty means the
// built-in default.
func (c *Config) SizeLimitBytes() (int64, error) {
	return parseSize(c.Disk.SizeLimit)
}

// parseSize converts a human-readable size like "150MiB" to bytes. Empty
// input parses to 0.
func parseSize(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}
