// Package config handles Ember configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration structure for Ember.
type Config struct {
	// API settings for the case service.
	API APIConfig `yaml:"api" mapstructure:"api"`

	// Logging settings.
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// Watch settings for the live timeline view.
	Watch WatchConfig `yaml:"watch" mapstructure:"watch"`

	// Cache settings for the local key-value store.
	Cache CacheConfig `yaml:"cache" mapstructure:"cache"`
}

// APIConfig contains the case service connection settings.
type APIConfig struct {
	// BaseURL is the root URL of the case service.
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`

	// Token is the bearer token; prefer EMBER_API_TOKEN over the file.
	Token string `yaml:"token" mapstructure:"token"`

	// Timeout bounds each request.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	// Retries is the per-request retry count for idempotent calls.
	Retries int `yaml:"retries" mapstructure:"retries"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (auto, json, console).
	Format string `yaml:"format" mapstructure:"format"`
}

// WatchConfig contains settings for the live view.
type WatchConfig struct {
	// IdleAfter is how long without input before the view counts as idle.
	IdleAfter time.Duration `yaml:"idle_after" mapstructure:"idle_after"`

	// FlagDelay is the wake-up delay before unseen events are highlighted.
	FlagDelay time.Duration `yaml:"flag_delay" mapstructure:"flag_delay"`

	// ClearDelay is the wake-up delay before the highlight is cleared.
	ClearDelay time.Duration `yaml:"clear_delay" mapstructure:"clear_delay"`

	// Timezone overrides the local zone used when the case is not in UTC
	// display. Empty means the system zone.
	Timezone string `yaml:"timezone" mapstructure:"timezone"`
}

// CacheConfig contains local cache settings.
type CacheConfig struct {
	// Dir is where seen counters and pending drafts are stored.
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	cacheDir := filepath.Join(homeDir, ".local", "share", "ember", "cache")

	return &Config{
		API: APIConfig{
			Timeout: 30 * time.Second,
			Retries: 2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
		Watch: WatchConfig{
			IdleAfter:  30 * time.Second,
			FlagDelay:  200 * time.Millisecond,
			ClearDelay: time.Second,
		},
		Cache: CacheConfig{
			Dir: cacheDir,
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %q", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "auto", "json", "console":
	default:
		return fmt.Errorf("invalid logging format: %q", c.Logging.Format)
	}

	if c.API.Timeout <= 0 {
		return fmt.Errorf("api timeout must be positive, got %s", c.API.Timeout)
	}
	if c.API.Retries < 0 {
		return fmt.Errorf("api retries must not be negative, got %d", c.API.Retries)
	}

	if c.Watch.FlagDelay <= 0 || c.Watch.ClearDelay <= 0 {
		return fmt.Errorf("watch delays must be positive")
	}
	if c.Watch.ClearDelay < c.Watch.FlagDelay {
		return fmt.Errorf("watch clear_delay must not be shorter than flag_delay")
	}
	if c.Watch.Timezone != "" {
		if _, err := time.LoadLocation(c.Watch.Timezone); err != nil {
			return fmt.Errorf("invalid watch timezone: %w", err)
		}
	}

	return nil
}

// Zone resolves the configured timezone, falling back to the system zone.
func (c *Config) Zone() *time.Location {
	if c.Watch.Timezone == "" {
		return time.Local
	}
	zone, err := time.LoadLocation(c.Watch.Timezone)
	if err != nil {
		return time.Local
	}
	return zone
}
