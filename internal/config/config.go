// SPDX-License-Identifier: GPL-3.0-only

// Package config loads updater settings from defaults, environment, config file and flags.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes environment variables, e.g. DSU_CHUNK_SIZE.
	EnvPrefix = "DSU"

	// DefaultVID is the Sony vendor ID.
	DefaultVID = "0x054c"

	// DefaultPID is the DualSense product ID.
	DefaultPID = "0x0ce6"
)

// Config holds all updater settings.
type Config struct {
	// Device selection
	VID  string `mapstructure:"vid"`
	PID  string `mapstructure:"pid"`
	Path string `mapstructure:"path"`

	// Protocol tuning
	ChunkSize      int           `mapstructure:"chunk-size"`
	PollInterval   time.Duration `mapstructure:"poll-interval"`
	PhaseTimeout   time.Duration `mapstructure:"phase-timeout"`
	ReceiveTimeout time.Duration `mapstructure:"receive-timeout"`
	MaxRetries     int           `mapstructure:"max-retries"`
	StrictVerify   bool          `mapstructure:"strict-verify"`

	// Environment
	WaitForDevice time.Duration `mapstructure:"wait-for-device"`
	DBus          bool          `mapstructure:"dbus"`
	Yes           bool          `mapstructure:"yes"`
	Verbose       bool          `mapstructure:"verbose"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("vid", DefaultVID)
	v.SetDefault("pid", DefaultPID)
	v.SetDefault("path", "")
	v.SetDefault("chunk-size", 0x39)
	v.SetDefault("poll-interval", 10*time.Millisecond)
	v.SetDefault("phase-timeout", 30*time.Second)
	v.SetDefault("receive-timeout", time.Second)
	v.SetDefault("max-retries", 3)
	v.SetDefault("strict-verify", false)
	v.SetDefault("wait-for-device", time.Duration(0))
	v.SetDefault("dbus", false)
	v.SetDefault("yes", false)
	v.SetDefault("verbose", false)
}

// Load reads configuration from defaults, environment and an optional config file.
// Flags must already be bound to v. An empty configFile searches the usual locations
// and ignores a missing file; an explicit one must exist.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)

	// Environment variables (DSU_CHUNK_SIZE, DSU_PHASE_TIMEOUT, ...)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME/.config/dualsense-updater")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if _, err := ParseID(c.VID); err != nil {
		return fmt.Errorf("invalid vid: %w", err)
	}
	if _, err := ParseID(c.PID); err != nil {
		return fmt.Errorf("invalid pid: %w", err)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk-size must be positive")
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("poll-interval must be non-negative")
	}
	if c.PhaseTimeout <= 0 {
		return fmt.Errorf("phase-timeout must be positive")
	}
	if c.ReceiveTimeout <= 0 {
		return fmt.Errorf("receive-timeout must be positive")
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max-retries must be at least 1")
	}
	if c.WaitForDevice < 0 {
		return fmt.Errorf("wait-for-device must be non-negative")
	}
	return nil
}

// VendorID returns the parsed vendor ID. Call Validate first.
func (c *Config) VendorID() uint16 {
	id, _ := ParseID(c.VID)
	return id
}

// ProductID returns the parsed product ID. Call Validate first.
func (c *Config) ProductID() uint16 {
	id, _ := ParseID(c.PID)
	return id
}

// ParseID parses a USB ID given in hex with a 0x prefix or in decimal.
func ParseID(s string) (uint16, error) {
	s = strings.TrimSpace(s)
	base := 10
	if hex, ok := strings.CutPrefix(strings.ToLower(s), "0x"); ok {
		s, base = hex, 16
	}
	id, err := strconv.ParseUint(s, base, 16)
	if err != nil {
		return 0, err
	}
	// #nosec G115 -- ParseUint limits id to 16 bits
	return uint16(id), nil
}
