// ABOUTME: Configuration loading and parsing for gatedb
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/gatedb/internal/storage"
)

// Storage modes accepted in database.mode
const (
	ModeSQLite = "sqlite"
	ModeMemory = "memory"
)

// Config represents the complete gatedb configuration
type Config struct {
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
}

// DatabaseConfig holds store configuration
type DatabaseConfig struct {
	Name    string `yaml:"name" toml:"name"`
	Mode    string `yaml:"mode" toml:"mode"`
	Path    string `yaml:"path" toml:"path"`         // explicit primary file; derived from name when empty
	DataDir string `yaml:"data_dir" toml:"data_dir"` // directory for derived paths
	Driver  string `yaml:"driver" toml:"driver"`     // sqlite (modernc) or sqlite3 (mattn)

	BusyTimeout time.Duration `yaml:"-" toml:"-"` // unset means storage.DefaultBusyTimeout

	// Raw string value for YAML/TOML unmarshaling
	BusyTimeoutRaw string `yaml:"busy_timeout" toml:"busy_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig controls whether operation metrics are collected
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Database.Name == "" {
		c.Database.Name = "gatedb"
	}
	if c.Database.Mode == "" {
		c.Database.Mode = ModeSQLite
	}
	if c.Database.Driver == "" {
		c.Database.Driver = storage.DriverModernc
	}
	if c.Database.BusyTimeout == 0 {
		c.Database.BusyTimeout = storage.DefaultBusyTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if strings.ContainsAny(c.Database.Name, `/\`) {
		return fmt.Errorf("database.name %q must not contain path separators", c.Database.Name)
	}

	switch c.Database.Mode {
	case ModeSQLite:
	case ModeMemory:
		if c.Database.Path != "" {
			return fmt.Errorf("database.path cannot be set when database.mode is memory")
		}
	default:
		return fmt.Errorf("database.mode must be %q or %q, got %q", ModeSQLite, ModeMemory, c.Database.Mode)
	}

	if c.Database.Driver != storage.DriverModernc && c.Database.Driver != storage.DriverMattn {
		return fmt.Errorf("database.driver must be %q or %q, got %q", storage.DriverModernc, storage.DriverMattn, c.Database.Driver)
	}

	if c.Database.BusyTimeout < 0 {
		return fmt.Errorf("database.busy_timeout must not be negative")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// StorageMode translates the database section into a storage mode.
func (c *Config) StorageMode() storage.Mode {
	if c.Database.Mode == ModeMemory {
		return storage.InMemory()
	}
	return storage.OnDisk(c.Database.Path)
}

// StorageOptions translates the database section into storage options.
func (c *Config) StorageOptions() storage.Options {
	return storage.Options{
		Driver:      c.Database.Driver,
		DataDir:     c.Database.DataDir,
		BusyTimeout: c.Database.BusyTimeout,
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Database.BusyTimeoutRaw != "" {
		cfg.Database.BusyTimeout, err = time.ParseDuration(cfg.Database.BusyTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing busy_timeout %q: %w", cfg.Database.BusyTimeoutRaw, err)
		}
		// Zero is reserved for unset
		if cfg.Database.BusyTimeout == 0 {
			return fmt.Errorf("busy_timeout %q must be greater than zero; omit it for the default", cfg.Database.BusyTimeoutRaw)
		}
	}

	return nil
}
