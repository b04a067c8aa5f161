package main

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	json "github.com/goccy/go-json"
	"github.com/tailscale/hujson"
)

var (
	errConfigFileNotFound = errors.New("config file not found")
	errConfigInvalid      = errors.New("invalid config")
)

// Config holds all configuration options.
type Config struct {
	Capacity    int    `json:"capacity"`
	Shards      int    `json:"shards,omitempty"`
	OffHeap     bool   `json:"off_heap,omitempty"`     //nolint:tagliatelle // snake_case for config file
	MemoryLimit string `json:"memory_limit,omitempty"` //nolint:tagliatelle // snake_case for config file
	IOLimit     string `json:"io_limit,omitempty"`     //nolint:tagliatelle // snake_case for config file
	LogLevel    string `json:"log_level,omitempty"`    //nolint:tagliatelle // snake_case for config file
	LogFormat   string `json:"log_format,omitempty"`   //nolint:tagliatelle // snake_case for config file
	MetricsAddr string `json:"metrics_addr,omitempty"` //nolint:tagliatelle // snake_case for config file
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Capacity:  1024,
		LogLevel:  "warn",
		LogFormat: "text",
	}
}

// defaultConfigPath returns $XDG_CONFIG_HOME/tmemctl/config.json, falling
// back to ~/.config/tmemctl/config.json. Empty if neither can be resolved.
func defaultConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "tmemctl", "config.json")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "tmemctl", "config.json")
}

// LoadConfig reads the config file at path over the defaults. An empty path
// loads the default config file if it exists.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	mustExist := path != ""
	if !mustExist {
		path = defaultConfigPath()
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return cfg, nil
		}
		if os.IsNotExist(err) {
			return Config{}, fmt.Errorf("%w: %s", errConfigFileNotFound, path)
		}
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	fileCfg, err := parseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}

	cfg = mergeConfig(cfg, fileCfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}
	return cfg, nil
}

func parseConfig(data []byte) (Config, error) {
	// Standardize JSONC to JSON
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}
	return cfg, nil
}

func mergeConfig(base, overlay Config) Config {
	if overlay.Capacity != 0 {
		base.Capacity = overlay.Capacity
	}
	if overlay.Shards != 0 {
		base.Shards = overlay.Shards
	}
	if overlay.OffHeap {
		base.OffHeap = true
	}
	if overlay.MemoryLimit != "" {
		base.MemoryLimit = overlay.MemoryLimit
	}
	if overlay.IOLimit != "" {
		base.IOLimit = overlay.IOLimit
	}
	if overlay.LogLevel != "" {
		base.LogLevel = overlay.LogLevel
	}
	if overlay.LogFormat != "" {
		base.LogFormat = overlay.LogFormat
	}
	if overlay.MetricsAddr != "" {
		base.MetricsAddr = overlay.MetricsAddr
	}
	return base
}

func validateConfig(cfg Config) error {
	if cfg.Capacity <= 0 {
		return fmt.Errorf("capacity must be positive, got %d", cfg.Capacity)
	}
	if _, err := cfg.memoryLimitBytes(); err != nil {
		return err
	}
	if _, err := cfg.ioLimitBytes(); err != nil {
		return err
	}
	if _, err := cfg.logLevel(); err != nil {
		return err
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return fmt.Errorf("log_format must be text or json, got %q", cfg.LogFormat)
	}
	return nil
}

// memoryLimitBytes parses MemoryLimit ("64MiB", "1GB"). Empty means unlimited.
func (c Config) memoryLimitBytes() (int64, error) {
	return parseSize("memory_limit", c.MemoryLimit)
}

// ioLimitBytes parses IOLimit, in bytes per second. Empty means unlimited.
func (c Config) ioLimitBytes() (int64, error) {
	return parseSize("io_limit", c.IOLimit)
}

func parseSize(field, s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if n > 1<<62 {
		return 0, fmt.Errorf("%s: %s is too large", field, s)
	}
	return int64(n), nil
}

func (c Config) logLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// FormatConfig returns the config as formatted JSON.
func FormatConfig(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to format config: %w", err)
	}
	return string(data), nil
}
