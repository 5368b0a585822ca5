// Package config loads runlog configuration: defaults, then an optional YAML
// file, then RUNLOG_* environment overrides, then validation.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete runlog configuration.
type Config struct {
	LogLevel   string           `yaml:"log_level"`
	Store      StoreConfig      `yaml:"store"`
	Writer     WriterConfig     `yaml:"writer"`
	Query      QueryConfig      `yaml:"query"`
	Validation ValidationConfig `yaml:"validation"`
}

// StoreConfig configures the SQLite event store.
type StoreConfig struct {
	Path      string `yaml:"path"`
	ReadConns int    `yaml:"read_conns"`
}

// WriterConfig configures each run's batch writer.
type WriterConfig struct {
	FlushThreshold       int           `yaml:"flush_threshold"`
	FlushInterval        time.Duration `yaml:"flush_interval"`
	MaxAttempts          int           `yaml:"max_attempts"`
	RetryInitialInterval time.Duration `yaml:"retry_initial_interval"`
}

// QueryConfig configures the query engine.
type QueryConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	MaxDepth         int           `yaml:"max_depth"`
	DefaultPageSize  int           `yaml:"default_page_size"`
	MaxPageSize      int           `yaml:"max_page_size"`
	MaxSequenceNodes int           `yaml:"max_sequence_nodes"`
}

// ValidationConfig configures event validation.
type ValidationConfig struct {
	MaxPayloadBytes int `yaml:"max_payload_bytes"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: "info",
		Store: StoreConfig{
			Path:      "runlog.db",
			ReadConns: 16,
		},
		Writer: WriterConfig{
			FlushThreshold:       1000,
			FlushInterval:        30 * time.Second,
			MaxAttempts:          3,
			RetryInitialInterval: 100 * time.Millisecond,
		},
		Query: QueryConfig{
			Timeout:          10 * time.Second,
			MaxDepth:         1000,
			DefaultPageSize:  100,
			MaxPageSize:      1000,
			MaxSequenceNodes: 100000,
		},
		Validation: ValidationConfig{
			MaxPayloadBytes: 1 << 20,
		},
	}
}

// Load builds the configuration. An empty path skips the file. Unknown keys
// in the file are rejected.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if len(bytes.TrimSpace(data)) > 0 {
			decoder := yaml.NewDecoder(bytes.NewReader(data))
			decoder.KnownFields(true)
			if err := decoder.Decode(&cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate reports every out-of-range setting.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	_, levelErr := ParseLevel(c.LogLevel)
	check(levelErr == nil, "log_level: unknown level %q", c.LogLevel)
	check(c.Store.Path != "", "store.path: required")
	check(c.Store.ReadConns > 0, "store.read_conns: must be positive")
	check(c.Writer.FlushThreshold > 0, "writer.flush_threshold: must be positive")
	check(c.Writer.FlushInterval > 0, "writer.flush_interval: must be positive")
	check(c.Writer.MaxAttempts > 0, "writer.max_attempts: must be positive")
	check(c.Writer.RetryInitialInterval > 0, "writer.retry_initial_interval: must be positive")
	check(c.Query.Timeout > 0, "query.timeout: must be positive")
	check(c.Query.MaxDepth > 0, "query.max_depth: must be positive")
	check(c.Query.DefaultPageSize > 0, "query.default_page_size: must be positive")
	check(c.Query.MaxPageSize >= c.Query.DefaultPageSize,
		"query.max_page_size: %d is below default_page_size %d", c.Query.MaxPageSize, c.Query.DefaultPageSize)
	check(c.Query.MaxSequenceNodes > 0, "query.max_sequence_nodes: must be positive")
	check(c.Validation.MaxPayloadBytes > 0, "validation.max_payload_bytes: must be positive")

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// ParseLevel maps a log level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(name))); err != nil {
		return 0, err
	}
	return level, nil
}

func applyEnvOverrides(cfg *Config) error {
	if raw := os.Getenv("RUNLOG_STORE_PATH"); raw != "" {
		cfg.Store.Path = raw
	}
	if raw := os.Getenv("RUNLOG_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	ints := []struct {
		env string
		dst *int
	}{
		{"RUNLOG_READ_CONNS", &cfg.Store.ReadConns},
		{"RUNLOG_FLUSH_THRESHOLD", &cfg.Writer.FlushThreshold},
		{"RUNLOG_QUERY_MAX_DEPTH", &cfg.Query.MaxDepth},
	}
	for _, o := range ints {
		if raw := os.Getenv(o.env); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", o.env, err)
			}
			*o.dst = v
		}
	}
	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"RUNLOG_FLUSH_INTERVAL", &cfg.Writer.FlushInterval},
		{"RUNLOG_QUERY_TIMEOUT", &cfg.Query.Timeout},
	}
	for _, o := range durations {
		if raw := os.Getenv(o.env); raw != "" {
			v, err := time.ParseDuration(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", o.env, err)
			}
			*o.dst = v
		}
	}
	return nil
}
