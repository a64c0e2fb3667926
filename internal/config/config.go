// Package config handles loading, validating, and applying
// configuration for the cfnadapter CLI.  Configuration is read from a
// YAML file and can be overridden by CLI flags.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/terrpan/cfnadapter/adapter"
)

// ---------------------------------------------------------------------------
// Top-level config
// ---------------------------------------------------------------------------

// Config is the root configuration structure.
type Config struct {
	Adapter AdapterConfig `yaml:"adapter"`
	Harness HarnessConfig `yaml:"harness"`
	Logging LoggingConfig `yaml:"logging"`
	OTel    OTelConfig    `yaml:"otel"`
}

// ---------------------------------------------------------------------------
// Adapter policy
// ---------------------------------------------------------------------------

// AdapterConfig holds the protocol policy switches.  All three default
// to true; *bool distinguishes "not set" from "explicitly false".
type AdapterConfig struct {
	// DeleteLogs purges the function's log group after a successful
	// Delete.  Default: true.
	DeleteLogs *bool `yaml:"delete_logs"`

	// HideDeleteFailure reports SUCCESS on Delete even when the
	// handler faults, so stacks cannot park in DELETE_FAILED.
	// Default: true.
	HideDeleteFailure *bool `yaml:"hide_delete_failure"`

	// SendResponse, when false, suppresses the callback entirely
	// (diagnostic mode).  Default: true.
	SendResponse *bool `yaml:"send_response"`
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

// HarnessConfig configures the local harness server.
type HarnessConfig struct {
	// Addr is the listen address.  Default: ":8080".
	Addr string `yaml:"addr"`
}

// ---------------------------------------------------------------------------
// Logging
// ---------------------------------------------------------------------------

// LoggingConfig controls structured logging output.
type LoggingConfig struct {
	// Level: debug, info, warn, error.  Default: info.
	Level string `yaml:"level"`
	// Format: text, json.  Default: text.
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// OpenTelemetry
// ---------------------------------------------------------------------------

// OTelConfig controls OpenTelemetry tracing and metrics.
type OTelConfig struct {
	// Enabled controls whether OTLP push is active.  Default: false.
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP HTTP endpoint (e.g. "localhost:4318").
	// If empty, falls back to OTEL_EXPORTER_OTLP_ENDPOINT env var.
	Endpoint string `yaml:"endpoint"`

	// Insecure enables plain HTTP (no TLS) for OTLP export.  Default: true.
	Insecure *bool `yaml:"insecure"`

	// StdOut also prints traces and metrics to stdout (for debugging).
	StdOut bool `yaml:"stdout"`

	// PrometheusEnabled adds a Prometheus metric reader so the harness
	// /metrics endpoint reports adapter metrics.  Default: true.
	PrometheusEnabled *bool `yaml:"prometheus_enabled"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads a YAML config file from path and returns the parsed
// Config.  A missing file is not an error -- every field has a default
// or a flag override.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// ---------------------------------------------------------------------------
// Defaults & validation
// ---------------------------------------------------------------------------

// ApplyDefaults fills in sensible defaults for any unset fields.
func (c *Config) ApplyDefaults() {
	c.Adapter.DeleteLogs = defaultTrue(c.Adapter.DeleteLogs)
	c.Adapter.HideDeleteFailure = defaultTrue(c.Adapter.HideDeleteFailure)
	c.Adapter.SendResponse = defaultTrue(c.Adapter.SendResponse)

	if c.Harness.Addr == "" {
		c.Harness.Addr = ":8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	c.OTel.Insecure = defaultTrue(c.OTel.Insecure)
	c.OTel.PrometheusEnabled = defaultTrue(c.OTel.PrometheusEnabled)
}

func defaultTrue(v *bool) *bool {
	if v == nil {
		t := true
		return &t
	}
	return v
}

// Validate checks that all fields are present and consistent.
func (c *Config) Validate() error {
	c.ApplyDefaults()

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not supported (supported: debug, info, warn, error)", c.Logging.Level)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not supported (supported: text, json)", c.Logging.Format)
	}

	return nil
}

// ---------------------------------------------------------------------------
// Factories
// ---------------------------------------------------------------------------

// NewLogger creates a *slog.Logger from the Logging configuration.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{
		AddSource: true,
		Level:     c.slogLevel(),
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	default:
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
}

func (c *Config) slogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewAdapterConfig produces the adapter configuration with the policy
// switches from this config and the given logger.
func (c *Config) NewAdapterConfig(logger *slog.Logger) adapter.Config {
	cfg := adapter.DefaultConfig()
	if c.Adapter.DeleteLogs != nil {
		cfg.DeleteLogs = *c.Adapter.DeleteLogs
	}
	if c.Adapter.HideDeleteFailure != nil {
		cfg.HideDeleteFailure = *c.Adapter.HideDeleteFailure
	}
	if c.Adapter.SendResponse != nil {
		cfg.SendResponse = *c.Adapter.SendResponse
	}
	cfg.Logger = logger
	return cfg
}
