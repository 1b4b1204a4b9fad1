// Package config loads proxy settings from an optional YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix prefixes every structured override, e.g.
	// VAPI_PROXY_CORRELATION__WAIT_TIMEOUT=20s.
	EnvPrefix = "VAPI_PROXY_"

	// EnvConfigFile names the YAML file to load.
	EnvConfigFile = "VAPI_PROXY_CONFIG"

	defaultConfigFile = "config.yaml"
)

// Storage backends for outcome history.
const (
	StorageNone   = "none"
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
)

// ErrMissingDownstreamURL is returned when no webhook URL is configured.
var ErrMissingDownstreamURL = errors.New("config: downstream url is required (set MAKE_WEBHOOK_URL)")

// ErrWriteTimeoutTooShort is returned when server.write_timeout would cut a
// proxied request off before its callback wait can expire.
var ErrWriteTimeoutTooShort = errors.New("config: server.write_timeout must exceed correlation.wait_timeout")

type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Downstream  DownstreamConfig  `koanf:"downstream"`
	Correlation CorrelationConfig `koanf:"correlation"`
	Reshape     ReshapeConfig     `koanf:"reshape"`
	Logging     LoggingConfig     `koanf:"logging"`
	Metrics     MetricsConfig     `koanf:"metrics"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
	Storage     StorageConfig     `koanf:"storage"`
}

type ServerConfig struct {
	Port         int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout  time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `koanf:"write_timeout" validate:"gt=0"`
	IdleTimeout  time.Duration `koanf:"idle_timeout" validate:"gt=0"`
	MaxBodyBytes int64         `koanf:"max_body_bytes" validate:"gt=0"`
}

type DownstreamConfig struct {
	URL     string            `koanf:"url" validate:"required,url"`
	Timeout time.Duration     `koanf:"timeout" validate:"gt=0"`
	Headers map[string]string `koanf:"headers"`
}

type CorrelationConfig struct {
	WaitTimeout time.Duration `koanf:"wait_timeout" validate:"gt=0"`
}

type ReshapeConfig struct {
	TraceKeys []string `koanf:"trace_keys"`
}

type LoggingConfig struct {
	Level string `koanf:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `koanf:"json"`
}

type MetricsConfig struct {
	Enabled bool `koanf:"enabled"`
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

type StorageConfig struct {
	Type   string       `koanf:"type" validate:"oneof=none memory sqlite"`
	SQLite SQLiteConfig `koanf:"sqlite"`
	Memory MemoryConfig `koanf:"memory"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type MemoryConfig struct {
	MaxEntries int `koanf:"max_entries"`
}

var defaults = map[string]any{
	"server.port":                3000,
	"server.read_timeout":        10 * time.Second,
	"server.write_timeout":       30 * time.Second,
	"server.idle_timeout":        60 * time.Second,
	"server.max_body_bytes":      int64(1 << 20),
	"downstream.timeout":         10 * time.Second,
	"correlation.wait_timeout":   15 * time.Second,
	"reshape.trace_keys":         []string{"traceId"},
	"logging.level":              "info",
	"logging.json":               true,
	"metrics.enabled":            true,
	"telemetry.enabled":          false,
	"telemetry.service_name":     "vapi-make-proxy",
	"storage.type":               StorageNone,
	"storage.sqlite.path":        "./data/outcomes.db",
	"storage.memory.max_entries": 1000,
}

// Load reads configuration. Sources in increasing precedence: defaults, the
// YAML file, the plain MAKE_WEBHOOK_URL and PORT variables, then
// VAPI_PROXY_ prefixed variables.
func Load() (*Config, error) {
	k := koanf.New(".")

	path := os.Getenv(EnvConfigFile)
	if path == "" {
		path = defaultConfigFile
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// A missing default file is fine; a missing explicit one is not.
		if !errors.Is(err, fs.ErrNotExist) || os.Getenv(EnvConfigFile) != "" {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", plainEnv), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", prefixedEnv), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks required fields and ranges.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Downstream.URL) == "" {
		return ErrMissingDownstreamURL
	}
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	// The write timeout also bounds the request context.
	if c.Server.WriteTimeout <= c.Correlation.WaitTimeout {
		return fmt.Errorf("%w (write_timeout=%s, wait_timeout=%s)",
			ErrWriteTimeoutTooShort, c.Server.WriteTimeout, c.Correlation.WaitTimeout)
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// plainEnv maps the unprefixed variables the deployment platform sets.
func plainEnv(key, value string) (string, any) {
	if value == "" {
		return "", nil
	}
	switch key {
	case "MAKE_WEBHOOK_URL":
		return "downstream.url", value
	case "PORT":
		return "server.port", value
	}
	return "", nil
}

// prefixedEnv maps VAPI_PROXY_SECTION__KEY to section.key. List values are
// comma separated.
func prefixedEnv(key, value string) (string, any) {
	if key == EnvConfigFile {
		return "", nil
	}
	key = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), "__", ".")
	if key == "reshape.trace_keys" {
		return key, splitList(value)
	}
	return key, value
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// NewLogger builds the process logger.
func (l LoggingConfig) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: l.level()}
	if l.JSON {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func (l LoggingConfig) level() slog.Level {
	switch strings.ToLower(l.Level) {
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
