package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Storage       StorageConfig       `yaml:"storage"`
	Session       SessionConfig       `yaml:"session"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// StorageConfig contains storage configuration
type StorageConfig struct {
	Type       string `yaml:"type" validate:"oneof=memory file badger"`
	Path       string `yaml:"path,omitempty" validate:"required_unless=Type memory"`
	SyncWrites bool   `yaml:"sync_writes"`
	GCInterval string `yaml:"gc_interval,omitempty"` // badger value log GC, "" disables
}

// SessionConfig contains graph session configuration
type SessionConfig struct {
	OperationTimeout string `yaml:"operation_timeout"`
	Renderer         string `yaml:"renderer" validate:"oneof=text styled json"`
}

// ObservabilityConfig contains observability configuration
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// TracingConfig contains tracing configuration
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint" validate:"required_if=Enabled true"`
	SamplingRate float64 `yaml:"sampling_rate" validate:"gte=0,lte=1"`
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

var validate = validator.New()

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config file not found: %s: %w", path, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.applyDefaults()
	config.overrideFromEnv()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// LoadOrDefault loads configuration from a file, falling back to the defaults
// only when the file does not exist. Parse and validation errors are returned.
// Environment overrides apply in both cases.
func LoadOrDefault(path string) (*Config, error) {
	config, err := Load(path)
	if err == nil {
		return config, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	config = Default()
	config.overrideFromEnv()
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Type:       "file",
			Path:       "./data",
			SyncWrites: false,
			GCInterval: "5m",
		},
		Session: SessionConfig{
			OperationTimeout: "30s",
			Renderer:         "styled",
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Enabled:      false,
				Endpoint:     "localhost:4318",
				SamplingRate: 1.0,
			},
			Metrics: MetricsConfig{
				Enabled: false,
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
		},
	}
}

// applyDefaults applies default values to missing fields
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Storage.Type == "" {
		c.Storage.Type = defaults.Storage.Type
	}
	if c.Storage.Path == "" && c.Storage.Type != "memory" {
		c.Storage.Path = defaults.Storage.Path
	}

	if c.Session.OperationTimeout == "" {
		c.Session.OperationTimeout = defaults.Session.OperationTimeout
	}
	if c.Session.Renderer == "" {
		c.Session.Renderer = defaults.Session.Renderer
	}

	if c.Observability.Tracing.Endpoint == "" {
		c.Observability.Tracing.Endpoint = defaults.Observability.Tracing.Endpoint
	}
	if c.Observability.Logging.Level == "" {
		c.Observability.Logging.Level = defaults.Observability.Logging.Level
	}
	if c.Observability.Logging.Format == "" {
		c.Observability.Logging.Format = defaults.Observability.Logging.Format
	}
}

// overrideFromEnv overrides configuration from environment variables
func (c *Config) overrideFromEnv() {
	if storageType := os.Getenv("DECOMPOSE_STORAGE_TYPE"); storageType != "" {
		c.Storage.Type = strings.ToLower(storageType)
	}
	if path := os.Getenv("DECOMPOSE_STORAGE_PATH"); path != "" {
		c.Storage.Path = path
	}

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		c.Observability.Tracing.Endpoint = endpoint
		c.Observability.Tracing.Enabled = true
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Observability.Logging.Level = strings.ToLower(level)
	}
}

// validate validates the configuration
func (c *Config) validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return formatFieldError(verrs[0])
		}
		return err
	}

	if _, err := time.ParseDuration(c.Session.OperationTimeout); err != nil {
		return fmt.Errorf("invalid session operation_timeout: %w", err)
	}
	if c.Storage.GCInterval != "" {
		if _, err := time.ParseDuration(c.Storage.GCInterval); err != nil {
			return fmt.Errorf("invalid storage gc_interval: %w", err)
		}
	}

	return nil
}

func formatFieldError(fe validator.FieldError) error {
	field := strings.ToLower(fe.Namespace())
	switch fe.Tag() {
	case "oneof":
		return fmt.Errorf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value())
	case "required_if", "required_unless":
		return fmt.Errorf("%s is required", field)
	case "gte":
		return fmt.Errorf("%s must be at least %s", field, fe.Param())
	case "lte":
		return fmt.Errorf("%s must be at most %s", field, fe.Param())
	default:
		return fmt.Errorf("%s failed %s validation", field, fe.Tag())
	}
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// OperationTimeout returns the parsed per-operation timeout
func (c *Config) OperationTimeout() time.Duration {
	d, err := time.ParseDuration(c.Session.OperationTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GCIntervalDuration returns the parsed badger GC interval, zero when disabled
func (s StorageConfig) GCIntervalDuration() time.Duration {
	if s.GCInterval == "" {
		return 0
	}
	d, err := time.ParseDuration(s.GCInterval)
	if err != nil {
		return 0
	}
	return d
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	env := os.Getenv("ENVIRONMENT")
	return strings.ToLower(env) == "production" || strings.ToLower(env) == "prod"
}
