// Package config provides centralized configuration management for the Heimdall agent.
// It uses envconfig for environment variable loading, an optional YAML file
// overlay, and validator for validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPrefix is the prefix of every environment variable.
	EnvPrefix = "HEIMDALL"

	// EnvironmentProduction is the production environment identifier
	EnvironmentProduction = "production"
)

// Config holds the complete application configuration.
type Config struct {
	App           AppConfig           `envconfig:"APP" yaml:"app"`
	Client        ClientConfig        `envconfig:"CLIENT" yaml:"client"`
	Storage       StorageConfig       `envconfig:"STORAGE" yaml:"storage"`
	Events        EventsConfig        `envconfig:"EVENTS" yaml:"events"`
	Apply         ApplyConfig         `envconfig:"APPLY" yaml:"apply"`
	Flags         FlagsConfig         `envconfig:"FLAGS" yaml:"flags"`
	Agent         AgentConfig         `envconfig:"AGENT" yaml:"agent"`
	Observability ObservabilityConfig `envconfig:"OBSERVABILITY" yaml:"observability"`
	Redis         RedisConfig         `envconfig:"REDIS" yaml:"redis"`
	Database      DatabaseConfig      `envconfig:"DB" yaml:"database"`
}

// AppConfig contains core application settings.
type AppConfig struct {
	Name            string        `envconfig:"NAME" yaml:"name" default:"heimdall-agent"`
	Version         string        `envconfig:"VERSION" yaml:"version" default:"dev"`
	Environment     string        `envconfig:"ENV" yaml:"env" default:"development" validate:"oneof=development staging production"`
	LogLevel        string        `envconfig:"LOG_LEVEL" yaml:"log_level" default:"info" validate:"oneof=debug info warn error"`
	LogFormat       string        `envconfig:"LOG_FORMAT" yaml:"log_format" default:"text" validate:"oneof=json text"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" yaml:"shutdown_timeout" default:"30s"`
}

// Load reads configuration from environment variables with the HEIMDALL prefix.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadFile reads a YAML file and then the environment. A variable that is
// set always wins over the file; the file wins over defaults. Zero values in
// the file are treated as absent.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	fromFile := &Config{}
	if err := yaml.Unmarshal(data, fromFile); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg := &Config{}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	overlay(reflect.ValueOf(cfg).Elem(), reflect.ValueOf(fromFile).Elem(), EnvPrefix)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// overlay copies non-zero fields of src into dst unless the matching
// environment variable is set.
func overlay(dst, src reflect.Value, prefix string) {
	t := dst.Type()
	for i := range t.NumField() {
		field := t.Field(i)
		key := prefix + "_" + field.Tag.Get("envconfig")

		dv, sv := dst.Field(i), src.Field(i)
		if field.Type.Kind() == reflect.Struct {
			overlay(dv, sv, key)
			continue
		}
		if sv.IsZero() {
			continue
		}
		if _, set := os.LookupEnv(key); set {
			continue
		}
		dv.Set(sv)
	}
}

// Validate performs validation on the loaded configuration using go-playground/validator.
func (c *Config) Validate() error {
	validate := validator.New()

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	if err := c.Client.Validate(c.App.Environment); err != nil {
		return err
	}

	if err := c.Storage.Validate(); err != nil {
		return err
	}

	if err := c.Agent.Validate(); err != nil {
		return err
	}

	if err := c.Observability.Validate(); err != nil {
		return err
	}

	// Backing services are only checked when a backend needs them.
	if c.RequiresRedis() {
		if err := c.Redis.Validate(c.App.Environment); err != nil {
			return err
		}
	}

	if c.RequiresDatabase() {
		if err := c.Database.Validate(c.App.Environment); err != nil {
			return err
		}
	}

	return nil
}

// RequiresRedis reports whether any backend is configured to use Redis.
func (c *Config) RequiresRedis() bool {
	return c.Storage.ApplyBackend == BackendRedis || c.Events.Backend == BackendRedis
}

// RequiresDatabase reports whether the event sink writes to PostgreSQL.
func (c *Config) RequiresDatabase() bool {
	return c.Events.Backend == BackendPostgres
}

// LogConfig logs the current configuration (without sensitive data).
func (c *Config) LogConfig(log *slog.Logger) {
	log.Info("configuration loaded",
		slog.String("app_name", c.App.Name),
		slog.String("version", c.App.Version),
		slog.String("environment", c.App.Environment),
		slog.String("log_level", c.App.LogLevel),
		slog.String("log_format", c.App.LogFormat),
		slog.Duration("shutdown_timeout", c.App.ShutdownTimeout),
		slog.String("region", c.Client.Region),
		slog.Bool("custom_base_url", c.Client.BaseURL != ""),
		slog.String("data_dir", c.Storage.DataDir),
		slog.String("apply_backend", c.Storage.ApplyBackend),
		slog.String("events_backend", c.Events.Backend),
		slog.Int("events_batch_size", c.Events.BatchSize),
		slog.Duration("events_flush_interval", c.Events.FlushInterval),
		slog.Duration("flags_refresh_interval", c.Flags.RefreshInterval),
		slog.String("agent_port", c.Agent.Port),
		slog.String("agent_grpc_port", c.Agent.GRPCPort),
		slog.Bool("db_configured", c.Database.IsConfigured()),
		slog.Bool("redis_configured", c.Redis.IsConfigured()),
	)
}

// Shared validation helper functions

// validatePort checks if port is valid (1-65535)
func validatePort(port, context string) error {
	if port == "" {
		return fmt.Errorf("%s port cannot be empty", context)
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("%s port must be a number: %w", context, err)
	}
	if portNum < 1 || portNum > 65535 {
		return fmt.Errorf("%s port must be between 1 and 65535, got %d", context, portNum)
	}
	return nil
}

// validateHost checks if host is not empty and contains no whitespace
func validateHost(host, context string) error {
	if host == "" {
		return fmt.Errorf("%s host cannot be empty", context)
	}
	if strings.TrimSpace(host) != host {
		return fmt.Errorf("%s host cannot contain whitespace", context)
	}
	return nil
}

// validateNoWhitespace checks if a value is not empty and contains no whitespace
func validateNoWhitespace(value, fieldName string) error {
	if value == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}
	if strings.TrimSpace(value) != value {
		return fmt.Errorf("%s cannot contain whitespace", fieldName)
	}
	return nil
}

// requireProductionPassword enforces a password of at least 12 characters.
func requireProductionPassword(password, context string) error {
	if password == "" {
		return fmt.Errorf("%s password is required in production environment", context)
	}
	if len(password) < 12 {
		return fmt.Errorf("%s password must be at least 12 characters in production", context)
	}
	return nil
}

// isSecureSSLMode checks if SSL mode is production-safe
func isSecureSSLMode(mode string) bool {
	return mode == "require" || mode == "verify-ca" || mode == "verify-full"
}

// parseAndValidateURL is a helper for parsing URLs with scheme validation
func parseAndValidateURL(rawURL string, allowedSchemes []string) (*url.URL, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	if !slices.Contains(allowedSchemes, parsed.Scheme) {
		return nil, fmt.Errorf("invalid scheme '%s', must be one of: %v", parsed.Scheme, allowedSchemes)
	}

	if parsed.Host == "" {
		return nil, fmt.Errorf("host is required in URL")
	}

	return parsed, nil
}
