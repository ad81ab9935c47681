package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Broadcast ordering policies
const (
	OrderRegistration = "registration"
	OrderAlphabetical = "alphabetical"
)

// Agent-error policies
const (
	OnErrorAbort = "abort"
	OnErrorSkip  = "skip_recipient"
)

// RetryPolicy decides whether a failed delivery to a single recipient
// should be attempted again. attempt starts at 1. The retry strategy
// itself lives outside the core; this is only the hook.
type RetryPolicy func(attempt int, err error) bool

// Config holds all configuration options for a run.
// It supports three-layer configuration priority:
//  1. Default values (lowest priority)
//  2. Environment variables (medium priority)
//  3. Functional options (highest priority)
//
// Example usage:
//
//	cfg, err := NewConfig(
//	    WithName("travel-planning"),
//	    WithMaxSteps(50),
//	    WithOnAgentError(OnErrorSkip),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
type Config struct {
	// Core run settings
	Name            string        `json:"name" yaml:"name"`
	BroadcastOrder  string        `json:"broadcast_order" yaml:"broadcast_order"`
	Timeout         time.Duration `json:"timeout" yaml:"timeout"`
	MaxSteps        int           `json:"max_steps" yaml:"max_steps"`
	OnAgentError    string        `json:"on_agent_error" yaml:"on_agent_error"`
	SerializeAgents bool          `json:"serialize_agents" yaml:"serialize_agents"`

	// Telemetry configuration
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`

	// External registry configuration
	Registry RegistryConfig `json:"registry" yaml:"registry"`

	// Logging configuration
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Retry is consulted by the bus after a failed delivery attempt.
	// Not settable from files or environment.
	Retry RetryPolicy `json:"-" yaml:"-"`
}

// TelemetryConfig contains span export configuration. The endpoint is
// an OTLP/gRPC receiver address (Jaeger, Tempo or any compatible
// collector).
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	Endpoint    string `json:"endpoint" yaml:"endpoint"`
	ServiceName string `json:"service_name" yaml:"service_name"`
	Insecure    bool   `json:"insecure" yaml:"insecure"`
}

// RegistryConfig contains external agent-registry configuration.
// Redis is the only supported backend.
type RegistryConfig struct {
	Enabled   bool          `json:"enabled" yaml:"enabled"`
	RedisURL  string        `json:"redis_url" yaml:"redis_url"`
	Namespace string        `json:"namespace" yaml:"namespace"`
	TTL       time.Duration `json:"ttl" yaml:"ttl"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Option is a functional option for configuring the run
type Option func(*Config) error

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Name:            "agentbus-run",
		BroadcastOrder:  OrderRegistration,
		Timeout:         30 * time.Second,
		MaxSteps:        100,
		OnAgentError:    OnErrorAbort,
		SerializeAgents: false,
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			ServiceName: "agentbus",
			Insecure:    true,
		},
		Registry: RegistryConfig{
			Enabled:   false,
			RedisURL:  "redis://localhost:6379",
			Namespace: "agentbus",
			TTL:       30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables take precedence over defaults but are
// overridden by functional options.
//
// Variable naming convention:
//   - Framework-specific: AGENTBUS_<SETTING>
//   - Standard variables: REDIS_URL, OTEL_EXPORTER_OTLP_ENDPOINT
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("AGENTBUS_NAME"); v != "" {
		c.Name = v
	}
	if v := os.Getenv("AGENTBUS_BROADCAST_ORDER"); v != "" {
		c.BroadcastOrder = v
	}
	if v := os.Getenv("AGENTBUS_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Timeout = d
		}
	}
	if v := os.Getenv("AGENTBUS_MAX_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxSteps = n
		}
	}
	if v := os.Getenv("AGENTBUS_ON_AGENT_ERROR"); v != "" {
		c.OnAgentError = v
	}
	if v := os.Getenv("AGENTBUS_SERIALIZE_AGENTS"); v != "" {
		c.SerializeAgents = parseBool(v)
	}

	// Telemetry settings
	if v := os.Getenv("AGENTBUS_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = parseBool(v)
	}
	if v := os.Getenv("AGENTBUS_TELEMETRY_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
	} else if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
	}
	if v := os.Getenv("AGENTBUS_TELEMETRY_SERVICE_NAME"); v != "" {
		c.Telemetry.ServiceName = v
	} else if v := os.Getenv("OTEL_SERVICE_NAME"); v != "" {
		c.Telemetry.ServiceName = v
	}
	if v := os.Getenv("AGENTBUS_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = parseBool(v)
	}

	// Registry settings
	if v := os.Getenv("AGENTBUS_REGISTRY_ENABLED"); v != "" {
		c.Registry.Enabled = parseBool(v)
	}
	if v := os.Getenv("AGENTBUS_REDIS_URL"); v != "" {
		c.Registry.RedisURL = v
	} else if v := os.Getenv("REDIS_URL"); v != "" {
		c.Registry.RedisURL = v
	}
	if v := os.Getenv("AGENTBUS_REGISTRY_NAMESPACE"); v != "" {
		c.Registry.Namespace = v
	}
	if v := os.Getenv("AGENTBUS_REGISTRY_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Registry.TTL = d
		}
	}

	// Logging settings
	if v := os.Getenv("AGENTBUS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("AGENTBUS_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}

	return nil
}

// parseBool parses common boolean representations
func parseBool(v string) bool {
	switch strings.ToLower(v) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}

// fileConfig mirrors Config for file decoding. Pointer fields
// distinguish "absent" from zero values, and durations are parsed
// from strings ("30s", "1m") instead of raw nanoseconds.
type fileConfig struct {
	Name            *string `json:"name" yaml:"name"`
	BroadcastOrder  *string `json:"broadcast_order" yaml:"broadcast_order"`
	Timeout         *string `json:"timeout" yaml:"timeout"`
	MaxSteps        *int    `json:"max_steps" yaml:"max_steps"`
	OnAgentError    *string `json:"on_agent_error" yaml:"on_agent_error"`
	SerializeAgents *bool   `json:"serialize_agents" yaml:"serialize_agents"`

	Telemetry *struct {
		Enabled     *bool   `json:"enabled" yaml:"enabled"`
		Endpoint    *string `json:"endpoint" yaml:"endpoint"`
		ServiceName *string `json:"service_name" yaml:"service_name"`
		Insecure    *bool   `json:"insecure" yaml:"insecure"`
	} `json:"telemetry" yaml:"telemetry"`

	Registry *struct {
		Enabled   *bool   `json:"enabled" yaml:"enabled"`
		RedisURL  *string `json:"redis_url" yaml:"redis_url"`
		Namespace *string `json:"namespace" yaml:"namespace"`
		TTL       *string `json:"ttl" yaml:"ttl"`
	} `json:"registry" yaml:"registry"`

	Logging *struct {
		Level  *string `json:"level" yaml:"level"`
		Format *string `json:"format" yaml:"format"`
	} `json:"logging" yaml:"logging"`
}

// LoadFromFile loads configuration from a YAML or JSON file.
// File values overlay the current configuration; unset keys keep
// their existing values.
func (c *Config) LoadFromFile(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config file extension %q: %w", ext, ErrInvalidConfiguration)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &fc); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	return c.apply(&fc)
}

func (c *Config) apply(fc *fileConfig) error {
	if fc.Name != nil {
		c.Name = *fc.Name
	}
	if fc.BroadcastOrder != nil {
		c.BroadcastOrder = *fc.BroadcastOrder
	}
	if fc.Timeout != nil {
		d, err := time.ParseDuration(*fc.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout %q: %w", *fc.Timeout, ErrInvalidConfiguration)
		}
		c.Timeout = d
	}
	if fc.MaxSteps != nil {
		c.MaxSteps = *fc.MaxSteps
	}
	if fc.OnAgentError != nil {
		c.OnAgentError = *fc.OnAgentError
	}
	if fc.SerializeAgents != nil {
		c.SerializeAgents = *fc.SerializeAgents
	}
	if fc.Telemetry != nil {
		if fc.Telemetry.Enabled != nil {
			c.Telemetry.Enabled = *fc.Telemetry.Enabled
		}
		if fc.Telemetry.Endpoint != nil {
			c.Telemetry.Endpoint = *fc.Telemetry.Endpoint
		}
		if fc.Telemetry.ServiceName != nil {
			c.Telemetry.ServiceName = *fc.Telemetry.ServiceName
		}
		if fc.Telemetry.Insecure != nil {
			c.Telemetry.Insecure = *fc.Telemetry.Insecure
		}
	}
	if fc.Registry != nil {
		if fc.Registry.Enabled != nil {
			c.Registry.Enabled = *fc.Registry.Enabled
		}
		if fc.Registry.RedisURL != nil {
			c.Registry.RedisURL = *fc.Registry.RedisURL
		}
		if fc.Registry.Namespace != nil {
			c.Registry.Namespace = *fc.Registry.Namespace
		}
		if fc.Registry.TTL != nil {
			d, err := time.ParseDuration(*fc.Registry.TTL)
			if err != nil {
				return fmt.Errorf("invalid registry ttl %q: %w", *fc.Registry.TTL, ErrInvalidConfiguration)
			}
			c.Registry.TTL = d
		}
	}
	if fc.Logging != nil {
		if fc.Logging.Level != nil {
			c.Logging.Level = *fc.Logging.Level
		}
		if fc.Logging.Format != nil {
			c.Logging.Format = *fc.Logging.Format
		}
	}
	return nil
}

// Validate checks the configuration for invalid combinations
func (c *Config) Validate() error {
	if c.BroadcastOrder != OrderRegistration && c.BroadcastOrder != OrderAlphabetical {
		return fmt.Errorf("broadcast_order must be %q or %q, got %q: %w",
			OrderRegistration, OrderAlphabetical, c.BroadcastOrder, ErrInvalidConfiguration)
	}
	if c.OnAgentError != OnErrorAbort && c.OnAgentError != OnErrorSkip {
		return fmt.Errorf("on_agent_error must be %q or %q, got %q: %w",
			OnErrorAbort, OnErrorSkip, c.OnAgentError, ErrInvalidConfiguration)
	}
	if c.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be positive, got %d: %w", c.MaxSteps, ErrInvalidConfiguration)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v: %w", c.Timeout, ErrInvalidConfiguration)
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry enabled without endpoint: %w", ErrInvalidConfiguration)
	}
	if c.Registry.Enabled && c.Registry.RedisURL == "" {
		return fmt.Errorf("registry enabled without redis_url: %w", ErrInvalidConfiguration)
	}
	return nil
}

// NewConfig creates a configuration: defaults first, then environment
// variables, then functional options, then validation.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// WithName sets the run name
func WithName(name string) Option {
	return func(c *Config) error {
		c.Name = name
		return nil
	}
}

// WithBroadcastOrder sets the broadcast delivery order policy
func WithBroadcastOrder(order string) Option {
	return func(c *Config) error {
		c.BroadcastOrder = order
		return nil
	}
}

// WithTimeout sets the wall-clock budget for a run
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) error {
		c.Timeout = timeout
		return nil
	}
}

// WithMaxSteps sets the delivery step budget for a run
func WithMaxSteps(steps int) Option {
	return func(c *Config) error {
		c.MaxSteps = steps
		return nil
	}
}

// WithOnAgentError sets the agent-error policy
func WithOnAgentError(policy string) Option {
	return func(c *Config) error {
		c.OnAgentError = policy
		return nil
	}
}

// WithSerializedAgents forbids concurrent reentry into a single agent
func WithSerializedAgents(serialize bool) Option {
	return func(c *Config) error {
		c.SerializeAgents = serialize
		return nil
	}
}

// WithTelemetry enables span export to an OTLP endpoint
func WithTelemetry(enabled bool, endpoint string) Option {
	return func(c *Config) error {
		c.Telemetry.Enabled = enabled
		if endpoint != "" {
			c.Telemetry.Endpoint = endpoint
		}
		return nil
	}
}

// WithServiceName sets the service name reported with exported spans
func WithServiceName(name string) Option {
	return func(c *Config) error {
		c.Telemetry.ServiceName = name
		return nil
	}
}

// WithRedisRegistry enables agent-registration publication to Redis
func WithRedisRegistry(redisURL string) Option {
	return func(c *Config) error {
		c.Registry.Enabled = true
		if redisURL != "" {
			c.Registry.RedisURL = redisURL
		}
		return nil
	}
}

// WithLogLevel sets the logging level (debug, info, warn, error)
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		c.Logging.Level = level
		return nil
	}
}

// WithLogFormat sets the logging format (json or text)
func WithLogFormat(format string) Option {
	return func(c *Config) error {
		c.Logging.Format = format
		return nil
	}
}

// WithRetryPolicy sets the delivery retry hook
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Config) error {
		c.Retry = policy
		return nil
	}
}

// WithConfigFile loads configuration from a file
func WithConfigFile(path string) Option {
	return func(c *Config) error {
		return c.LoadFromFile(path)
	}
}
