// Package config provides configuration management for the gateway.
// Configuration is loaded from a YAML file; thresholds and timeouts for
// the resilience layer are fixed once the clients are constructed.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default resilience settings applied when a backend omits them.
const (
	DefaultMaxRetries              = 3
	DefaultRetryBaseDelay          = 200 * time.Millisecond
	DefaultRequestTimeout          = 30 * time.Second
	DefaultCircuitFailureThreshold = 5
	DefaultRecoveryTimeout         = 30 * time.Second
)

// Config holds all configuration for the gateway.
type Config struct {
	Server   ServerConfig  `json:"server" yaml:"server"`
	Logging  LoggingConfig `json:"logging" yaml:"logging"`
	Tracing  TracingConfig `json:"tracing" yaml:"tracing"`
	Backends []Backend     `json:"backends" yaml:"backends"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	ListenAddress   string   `json:"listenAddress" yaml:"listenAddress"`
	ReadTimeout     Duration `json:"readTimeout" yaml:"readTimeout"`
	WriteTimeout    Duration `json:"writeTimeout" yaml:"writeTimeout"`
	IdleTimeout     Duration `json:"idleTimeout" yaml:"idleTimeout"`
	ShutdownTimeout Duration `json:"shutdownTimeout" yaml:"shutdownTimeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
	Output string `json:"output" yaml:"output"`
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled      bool    `json:"enabled" yaml:"enabled"`
	OTLPEndpoint string  `json:"otlpEndpoint" yaml:"otlpEndpoint"`
	SamplingRate float64 `json:"samplingRate" yaml:"samplingRate"`
}

// Backend describes one inference-serving backend and its resilience
// settings. Endpoint is the base URL of an OpenAI-compatible HTTP API.
type Backend struct {
	Name     string `json:"name" yaml:"name"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	MaxRetries              int      `json:"maxRetries" yaml:"maxRetries"`
	RetryBaseDelay          Duration `json:"retryBaseDelay" yaml:"retryBaseDelay"`
	RequestTimeout          Duration `json:"requestTimeout" yaml:"requestTimeout"`
	CircuitFailureThreshold int      `json:"circuitFailureThreshold" yaml:"circuitFailureThreshold"`
	RecoveryTimeout         Duration `json:"recoveryTimeout" yaml:"recoveryTimeout"`

	Pool *PoolConfig `json:"pool,omitempty" yaml:"pool,omitempty"`
}

// PoolConfig holds connection pool settings for a backend.
type PoolConfig struct {
	MaxIdleConns        int      `json:"maxIdleConns" yaml:"maxIdleConns"`
	MaxIdleConnsPerHost int      `json:"maxIdleConnsPerHost" yaml:"maxIdleConnsPerHost"`
	MaxConnsPerHost     int      `json:"maxConnsPerHost" yaml:"maxConnsPerHost"`
	IdleConnTimeout     Duration `json:"idleConnTimeout" yaml:"idleConnTimeout"`
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults fills in zero values with defaults.
func (c *Config) applyDefaults() {
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = Duration(30 * time.Second)
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = Duration(5 * time.Minute)
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = Duration(120 * time.Second)
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = Duration(15 * time.Second)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Tracing.SamplingRate == 0 {
		c.Tracing.SamplingRate = 1.0
	}

	for i := range c.Backends {
		b := &c.Backends[i]
		if b.MaxRetries == 0 {
			b.MaxRetries = DefaultMaxRetries
		}
		if b.RetryBaseDelay == 0 {
			b.RetryBaseDelay = Duration(DefaultRetryBaseDelay)
		}
		if b.RequestTimeout == 0 {
			b.RequestTimeout = Duration(DefaultRequestTimeout)
		}
		if b.CircuitFailureThreshold == 0 {
			b.CircuitFailureThreshold = DefaultCircuitFailureThreshold
		}
		if b.RecoveryTimeout == 0 {
			b.RecoveryTimeout = Duration(DefaultRecoveryTimeout)
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if len(c.Backends) == 0 {
		return fmt.Errorf("at least one backend must be configured")
	}

	seen := make(map[string]bool, len(c.Backends))
	for _, b := range c.Backends {
		if b.Name == "" {
			return fmt.Errorf("backend name is required")
		}
		if seen[b.Name] {
			return fmt.Errorf("duplicate backend name: %s", b.Name)
		}
		seen[b.Name] = true

		if b.Endpoint == "" {
			return fmt.Errorf("backend %s: endpoint is required", b.Name)
		}
		if b.MaxRetries < 0 {
			return fmt.Errorf("backend %s: maxRetries must not be negative", b.Name)
		}
		if b.CircuitFailureThreshold <= 0 {
			return fmt.Errorf("backend %s: circuitFailureThreshold must be positive", b.Name)
		}
		if b.RecoveryTimeout <= 0 {
			return fmt.Errorf("backend %s: recoveryTimeout must be positive", b.Name)
		}
	}

	return nil
}
