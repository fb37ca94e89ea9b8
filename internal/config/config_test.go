package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  listenAddress: ":9090"
  shutdownTimeout: "5s"
logging:
  level: "debug"
  format: "console"
tracing:
  enabled: true
  otlpEndpoint: "collector:4317"
  samplingRate: 0.5
backends:
  - name: "vllm"
    endpoint: "http://vllm:8000"
    maxRetries: 2
    retryBaseDelay: "100ms"
    requestTimeout: "60s"
    circuitFailureThreshold: 3
    recoveryTimeout: "10s"
    pool:
      maxIdleConnsPerHost: 5
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.ListenAddress)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, 0.5, cfg.Tracing.SamplingRate)

	require.Len(t, cfg.Backends, 1)
	b := cfg.Backends[0]
	assert.Equal(t, "vllm", b.Name)
	assert.Equal(t, "http://vllm:8000", b.Endpoint)
	assert.Equal(t, 2, b.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, b.RetryBaseDelay.Duration())
	assert.Equal(t, 60*time.Second, b.RequestTimeout.Duration())
	assert.Equal(t, 3, b.CircuitFailureThreshold)
	assert.Equal(t, 10*time.Second, b.RecoveryTimeout.Duration())
	require.NotNil(t, b.Pool)
	assert.Equal(t, 5, b.Pool.MaxIdleConnsPerHost)
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
backends:
  - name: "sglang"
    endpoint: "http://sglang:30000"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.ListenAddress)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 1.0, cfg.Tracing.SamplingRate)

	b := cfg.Backends[0]
	assert.Equal(t, DefaultMaxRetries, b.MaxRetries)
	assert.Equal(t, DefaultRetryBaseDelay, b.RetryBaseDelay.Duration())
	assert.Equal(t, DefaultRequestTimeout, b.RequestTimeout.Duration())
	assert.Equal(t, DefaultCircuitFailureThreshold, b.CircuitFailureThreshold)
	assert.Equal(t, DefaultRecoveryTimeout, b.RecoveryTimeout.Duration())
	assert.Nil(t, b.Pool)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "backends: [whoops")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, `
backends:
  - name: "vllm"
    endpoint: "http://vllm:8000"
    recoveryTimeout: "fast"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "no backends",
			mutate:  func(c *Config) { c.Backends = nil },
			wantErr: "at least one backend",
		},
		{
			name:    "missing name",
			mutate:  func(c *Config) { c.Backends[0].Name = "" },
			wantErr: "name is required",
		},
		{
			name: "duplicate name",
			mutate: func(c *Config) {
				c.Backends = append(c.Backends, c.Backends[0])
			},
			wantErr: "duplicate backend name",
		},
		{
			name:    "missing endpoint",
			mutate:  func(c *Config) { c.Backends[0].Endpoint = "" },
			wantErr: "endpoint is required",
		},
		{
			name:    "negative retries",
			mutate:  func(c *Config) { c.Backends[0].MaxRetries = -1 },
			wantErr: "maxRetries",
		},
		{
			name:    "non-positive threshold",
			mutate:  func(c *Config) { c.Backends[0].CircuitFailureThreshold = -2 },
			wantErr: "circuitFailureThreshold",
		},
		{
			name:    "non-positive recovery timeout",
			mutate:  func(c *Config) { c.Backends[0].RecoveryTimeout = Duration(-time.Second) },
			wantErr: "recoveryTimeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Backends: []Backend{{
					Name:                    "vllm",
					Endpoint:                "http://vllm:8000",
					MaxRetries:              1,
					CircuitFailureThreshold: 3,
					RecoveryTimeout:         Duration(time.Second),
				}},
			}
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
