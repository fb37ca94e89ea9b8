package upstream

import (
	"net"
	"net/http"
	"time"
)

// PoolConfig contains connection pool configuration.
type PoolConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
}

// DefaultPoolConfig returns default pool configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     100,
		IdleConnTimeout:     90 * time.Second,
	}
}

// ConnectionPool manages pooled HTTP connections to one backend.
type ConnectionPool struct {
	transport *http.Transport
	client    *http.Client
}

// newConnectionPool creates a connection pool. If rt is non-nil it replaces
// the pooled transport (used by tests to instrument attempts).
func newConnectionPool(cfg PoolConfig, rt http.RoundTripper) *ConnectionPool {
	pool := &ConnectionPool{}

	if rt == nil {
		pool.transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:   true,
			MaxIdleConns:        cfg.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
			MaxConnsPerHost:     cfg.MaxConnsPerHost,
			IdleConnTimeout:     cfg.IdleConnTimeout,
		}
		rt = pool.transport
	}

	// Timeouts are enforced per attempt through the request context, not at
	// the client level.
	pool.client = &http.Client{Transport: rt, Timeout: 0}
	return pool
}

// Client returns the pooled HTTP client.
func (p *ConnectionPool) Client() *http.Client {
	return p.client
}

// Close releases idle connections held by the pool.
func (p *ConnectionPool) Close() {
	if p.transport != nil {
		p.transport.CloseIdleConnections()
	}
}
