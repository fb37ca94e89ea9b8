package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/llmrelay/llmrelay/internal/circuitbreaker"
	"github.com/llmrelay/llmrelay/internal/observability"
)

// Config contains the immutable settings of a resilient client.
type Config struct {
	// Name identifies the backend.
	Name string

	// Endpoint is the base URL of the backend.
	Endpoint string

	// MaxRetries is the number of retries after the initial attempt, so a
	// logical request makes at most MaxRetries+1 network attempts.
	MaxRetries int

	// RetryBaseDelay is the backoff before the first retry; subsequent
	// retries double it.
	RetryBaseDelay time.Duration

	// RequestTimeout bounds each individual attempt.
	RequestTimeout time.Duration

	// CircuitFailureThreshold is the consecutive-failure count that opens
	// the circuit.
	CircuitFailureThreshold int

	// RecoveryTimeout is how long the circuit stays open before probes are
	// allowed through.
	RecoveryTimeout time.Duration

	// Pool configures the connection pool.
	Pool PoolConfig
}

// Response is the payload-agnostic result of a completed exchange. The body
// is fully read so the connection returns to the pool before the caller sees
// the response.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

// IsSuccess reports whether the response has a 2xx status code.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// DecodeJSON unmarshals the response body into v. A malformed body yields an
// ErrInvalidResponse error; it does not affect the circuit breaker.
func (r *Response) DecodeJSON(backend string, v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return &Error{
			Op:      "decode",
			Backend: backend,
			Message: "failed to decode response body",
			Kind:    ErrInvalidResponse,
			Cause:   err,
		}
	}
	return nil
}

// Client performs request/response exchanges against one backend, isolating
// callers from transient failures through bounded retries with exponential
// backoff and a circuit breaker. Two clients are fully independent even when
// pointed at the same endpoint.
//
// The connection pool is created lazily on first use and released by Close.
// Close must not be called with requests in flight.
type Client struct {
	name     string
	endpoint string
	cfg      Config
	breaker  *circuitbreaker.CircuitBreaker
	logger   observability.Logger
	tracer   trace.Tracer

	// transport overrides the pooled transport; tests use it to count
	// attempts.
	transport http.RoundTripper

	mu   sync.Mutex
	pool *ConnectionPool
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger for the client and its circuit breaker.
func WithLogger(logger observability.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithTransport replaces the pooled transport with rt.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.transport = rt
	}
}

// New creates a resilient client for one backend. The client owns its
// circuit breaker exclusively.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("backend name is required")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("backend endpoint is required")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must not be negative")
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 200 * time.Millisecond
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.Pool == (PoolConfig{}) {
		cfg.Pool = DefaultPoolConfig()
	}

	c := &Client{
		name:     cfg.Name,
		endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
		cfg:      cfg,
		logger:   observability.NopLogger(),
		tracer:   otel.Tracer("upstream"),
	}

	for _, opt := range opts {
		opt(c)
	}

	breaker, err := circuitbreaker.New(cfg.Name, cfg.CircuitFailureThreshold, cfg.RecoveryTimeout, c.logger)
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", cfg.Name, err)
	}
	c.breaker = breaker

	return c, nil
}

// Name returns the backend name.
func (c *Client) Name() string {
	return c.name
}

// Endpoint returns the backend base URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// CircuitState returns the current state of the owned circuit breaker.
func (c *Client) CircuitState() circuitbreaker.State {
	return c.breaker.State()
}

// CircuitStats returns a snapshot of the owned circuit breaker.
func (c *Client) CircuitStats() circuitbreaker.Stats {
	return c.breaker.Stats()
}

// Get performs a GET request against path.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.Request(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with a JSON body against path.
func (c *Client) Post(ctx context.Context, path string, body []byte) (*Response, error) {
	return c.Request(ctx, http.MethodPost, path, body)
}

// Request performs one logical exchange against the backend.
//
// If the circuit is open the request fails immediately without touching the
// network. Otherwise up to MaxRetries+1 strictly sequential attempts are
// made, each bounded by RequestTimeout, sleeping RetryBaseDelay*2^n between
// retries. Every network attempt records exactly one outcome in the circuit
// breaker. A completed exchange is returned regardless of HTTP status; the
// caller decides what a non-2xx response means.
func (c *Client) Request(ctx context.Context, method, path string, body []byte) (*Response, error) {
	if !c.breaker.Allow() {
		recordResult(c.name, resultCircuitOpen)
		return nil, newCircuitOpenError(c.name)
	}

	requestID := observability.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	log := c.logger.With(
		observability.String("backend", c.name),
		observability.String("request_id", requestID),
	)

	ctx, span := c.tracer.Start(ctx, "upstream.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("upstream.backend", c.name),
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		),
	)
	defer span.End()

	start := time.Now()
	totalAttempts := c.cfg.MaxRetries + 1

	var lastErr error
	for attempt := 0; attempt < totalAttempts; attempt++ {
		resp, err := c.attempt(ctx, method, path, body)
		if err == nil {
			c.breaker.RecordSuccess()
			recordResult(c.name, resultSuccess)
			recordDuration(c.name, time.Since(start))
			span.SetAttributes(attribute.Int("upstream.attempts", attempt+1))
			return resp, nil
		}

		if !IsConnectionError(err) {
			// The backend is reachable; this failure does not count toward
			// the circuit breaker and is not retried.
			recordResult(c.name, resultError)
			span.RecordError(err)
			return nil, err
		}

		c.breaker.RecordFailure()
		recordAttemptFailure(c.name)
		lastErr = err

		if attempt < totalAttempts-1 {
			backoff := backoffDelay(attempt, c.cfg.RetryBaseDelay)
			log.Debug("retrying upstream request",
				observability.String("method", method),
				observability.String("path", path),
				observability.Int("attempt", attempt+1),
				observability.Duration("backoff", backoff),
				observability.Error(err),
			)

			select {
			case <-ctx.Done():
				return nil, &Error{
					Op:       "request",
					Backend:  c.name,
					Attempts: attempt + 1,
					Message:  "request canceled during backoff",
					Kind:     ErrRetriesExhausted,
					Cause:    ctx.Err(),
				}
			case <-time.After(backoff):
			}
		}
	}

	recordResult(c.name, resultExhausted)
	span.RecordError(lastErr)
	span.SetAttributes(attribute.Int("upstream.attempts", totalAttempts))

	log.Warn("upstream request failed after all attempts",
		observability.String("method", method),
		observability.String("path", path),
		observability.Int("attempts", totalAttempts),
		observability.Error(lastErr),
	)

	return nil, newRetriesExhaustedError(c.name, totalAttempts, lastErr)
}

// attempt issues a single HTTP exchange bounded by the per-attempt timeout.
func (c *Client) attempt(ctx context.Context, method, path string, body []byte) (*Response, error) {
	pool := c.getPool()

	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, c.endpoint+path, reader)
	if err != nil {
		return nil, &Error{
			Op:      "request",
			Backend: c.name,
			Message: "failed to build request",
			Kind:    ErrInvalidRequest,
			Cause:   err,
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := pool.Client().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// getPool returns the connection pool, creating it on first use. At most one
// pool is alive per client.
func (c *Client) getPool() *ConnectionPool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pool == nil {
		c.pool = newConnectionPool(c.cfg.Pool, c.transport)
	}
	return c.pool
}

// Close releases the connection pool if present. It is idempotent and safe
// on a client that never issued a request. A subsequent request recreates
// the pool lazily.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pool != nil {
		c.pool.Close()
		c.pool = nil
	}
}

// backoffDelay returns base * 2^attempt, where attempt is the zero-based
// index of the attempt that just failed.
func backoffDelay(attempt int, base time.Duration) time.Duration {
	return base << attempt
}
