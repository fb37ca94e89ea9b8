// Package gateway provides the HTTP surface of the gateway: health and
// circuit-state endpoints, Prometheus metrics, and a payload-agnostic
// forward endpoint that routes requests to backends through their resilient
// clients.
package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/llmrelay/llmrelay/internal/circuitbreaker"
	"github.com/llmrelay/llmrelay/internal/config"
	"github.com/llmrelay/llmrelay/internal/observability"
	"github.com/llmrelay/llmrelay/internal/upstream"
)

// Server is the gateway HTTP server.
type Server struct {
	cfg       config.ServerConfig
	clients   map[string]*upstream.Client
	logger    observability.Logger
	engine    *gin.Engine
	server    *http.Server
	startTime time.Time
}

// backendStatus is the JSON shape returned by the circuit-state endpoints.
type backendStatus struct {
	Name     string               `json:"name"`
	Endpoint string               `json:"endpoint"`
	Circuit  circuitbreaker.Stats `json:"circuit"`
}

// NewServer creates the gateway server over the given per-backend clients.
func NewServer(cfg config.ServerConfig, clients map[string]*upstream.Client, logger observability.Logger) *Server {
	if logger == nil {
		logger = observability.NopLogger()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		cfg:       cfg,
		clients:   clients,
		logger:    logger,
		engine:    engine,
		startTime: time.Now(),
	}
	s.registerRoutes()

	s.server = &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      engine,
		ReadTimeout:  cfg.ReadTimeout.Duration(),
		WriteTimeout: cfg.WriteTimeout.Duration(),
		IdleTimeout:  cfg.IdleTimeout.Duration(),
	}

	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.engine.GET("/backends", s.handleListBackends)
	s.engine.GET("/backends/:name/circuit", s.handleCircuitState)
	s.engine.Any("/proxy/:name/*path", s.handleForward)
}

// handleHealth reports liveness and uptime.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	})
}

// handleListBackends returns the circuit state of every backend.
func (s *Server) handleListBackends(c *gin.Context) {
	statuses := make([]backendStatus, 0, len(s.clients))
	for _, client := range s.clients {
		statuses = append(statuses, backendStatus{
			Name:     client.Name(),
			Endpoint: client.Endpoint(),
			Circuit:  client.CircuitStats(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"backends": statuses})
}

// handleCircuitState returns the circuit state of one backend.
func (s *Server) handleCircuitState(c *gin.Context) {
	name := c.Param("name")
	client, ok := s.clients[name]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown backend: " + name})
		return
	}

	c.JSON(http.StatusOK, backendStatus{
		Name:     client.Name(),
		Endpoint: client.Endpoint(),
		Circuit:  client.CircuitStats(),
	})
}

// handleForward forwards the request body to the named backend through its
// resilient client. Circuit-open and retries-exhausted failures map to 503
// and 502; application-level responses pass through with their original
// status.
func (s *Server) handleForward(c *gin.Context) {
	name := c.Param("name")
	client, ok := s.clients[name]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown backend: " + name})
		return
	}

	var body []byte
	if c.Request.Body != nil {
		data, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
			return
		}
		if len(data) > 0 {
			body = data
		}
	}

	ctx := c.Request.Context()
	if requestID := c.GetHeader("X-Request-ID"); requestID != "" {
		ctx = observability.ContextWithRequestID(ctx, requestID)
	}

	resp, err := client.Request(ctx, c.Request.Method, c.Param("path"), body)
	if err != nil {
		s.writeUpstreamError(c, name, err)
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Data(resp.StatusCode, contentType, resp.Body)
}

// writeUpstreamError maps the upstream error taxonomy onto gateway responses.
func (s *Server) writeUpstreamError(c *gin.Context, backend string, err error) {
	status := http.StatusBadGateway
	if errors.Is(err, upstream.ErrCircuitOpen) {
		status = http.StatusServiceUnavailable
	}

	s.logger.Warn("upstream request failed",
		observability.String("backend", backend),
		observability.Int("status", status),
		observability.Error(err),
	)

	c.JSON(status, gin.H{"error": err.Error()})
}

// Start begins serving. It blocks until the listener fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting gateway server",
		observability.String("address", s.cfg.ListenAddress),
		observability.Int("backends", len(s.clients)),
	)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down gateway server")
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}
