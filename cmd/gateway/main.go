// Package main is the entry point for the inference gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/llmrelay/llmrelay/internal/config"
	"github.com/llmrelay/llmrelay/internal/gateway"
	"github.com/llmrelay/llmrelay/internal/observability"
	"github.com/llmrelay/llmrelay/internal/upstream"
)

// Version information (set at build time).
var (
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", getEnvOrDefault("GATEWAY_CONFIG_PATH", "configs/gateway.yaml"),
		"Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("llmrelay gateway %s (%s)\n", version, gitCommit)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	tracer, err := observability.NewTracer(observability.TracerConfig{
		ServiceName:  "llmrelay-gateway",
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
		Enabled:      cfg.Tracing.Enabled,
	})
	if err != nil {
		logger.Fatal("failed to initialize tracing", observability.Error(err))
	}

	clients, err := buildClients(cfg, logger)
	if err != nil {
		logger.Fatal("failed to construct backend clients", observability.Error(err))
	}

	server := gateway.NewServer(cfg.Server, clients, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", observability.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("gateway server failed", observability.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down gateway server", observability.Error(err))
	}

	for _, client := range clients {
		client.Close()
	}

	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down tracer", observability.Error(err))
	}

	logger.Info("gateway stopped")
}

// buildClients constructs one independent resilient client per configured
// backend.
func buildClients(cfg *config.Config, logger observability.Logger) (map[string]*upstream.Client, error) {
	clients := make(map[string]*upstream.Client, len(cfg.Backends))

	for _, b := range cfg.Backends {
		clientCfg := upstream.Config{
			Name:                    b.Name,
			Endpoint:                b.Endpoint,
			MaxRetries:              b.MaxRetries,
			RetryBaseDelay:          b.RetryBaseDelay.Duration(),
			RequestTimeout:          b.RequestTimeout.Duration(),
			CircuitFailureThreshold: b.CircuitFailureThreshold,
			RecoveryTimeout:         b.RecoveryTimeout.Duration(),
		}
		if b.Pool != nil {
			clientCfg.Pool = upstream.PoolConfig{
				MaxIdleConns:        b.Pool.MaxIdleConns,
				MaxIdleConnsPerHost: b.Pool.MaxIdleConnsPerHost,
				MaxConnsPerHost:     b.Pool.MaxConnsPerHost,
				IdleConnTimeout:     b.Pool.IdleConnTimeout.Duration(),
			}
		}

		client, err := upstream.New(clientCfg, upstream.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		clients[b.Name] = client

		logger.Info("registered backend",
			observability.String("name", b.Name),
			observability.String("endpoint", b.Endpoint),
			observability.Int("maxRetries", b.MaxRetries),
			observability.Int("circuitFailureThreshold", b.CircuitFailureThreshold),
		)
	}

	return clients, nil
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
