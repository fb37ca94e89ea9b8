package upstream

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result labels for upstreamRequestsTotal.
const (
	resultSuccess     = "success"
	resultCircuitOpen = "circuit_open"
	resultExhausted   = "retries_exhausted"
	resultError       = "error"
)

var (
	// upstreamRequestsTotal counts logical requests by outcome.
	upstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_upstream_requests_total",
			Help: "Total number of logical upstream requests by outcome",
		},
		[]string{"backend", "result"},
	)

	// upstreamAttemptFailuresTotal counts failed network attempts, including
	// those that were retried.
	upstreamAttemptFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_upstream_attempt_failures_total",
			Help: "Total number of failed network attempts against upstreams",
		},
		[]string{"backend"},
	)

	// upstreamRequestDuration observes the duration of successful logical
	// requests, including retries and backoff.
	upstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_upstream_request_duration_seconds",
			Help:    "Duration of successful upstream requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)
)

func recordResult(backend, result string) {
	upstreamRequestsTotal.WithLabelValues(backend, result).Inc()
}

func recordAttemptFailure(backend string) {
	upstreamAttemptFailuresTotal.WithLabelValues(backend).Inc()
}

func recordDuration(backend string, d time.Duration) {
	upstreamRequestDuration.WithLabelValues(backend).Observe(d.Seconds())
}
