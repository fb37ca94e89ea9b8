package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// breakerState shows the current state of circuit breakers.
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=open, 2=half-open)",
		},
		[]string{"backend"},
	)

	// breakerRequestsTotal counts admission checks against circuit breakers.
	breakerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_circuit_breaker_requests_total",
			Help: "Total number of admission checks against circuit breakers",
		},
		[]string{"backend", "result"},
	)

	// breakerFailuresTotal counts failures recorded by circuit breakers.
	breakerFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_circuit_breaker_failures_total",
			Help: "Total number of failures recorded by circuit breakers",
		},
		[]string{"backend"},
	)

	// breakerSuccessesTotal counts successes recorded by circuit breakers.
	breakerSuccessesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_circuit_breaker_successes_total",
			Help: "Total number of successes recorded by circuit breakers",
		},
		[]string{"backend"},
	)

	// breakerStateChangesTotal counts state transitions.
	breakerStateChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_circuit_breaker_state_changes_total",
			Help: "Total number of circuit breaker state changes",
		},
		[]string{"backend", "from", "to"},
	)
)

// RecordRequest records an admission check.
func RecordRequest(backend string, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	breakerRequestsTotal.WithLabelValues(backend, result).Inc()
}

// RecordFailure records a failure.
func RecordFailure(backend string) {
	breakerFailuresTotal.WithLabelValues(backend).Inc()
}

// RecordSuccess records a success.
func RecordSuccess(backend string) {
	breakerSuccessesTotal.WithLabelValues(backend).Inc()
}

// RecordStateChange records a state transition.
func RecordStateChange(backend string, from, to State) {
	breakerStateChangesTotal.WithLabelValues(backend, from.String(), to.String()).Inc()
	breakerState.WithLabelValues(backend).Set(float64(to))
}
