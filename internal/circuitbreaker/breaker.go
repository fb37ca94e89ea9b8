// Package circuitbreaker implements a per-backend circuit breaker that
// stops sending requests to a backend that keeps failing, while periodically
// letting probe requests through to detect recovery.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/llmrelay/llmrelay/internal/observability"
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed indicates the circuit is closed and requests are allowed.
	StateClosed State = iota

	// StateOpen indicates the circuit is open and requests are rejected.
	StateOpen

	// StateHalfOpen indicates the recovery timeout has elapsed and probe
	// requests are allowed through to test whether the backend recovered.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the state as its string form.
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Construction errors.
var (
	// ErrInvalidFailureThreshold is returned for a non-positive failure threshold.
	ErrInvalidFailureThreshold = errors.New("failure threshold must be positive")

	// ErrInvalidRecoveryTimeout is returned for a non-positive recovery timeout.
	ErrInvalidRecoveryTimeout = errors.New("recovery timeout must be positive")
)

// CircuitBreaker tracks consecutive failures against one backend and gates
// whether new requests may be attempted.
//
// The half-open state is never stored: it is derived on every read from the
// open timestamp and the recovery timeout. This avoids background timers at
// the cost of the state lagging until the next query.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	recoveryTimeout  time.Duration
	logger           observability.Logger

	mu       sync.Mutex
	tripped  bool
	failures int
	openedAt time.Time
}

// New creates a circuit breaker for the named backend. The breaker starts
// closed. failureThreshold and recoveryTimeout must be positive.
func New(name string, failureThreshold int, recoveryTimeout time.Duration, logger observability.Logger) (*CircuitBreaker, error) {
	if failureThreshold <= 0 {
		return nil, ErrInvalidFailureThreshold
	}
	if recoveryTimeout <= 0 {
		return nil, ErrInvalidRecoveryTimeout
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		logger:           logger,
	}, nil
}

// Name returns the name of the backend this breaker guards.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current state without mutating stored fields.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState(time.Now())
}

// Allow reports whether a request may be attempted. It returns true when the
// breaker is closed or half-open and false while the circuit is open and the
// recovery timeout has not elapsed.
//
// Allow does not reserve a probe slot: once the recovery timeout elapses,
// concurrent callers may all be admitted. The first recorded outcome then
// decides the next state.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	allowed := cb.currentState(time.Now()) != StateOpen
	RecordRequest(cb.name, allowed)
	return allowed
}

// RecordSuccess records a successful attempt. The consecutive-failure count
// is reset; a half-open breaker closes.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state := cb.currentState(now)

	cb.failures = 0
	RecordSuccess(cb.name)

	if state == StateHalfOpen {
		cb.tripped = false
		cb.logStateChange(state, StateClosed)
	}
}

// RecordFailure records a failed attempt. While closed, reaching the failure
// threshold opens the circuit. While half-open, any failure reopens it and
// restarts the recovery timer. While open, the timer is restarted so that a
// still-failing backend keeps the circuit open.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state := cb.currentState(now)

	cb.failures++
	RecordFailure(cb.name)

	switch state {
	case StateClosed:
		if cb.failures >= cb.failureThreshold {
			cb.tripped = true
			cb.openedAt = now
			cb.logStateChange(state, StateOpen)
		}

	case StateHalfOpen:
		cb.openedAt = now
		cb.logStateChange(state, StateOpen)

	case StateOpen:
		cb.openedAt = now
	}
}

// Stats holds a point-in-time snapshot of the breaker.
type Stats struct {
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	OpenedAt            time.Time `json:"openedAt,omitzero"`
}

// Stats returns a snapshot of the breaker state and counters.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s := Stats{
		State:               cb.currentState(time.Now()),
		ConsecutiveFailures: cb.failures,
	}
	if cb.tripped {
		s.OpenedAt = cb.openedAt
	}
	return s
}

// currentState derives the state from the stored fields and now.
// Callers must hold cb.mu.
func (cb *CircuitBreaker) currentState(now time.Time) State {
	if !cb.tripped {
		return StateClosed
	}
	if now.Sub(cb.openedAt) >= cb.recoveryTimeout {
		return StateHalfOpen
	}
	return StateOpen
}

// logStateChange logs and records a state transition. Callers must hold cb.mu.
func (cb *CircuitBreaker) logStateChange(from, to State) {
	RecordStateChange(cb.name, from, to)
	cb.logger.Info("circuit breaker state changed",
		observability.String("backend", cb.name),
		observability.String("from", from.String()),
		observability.String("to", to.String()),
	)
}
