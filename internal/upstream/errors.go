package upstream

import (
	"errors"
	"fmt"
)

// Sentinel errors classifying upstream failures.
var (
	// ErrCircuitOpen indicates the circuit breaker rejected the request
	// without a network attempt.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrRetriesExhausted indicates every attempt in the retry budget failed
	// at the connection level.
	ErrRetriesExhausted = errors.New("all retry attempts failed")

	// ErrInvalidRequest indicates the request could not be constructed.
	ErrInvalidRequest = errors.New("invalid upstream request")

	// ErrInvalidResponse indicates the backend responded but the body could
	// not be decoded. It never feeds the circuit breaker.
	ErrInvalidResponse = errors.New("invalid upstream response")
)

// Error is the typed error surfaced by the resilient client. Kind is one of
// the sentinel errors above; Cause carries the underlying failure, if any.
type Error struct {
	Op       string // operation that failed
	Backend  string // backend name
	Attempts int    // network attempts made, 0 for fast-fail
	Message  string // human-readable reason
	Kind     error  // sentinel classifying the failure
	Cause    error  // underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("upstream error [%s] backend=%s: %s", e.Op, e.Backend, e.Message)
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap supports errors.Is against both the sentinel kind and the cause.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// newCircuitOpenError creates the fast-fail error for an open circuit.
func newCircuitOpenError(backend string) *Error {
	return &Error{
		Op:      "request",
		Backend: backend,
		Message: fmt.Sprintf("circuit breaker open for backend %s", backend),
		Kind:    ErrCircuitOpen,
	}
}

// newRetriesExhaustedError creates the error reported after the final failed
// attempt. attempts is the total number of attempts made.
func newRetriesExhaustedError(backend string, attempts int, cause error) *Error {
	return &Error{
		Op:       "request",
		Backend:  backend,
		Attempts: attempts,
		Message:  fmt.Sprintf("all %d attempts failed", attempts),
		Kind:     ErrRetriesExhausted,
		Cause:    cause,
	}
}
