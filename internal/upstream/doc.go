// Package upstream implements the resilient HTTP client the gateway uses to
// talk to inference-serving backends.
//
// Each Client fronts exactly one backend and owns its circuit breaker and
// connection pool; clients never share state, even when pointed at the same
// endpoint. A logical request is admitted by the circuit breaker, then
// attempted up to MaxRetries+1 times with exponential backoff between
// attempts and a per-attempt timeout. Connection-level failures feed the
// breaker; application-level responses pass through untouched.
//
// Callers distinguish outcomes through the sentinel errors ErrCircuitOpen
// and ErrRetriesExhausted:
//
//	resp, err := client.Post(ctx, "/v1/chat/completions", body)
//	switch {
//	case errors.Is(err, upstream.ErrCircuitOpen):
//		// fast-fail, no network attempt was made
//	case errors.Is(err, upstream.ErrRetriesExhausted):
//		// backend unreachable after the full retry budget
//	}
package upstream
