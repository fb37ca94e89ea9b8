package upstream

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"syscall"
)

// IsConnectionError reports whether err is a transport-level failure
// (timeout, refused or reset connection, DNS error, truncated exchange).
// Only these failures count toward the circuit breaker and the retry budget;
// anything else means the backend was reachable and is surfaced as-is.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// Dial, DNS, read and write errors all surface as *net.OpError.
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	// http.Client wraps transport failures in *url.Error; the checks above
	// see through it via errors.As/Is. What remains here are URL-level
	// problems (bad scheme, unsupported protocol), which are not transport
	// failures.
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Timeout()
	}

	return false
}
