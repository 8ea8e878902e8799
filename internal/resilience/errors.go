// Package resilience provides the retry policy, error taxonomy, and circuit
// breaker used for all external provider calls.
package resilience

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// TransientError wraps an error that is safe to retry (429, 5xx, connection
// resets). Timeouts are deliberately excluded: a timed-out call may have
// partially succeeded upstream and retrying it pays twice.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// FatalError wraps an error that must abort the whole job, not just the
// current call: quota exhaustion (402) or invalid credentials.
type FatalError struct {
	Err    error
	Reason string
}

func (e *FatalError) Error() string {
	return e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// NewFatalError wraps an error as job-aborting.
func NewFatalError(err error, reason string) *FatalError {
	return &FatalError{Err: err, Reason: reason}
}

// IsFatal reports whether the chain contains a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// IsRateLimited reports whether the chain contains a 429 TransientError.
func IsRateLimited(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return te.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// IsTimeout reports whether the error is a network or context timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "i/o timeout") ||
		strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "tls handshake timeout")
}

// IsTransient reports whether the error is safe to retry. Fatal errors and
// timeouts never are; explicit TransientErrors and common connection-level
// failures are.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if IsFatal(err) || IsTimeout(err) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String heuristics for errors already flattened by HTTP client wrapping.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"server closed idle connection",
		"transport connection broken",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// ClassifyHTTPStatus maps a provider HTTP status to the error taxonomy:
// 402 and auth failures are fatal, 429 and 5xx are transient, anything else
// is returned unchanged (permanent, non-retryable).
func ClassifyHTTPStatus(err error, statusCode int) error {
	switch {
	case statusCode == http.StatusPaymentRequired:
		return NewFatalError(err, "quota exhausted")
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return NewFatalError(err, "invalid credentials")
	case statusCode == http.StatusTooManyRequests:
		return NewTransientError(err, statusCode)
	case statusCode >= 500:
		return NewTransientError(err, statusCode)
	default:
		return err
	}
}
