package analysis

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthExpired means the bearer token is expired or was refused.
	ErrAuthExpired = errors.New("analysis: authentication expired")
	// ErrNoToken means an authenticated endpoint was called without a token.
	ErrNoToken = errors.New("analysis: no bearer token")
	// ErrCircuitOpen means the endpoint breaker is refusing calls.
	ErrCircuitOpen = errors.New("analysis: circuit open")
	// ErrNoBackend means no backend URL is configured.
	ErrNoBackend = errors.New("analysis: backend not configured")
)

// StatusError is a non-2xx response.
type StatusError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("analysis: %s: HTTP %d: %s", e.Path, e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed if repeated.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrAuthExpired) || errors.Is(err, ErrNoToken) || errors.Is(err, ErrNoBackend) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}
