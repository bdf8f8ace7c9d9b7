package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

var (
	// ErrRetryExhausted is returned (wrapped) when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrCancelled is returned (wrapped) when the context is cancelled during a backoff wait.
	ErrCancelled = errors.New("retry cancelled")

	// ErrCircuitOpen signals that the remote is being short-circuited locally.
	ErrCircuitOpen = errors.New("circuit breaker open")
)

// ErrorClass is the retry-relevant classification of a failure.
type ErrorClass string

const (
	// Retryable, transient classes.
	ClassTimeout     ErrorClass = "timeout"
	ClassNetwork     ErrorClass = "network"
	ClassRateLimit   ErrorClass = "rate_limit"
	ClassServer      ErrorClass = "server"
	ClassCircuitOpen ErrorClass = "circuit_open"

	// Non-retryable classes.
	ClassBadRequest   ErrorClass = "bad_request"
	ClassMalformed    ErrorClass = "malformed_input"
	ClassNotFound     ErrorClass = "not_found"
	ClassAccessDenied ErrorClass = "access_denied"
	ClassCancelled    ErrorClass = "cancelled"
	ClassUnknown      ErrorClass = "unknown"
)

// Retryable reports whether failures of this class are eligible for retry.
func (c ErrorClass) Retryable() bool {
	switch c {
	case ClassTimeout, ClassNetwork, ClassRateLimit, ClassServer, ClassCircuitOpen:
		return true
	default:
		return false
	}
}

// APIError is a classified failure reported by the transport.
type APIError struct {
	StatusCode int
	Class      ErrorClass
	Message    string
	// RetryAfter is the server-requested wait, zero when absent.
	RetryAfter time.Duration
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote %s error (status %d): %s: %v",
			e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("remote %s error (status %d): %s",
		e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// ExhaustedError tags the most recent failure after the retry budget ran out.
type ExhaustedError struct {
	// Attempts is the total number of invocations, including the initial one.
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%v after %d attempts: %v", ErrRetryExhausted, e.Attempts, e.Err)
}

// Unwrap exposes both the sentinel and the last failure.
func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrRetryExhausted, e.Err}
}

// ClassifyStatus maps an HTTP status code to an ErrorClass.
func ClassifyStatus(code int) ErrorClass {
	switch {
	case code == 408:
		return ClassTimeout
	case code == 429:
		return ClassRateLimit
	case code == 400:
		return ClassBadRequest
	case code == 401 || code == 403:
		return ClassAccessDenied
	case code == 404:
		return ClassNotFound
	case code == 422:
		return ClassMalformed
	case code >= 400 && code < 500:
		return ClassBadRequest
	case code >= 500:
		return ClassServer
	default:
		return ClassUnknown
	}
}

// Classify derives the ErrorClass of err. Unrecognised errors are ClassUnknown.
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled) {
		return ClassCancelled
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Class != "" {
		return apiErr.Class
	}
	if errors.Is(err, ErrCircuitOpen) {
		return ClassCircuitOpen
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ClassTimeout
		}
		return ClassNetwork
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}

	return ClassUnknown
}

// IsRetryable is the default retry predicate. It is conservative: anything
// it cannot classify is not retried.
func IsRetryable(err error) bool {
	return Classify(err).Retryable()
}

// retryAfter extracts a server-requested delay, if any.
func retryAfter(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}
