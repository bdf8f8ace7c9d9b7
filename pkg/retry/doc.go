// Package retry provides bounded retry-with-backoff execution for calls to the
// remote tabular API.
//
// A Policy is an immutable value describing how many retries are allowed and
// how long to wait between them. An Executor runs an operation once, and on a
// retryable failure sleeps for Policy.Delay(attempt) before trying again, up to
// Policy.MaxAttempts retries.
//
// # Basic Usage
//
//	exec := retry.NewExecutor(retry.DefaultPolicy())
//	values, err := retry.Do(ctx, exec, func(ctx context.Context) (*ValueRange, error) {
//		return fetch(ctx)
//	}, nil)
//	if errors.Is(err, retry.ErrRetryExhausted) {
//		// failed after all retries
//	}
//
// # Classification
//
// The default predicate IsRetryable retries timeouts, network failures, remote
// rate limiting, 5xx responses and open circuit breakers. Everything else,
// including unrecognised error types, is surfaced after the first attempt.
//
// # Metrics
//
//   - sheets_retries_total{error_class}
//   - sheets_retry_backoff_seconds{error_class}
//   - sheets_retry_exhausted_total{error_class}
package retry
