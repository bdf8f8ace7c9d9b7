package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Operation is a unit of work that may fail and be retried.
type Operation func(ctx context.Context) error

// Classifier decides whether an error is worth another attempt.
type Classifier func(err error) bool

// Attempt describes one failed execution, reported before the backoff sleep.
type Attempt struct {
	// Index is the 0-based retry number.
	Index int
	Err   error
	// Delay is the wait before the next invocation.
	Delay time.Duration
}

// Observer receives every Attempt. It must not block; it cannot influence control flow.
type Observer func(Attempt)

// Executor runs operations under a Policy. It is safe for concurrent use.
type Executor struct {
	policy   Policy
	classify Classifier
	observer Observer
	rnd      RandFunc
	logger   zerolog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithClassifier replaces the default IsRetryable predicate.
func WithClassifier(c Classifier) Option {
	return func(e *Executor) {
		if c != nil {
			e.classify = c
		}
	}
}

// WithObserver installs a telemetry callback invoked before each backoff sleep.
func WithObserver(o Observer) Option {
	return func(e *Executor) { e.observer = o }
}

// WithRand sets the random source used for jitter. The function must be safe
// for concurrent use if the Executor is shared.
func WithRand(r RandFunc) Option {
	return func(e *Executor) { e.rnd = r }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// NewExecutor creates an Executor for the given policy.
func NewExecutor(p Policy, opts ...Option) *Executor {
	e := &Executor{
		policy:   p,
		classify: IsRetryable,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the executor's policy.
func (e *Executor) Policy() Policy {
	return e.policy
}

// Execute runs op once and then retries retryable failures up to
// Policy.MaxAttempts times. A nil isRetryable uses the executor's classifier.
//
// The returned error is always the most recent failure. When the budget is
// spent it is wrapped in *ExhaustedError; a cancellation during the backoff
// wait returns an error matching both ErrCancelled and the context error.
func (e *Executor) Execute(ctx context.Context, op Operation, isRetryable Classifier) error {
	if isRetryable == nil {
		isRetryable = e.classify
	}

	err := op(ctx)
	if err == nil {
		return nil
	}
	if stop := e.terminal(ctx, err, isRetryable); stop {
		return err
	}

	maxAttempts := e.policy.MaxAttempts()
	for attempt := 0; attempt < maxAttempts; attempt++ {
		class := Classify(err)
		delay := e.delayFor(attempt, err)

		if e.observer != nil {
			e.observer(Attempt{Index: attempt, Err: err, Delay: delay})
		}
		retriesTotal.WithLabelValues(string(class)).Inc()
		retryBackoffSeconds.WithLabelValues(string(class)).Observe(delay.Seconds())

		e.logger.Debug().
			Err(err).
			Str("error_class", string(class)).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Retrying operation after backoff")

		if werr := sleepCtx(ctx, delay); werr != nil {
			e.logger.Warn().
				Str("error_class", string(class)).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %w", ErrCancelled, werr)
		}

		err = op(ctx)
		if err == nil {
			e.logger.Info().
				Int("retries", attempt+1).
				Msg("Operation succeeded after retry")
			return nil
		}
		if stop := e.terminal(ctx, err, isRetryable); stop {
			return err
		}
	}

	class := Classify(err)
	retryExhaustedTotal.WithLabelValues(string(class)).Inc()
	e.logger.Error().
		Err(err).
		Str("error_class", string(class)).
		Int("max_attempts", maxAttempts).
		Msg("Retry attempts exhausted")

	return &ExhaustedError{Attempts: maxAttempts + 1, Err: err}
}

// terminal reports whether err must be surfaced without further attempts.
func (e *Executor) terminal(ctx context.Context, err error, isRetryable Classifier) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return true
	}
	if e.policy.MaxAttempts() == 0 {
		return true
	}
	return !isRetryable(err)
}

// delayFor computes the backoff, raised to a server Retry-After clamped to
// MaxDelay.
func (e *Executor) delayFor(attempt int, err error) time.Duration {
	delay := e.policy.Delay(attempt, e.rnd)
	if ra := retryAfter(err); ra > delay {
		delay = min(ra, e.policy.MaxDelay())
	}
	return delay
}

// Do runs op through e and returns its value. The zero value of T is
// returned on failure.
func Do[T any](ctx context.Context, e *Executor, op func(ctx context.Context) (T, error), isRetryable Classifier) (T, error) {
	var result T
	err := e.Execute(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	}, isRetryable)
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// sleepCtx waits for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
