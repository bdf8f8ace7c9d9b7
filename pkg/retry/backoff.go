package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// RandFunc returns a uniformly distributed value in [0, 1).
type RandFunc func() float64

// BaseDelay returns the exponential delay for attempt before jitter:
// baseDelay * multiplier^attempt, capped at maxDelay.
// Attempts outside [0, MaxAttempts) yield 0.
func (p Policy) BaseDelay(attempt int) time.Duration {
	if attempt < 0 || attempt >= p.maxAttempts {
		return 0
	}

	d := float64(p.baseDelay) * math.Pow(p.multiplier, float64(attempt))
	if math.IsInf(d, 0) || math.IsNaN(d) || d > float64(p.maxDelay) {
		return p.maxDelay
	}
	return time.Duration(d)
}

// Delay returns the jittered delay before retry number attempt.
//
// The base delay is perturbed by ±(delay * jitter * u) with u uniform in
// [-1, 1) and floored at MinDelay. With a fixed rnd the result is
// deterministic; a nil rnd uses the process-wide random source.
// Attempts outside [0, MaxAttempts) yield 0.
func (p Policy) Delay(attempt int, rnd RandFunc) time.Duration {
	base := p.BaseDelay(attempt)
	if base == 0 {
		return 0
	}
	if p.jitter == 0 {
		return base
	}
	if rnd == nil {
		//nolint:gosec // jitter for retry timing is not security-sensitive
		rnd = rand.Float64
	}

	u := rnd()*2 - 1
	d := float64(base) + float64(base)*p.jitter*u
	if d < float64(MinDelay) {
		return MinDelay
	}
	return time.Duration(d)
}
