package retry

import (
	"fmt"
	"math"
	"time"
)

// MinDelay is the smallest delay the backoff will ever produce.
const MinDelay = time.Millisecond

// Preset names accepted by PolicyByName.
const (
	PresetDefault      = "default"
	PresetConservative = "conservative"
	PresetAggressive   = "aggressive"
	PresetNone         = "none"
)

// Policy is the immutable retry configuration.
//
// Out-of-range inputs are clamped by NewPolicy instead of being rejected, so a
// Policy value is always usable.
type Policy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	multiplier  float64
	jitter      float64
}

// NewPolicy builds a Policy, clamping every parameter to its nearest valid value.
//
//   - maxAttempts < 0 becomes 0 (no retries)
//   - baseDelay < MinDelay becomes MinDelay
//   - maxDelay < baseDelay becomes baseDelay
//   - multiplier < 1 (or NaN) becomes 1
//   - jitter is clamped to [0, 1] (NaN becomes 0)
func NewPolicy(maxAttempts int, baseDelay, maxDelay time.Duration, multiplier, jitter float64) Policy {
	if maxAttempts < 0 {
		maxAttempts = 0
	}
	if baseDelay < MinDelay {
		baseDelay = MinDelay
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	if math.IsNaN(multiplier) || multiplier < 1 {
		multiplier = 1
	}
	switch {
	case math.IsNaN(jitter) || jitter < 0:
		jitter = 0
	case jitter > 1:
		jitter = 1
	}

	return Policy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		multiplier:  multiplier,
		jitter:      jitter,
	}
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	return NewPolicy(3, 1*time.Second, 60*time.Second, 2.0, 0.1)
}

// ConservativePolicy retries rarely and waits long between attempts.
// Suitable for non-idempotent writes.
func ConservativePolicy() Policy {
	return NewPolicy(2, 2*time.Second, 30*time.Second, 2.0, 0.25)
}

// AggressivePolicy retries often with short waits.
func AggressivePolicy() Policy {
	return NewPolicy(5, 250*time.Millisecond, 10*time.Second, 1.5, 0.1)
}

// NoRetryPolicy returns a policy that never retries.
func NoRetryPolicy() Policy {
	return NewPolicy(0, 1*time.Second, 1*time.Second, 1.0, 0)
}

// PolicyByName resolves one of the named presets.
func PolicyByName(name string) (Policy, error) {
	switch name {
	case PresetDefault, "":
		return DefaultPolicy(), nil
	case PresetConservative:
		return ConservativePolicy(), nil
	case PresetAggressive:
		return AggressivePolicy(), nil
	case PresetNone:
		return NoRetryPolicy(), nil
	default:
		return Policy{}, fmt.Errorf("unknown retry preset %q", name)
	}
}

// MaxAttempts is the number of retries after the initial attempt.
func (p Policy) MaxAttempts() int { return p.maxAttempts }

// BaseDelayValue is the delay before the first retry, before jitter.
func (p Policy) BaseDelayValue() time.Duration { return p.baseDelay }

// MaxDelay is the upper bound of the pre-jitter delay.
func (p Policy) MaxDelay() time.Duration { return p.maxDelay }

// Multiplier is the exponential growth factor.
func (p Policy) Multiplier() float64 { return p.multiplier }

// Jitter is the jitter fraction in [0, 1].
func (p Policy) Jitter() float64 { return p.jitter }

// WithMaxAttempts returns a copy with a different attempt bound.
func (p Policy) WithMaxAttempts(n int) Policy {
	return NewPolicy(n, p.baseDelay, p.maxDelay, p.multiplier, p.jitter)
}

// WithJitter returns a copy with a different jitter fraction.
func (p Policy) WithJitter(j float64) Policy {
	return NewPolicy(p.maxAttempts, p.baseDelay, p.maxDelay, p.multiplier, j)
}

// String implements fmt.Stringer.
func (p Policy) String() string {
	return fmt.Sprintf("retry(max=%d base=%s cap=%s x%.2f jitter=%.2f)",
		p.maxAttempts, p.baseDelay, p.maxDelay, p.multiplier, p.jitter)
}
