// Package ratelimit gates calls to the remote tabular API to a maximum number
// of calls per sliding time window.
//
// Limiter keeps the window in process and admits callers in FIFO order.
// RedisLimiter shares one window between processes through a Redis sorted set.
// Both implement Acquirer.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RedisKeyPrefix namespaces the shared windows kept in Redis. It lies outside
// the response cache namespace so cache invalidation never touches it.
const RedisKeyPrefix = "sheets_rate_limit:"

// ErrInvalidConfig is returned by constructors for unusable limits.
var ErrInvalidConfig = errors.New("invalid rate limit config")

// Acquirer blocks until a call may proceed or ctx is done.
type Acquirer interface {
	Acquire(ctx context.Context) error
}

// Config describes a sliding-window limit of Limit calls per Window.
type Config struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// DefaultConfig returns the per-user read quota of the public Sheets API:
// 60 calls per minute.
func DefaultConfig() Config {
	return Config{
		Limit:  60,
		Window: time.Minute,
	}
}

// Validate reports whether the config can build a limiter.
func (c Config) Validate() error {
	if c.Limit <= 0 {
		return fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidConfig, c.Limit)
	}
	if c.Window <= 0 {
		return fmt.Errorf("%w: window must be positive, got %s", ErrInvalidConfig, c.Window)
	}
	return nil
}

// State is a point-in-time snapshot of a limiter.
type State struct {
	Limit  int           `json:"limit"`
	Window time.Duration `json:"window"`

	// InWindow is the number of calls admitted in the trailing window.
	InWindow int `json:"in_window"`

	// Pending is the number of reservations waiting for a future slot.
	Pending int `json:"pending"`

	// PausedUntil is set after the remote pushed back; zero when not paused.
	PausedUntil time.Time `json:"paused_until,omitempty"`

	// Taken is when the snapshot was made.
	Taken time.Time `json:"taken"`
}

// Saturated returns true if the next call would have to wait.
func (s State) Saturated() bool {
	return s.InWindow+s.Pending >= s.Limit || s.PausedUntil.After(s.Taken)
}

// TimeUntilResume returns how long the remote pause still lasts.
// Returns 0 if the limiter is not paused.
func (s State) TimeUntilResume() time.Duration {
	d := s.PausedUntil.Sub(s.Taken)
	if d < 0 {
		return 0
	}
	return d
}
