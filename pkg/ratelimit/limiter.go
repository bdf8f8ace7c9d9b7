package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Limiter is an in-process sliding-window limiter.
//
// Every Acquire reserves the earliest slot that keeps each trailing window at
// or below the limit, so waiters are admitted in arrival order and none can
// be starved. The mutex covers only the reservation; the wait happens outside it.
type Limiter struct {
	limit  int
	window time.Duration
	logger zerolog.Logger
	now    func() time.Time

	mu          sync.Mutex
	stamps      []time.Time // ascending; entries after now are pending reservations
	pausedUntil time.Time
}

// LimiterOption configures a Limiter.
type LimiterOption func(*Limiter)

// WithLimiterLogger sets the logger.
func WithLimiterLogger(logger zerolog.Logger) LimiterOption {
	return func(l *Limiter) { l.logger = logger }
}

// NewLimiter creates a limiter admitting cfg.Limit calls per cfg.Window.
func NewLimiter(cfg Config, opts ...LimiterOption) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l := &Limiter{
		limit:  cfg.Limit,
		window: cfg.Window,
		logger: zerolog.Nop(),
		now:    time.Now,
		stamps: make([]time.Time, 0, cfg.Limit),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Acquire blocks until a call may proceed. If ctx is done first, the
// reservation is released and ctx.Err() is returned.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now, slot := l.reserve()
	wait := slot.Sub(now)
	if wait <= 0 {
		return nil
	}

	rateLimitWaitsTotal.Inc()
	l.logger.Debug().
		Dur("wait", wait).
		Int("limit", l.limit).
		Dur("window", l.window).
		Msg("Rate limit reached, waiting for slot")

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		l.release(slot)
		return ctx.Err()
	case <-timer.C:
		rateLimitWaitSeconds.Observe(wait.Seconds())
		return nil
	}
}

// reserve records the caller's slot and returns it together with the current time.
func (l *Limiter) reserve() (now, slot time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now = l.now()
	l.prune(now)

	slot = now
	if n := len(l.stamps); n >= l.limit {
		if s := l.stamps[n-l.limit].Add(l.window); s.After(slot) {
			slot = s
		}
	}
	if n := len(l.stamps); n > 0 && l.stamps[n-1].After(slot) {
		slot = l.stamps[n-1]
	}
	if l.pausedUntil.After(slot) {
		slot = l.pausedUntil
	}

	l.stamps = append(l.stamps, slot)
	return now, slot
}

// release drops an unused reservation.
func (l *Limiter) release(slot time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := len(l.stamps) - 1; i >= 0; i-- {
		if l.stamps[i].Equal(slot) {
			l.stamps = append(l.stamps[:i], l.stamps[i+1:]...)
			return
		}
	}
}

// prune drops stamps at or before now-window. Must hold mu.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}

// PauseUntil withholds every slot before t. Used when the remote answers
// with a rate-limit error carrying Retry-After. Earlier deadlines are ignored.
func (l *Limiter) PauseUntil(t time.Time) {
	l.mu.Lock()
	extended := t.After(l.pausedUntil)
	if extended {
		l.pausedUntil = t
	}
	l.mu.Unlock()

	if extended {
		rateLimitPausesTotal.Inc()
		l.logger.Warn().
			Time("paused_until", t).
			Msg("Remote rate limit hit, pausing new calls")
	}
}

// State returns a snapshot of the limiter.
func (l *Limiter) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	st := State{
		Limit:  l.limit,
		Window: l.window,
		Taken:  now,
	}
	for _, s := range l.stamps {
		if s.After(now) {
			st.Pending++
		} else {
			st.InWindow++
		}
	}
	if l.pausedUntil.After(now) {
		st.PausedUntil = l.pausedUntil
	}
	return st
}
