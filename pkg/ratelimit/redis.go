package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// acquireScript admits a call if the trailing window has room. It returns 0 on
// admission, otherwise the milliseconds until the oldest call leaves the window.
var acquireScript = redis.NewScript(`
local key = KEYS[1]

redis.call('ZREMRANGEBYSCORE', key, '-inf', ARGV[2])
if redis.call('ZCARD', key) < tonumber(ARGV[4]) then
  redis.call('ZADD', key, ARGV[1], ARGV[5])
  redis.call('PEXPIRE', key, ARGV[3])
  return 0
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
return tonumber(oldest[2]) + tonumber(ARGV[3]) - tonumber(ARGV[1])
`)

// RedisLimiter shares one sliding window between processes.
//
// Admission is atomic per call, but unlike Limiter it keeps no queue: waiters
// poll, so ordering between processes is not FIFO.
type RedisLimiter struct {
	redis  *redis.Client
	key    string
	limit  int
	window time.Duration
	logger zerolog.Logger
}

// NewRedisLimiter creates a limiter storing its window under RedisKeyPrefix+name.
func NewRedisLimiter(redisClient *redis.Client, name string, cfg Config, logger zerolog.Logger) (*RedisLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Window < time.Millisecond {
		return nil, fmt.Errorf("%w: redis window must be at least 1ms, got %s", ErrInvalidConfig, cfg.Window)
	}
	if redisClient == nil {
		return nil, fmt.Errorf("%w: redis client is nil", ErrInvalidConfig)
	}

	return &RedisLimiter{
		redis:  redisClient,
		key:    RedisKeyPrefix + name,
		limit:  cfg.Limit,
		window: cfg.Window,
		logger: logger,
	}, nil
}

// Acquire blocks until the shared window admits a call or ctx is done.
func (r *RedisLimiter) Acquire(ctx context.Context) error {
	member := uuid.NewString()
	start := time.Now()
	waited := false

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		now := time.Now().UnixMilli()
		windowMs := r.window.Milliseconds()
		waitMs, err := acquireScript.Run(ctx, r.redis, []string{r.key},
			now, now-windowMs, windowMs, r.limit, member).Int64()
		if err != nil {
			return fmt.Errorf("acquire rate limit slot: %w", err)
		}
		if waitMs <= 0 {
			if waited {
				rateLimitWaitSeconds.Observe(time.Since(start).Seconds())
			}
			return nil
		}

		if !waited {
			waited = true
			rateLimitWaitsTotal.Inc()
			r.logger.Debug().
				Str("key", r.key).
				Int64("wait_ms", waitMs).
				Msg("Shared rate limit reached, waiting for slot")
		}

		timer := time.NewTimer(time.Duration(waitMs) * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// State reads the shared window from Redis.
func (r *RedisLimiter) State(ctx context.Context) (State, error) {
	now := time.Now()
	count, err := r.redis.ZCount(ctx, r.key,
		fmt.Sprintf("(%d", now.Add(-r.window).UnixMilli()), "+inf").Result()
	if err != nil {
		return State{}, fmt.Errorf("get rate limit state: %w", err)
	}

	return State{
		Limit:    r.limit,
		Window:   r.window,
		InWindow: int(count),
		Taken:    now,
	}, nil
}

// Reset clears the shared window.
func (r *RedisLimiter) Reset(ctx context.Context) error {
	if err := r.redis.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("reset rate limit state: %w", err)
	}
	return nil
}
