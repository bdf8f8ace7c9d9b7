package client

import (
	"errors"
	"fmt"

	"github.com/Sternrassler/sheets-client/pkg/batch"
	"github.com/Sternrassler/sheets-client/pkg/cache"
	"github.com/Sternrassler/sheets-client/pkg/chunk"
	"github.com/Sternrassler/sheets-client/pkg/ratelimit"
	"github.com/Sternrassler/sheets-client/pkg/retry"
	"github.com/Sternrassler/sheets-client/pkg/transport"
	"github.com/redis/go-redis/v9"
)

// ErrInvalidConfig is returned by New for unusable settings.
var ErrInvalidConfig = errors.New("invalid client config")

// Value input options accepted by write operations.
const (
	InputRaw         = "RAW"
	InputUserEntered = "USER_ENTERED"
)

// Config holds the client configuration.
type Config struct {
	Transport transport.Config
	Retry     retry.Policy
	RateLimit ratelimit.Config
	Cache     cache.Config
	Batch     batch.Config
	Chunk     chunk.Config

	// Redis, when set, backs the response cache.
	Redis *redis.Client

	// SharedRateLimit additionally enforces RateLimit across every process
	// using the same RateLimitName in Redis. Requires Redis.
	SharedRateLimit bool
	RateLimitName   string

	// ValueInputOption controls how written values are interpreted.
	ValueInputOption string
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		Transport:        transport.DefaultConfig(),
		Retry:            retry.DefaultPolicy(),
		RateLimit:        ratelimit.DefaultConfig(),
		Cache:            cache.DefaultConfig(),
		Batch:            batch.DefaultConfig(),
		Chunk:            chunk.DefaultConfig(),
		RateLimitName:    "default",
		ValueInputOption: InputRaw,
	}
}

// Validate checks the settings owned by the client itself. Component
// settings are validated by their constructors.
func (c Config) Validate() error {
	if c.SharedRateLimit && c.Redis == nil {
		return fmt.Errorf("%w: shared rate limit requires a redis client", ErrInvalidConfig)
	}
	if c.SharedRateLimit && c.RateLimitName == "" {
		return fmt.Errorf("%w: shared rate limit requires a name", ErrInvalidConfig)
	}
	switch c.ValueInputOption {
	case InputRaw, InputUserEntered:
	default:
		return fmt.Errorf("%w: value input option %q", ErrInvalidConfig, c.ValueInputOption)
	}
	return nil
}
