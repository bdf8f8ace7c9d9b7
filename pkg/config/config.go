// Package config loads the sheets client and proxy configuration from a
// YAML file and SHEETS_* environment variables.
//
// Precedence, lowest first: built-in defaults, the YAML file, the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Sternrassler/sheets-client/pkg/batch"
	"github.com/Sternrassler/sheets-client/pkg/cache"
	"github.com/Sternrassler/sheets-client/pkg/chunk"
	"github.com/Sternrassler/sheets-client/pkg/client"
	"github.com/Sternrassler/sheets-client/pkg/logging"
	"github.com/Sternrassler/sheets-client/pkg/ratelimit"
	"github.com/Sternrassler/sheets-client/pkg/retry"
	"github.com/Sternrassler/sheets-client/pkg/transport"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Load and Validate for unusable settings.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete configuration.
type Config struct {
	Logging          logging.Config  `yaml:"logging"`
	Server           ServerConfig    `yaml:"server"`
	Transport        TransportConfig `yaml:"transport"`
	Retry            RetryConfig     `yaml:"retry"`
	RateLimit        RateLimitConfig `yaml:"rate_limit"`
	Cache            cache.Config    `yaml:"cache"`
	Batch            batch.Config    `yaml:"batch"`
	Chunk            chunk.Config    `yaml:"chunk"`
	Redis            RedisConfig     `yaml:"redis"`
	ValueInputOption string          `yaml:"value_input_option"`
}

// ServerConfig configures the proxy's HTTP server.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TransportConfig adds credentials to the transport settings.
type TransportConfig struct {
	transport.Config `yaml:",inline"`

	// Token is a static bearer token. Prefer SHEETS_TOKEN over the file.
	Token string `yaml:"token"`
}

// RetryConfig selects a preset and optionally overrides its fields.
type RetryConfig struct {
	Preset      string        `yaml:"preset"`
	MaxAttempts *int          `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Multiplier  float64       `yaml:"multiplier"`
	Jitter      *float64      `yaml:"jitter"`
}

// RateLimitConfig adds cross-process sharing to the limit.
type RateLimitConfig struct {
	ratelimit.Config `yaml:",inline"`

	// Shared enforces the limit across processes through Redis.
	Shared bool   `yaml:"shared"`
	Name   string `yaml:"name"`
}

// RedisConfig configures the optional Redis backend.
type RedisConfig struct {
	// Addr enables Redis when non-empty.
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Default returns the built-in configuration.
func Default() Config {
	cc := client.DefaultConfig()
	return Config{
		Logging:   logging.Config{Level: logging.LevelInfo},
		Server:    ServerConfig{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Transport: TransportConfig{Config: cc.Transport},
		Retry:     RetryConfig{Preset: retry.PresetDefault},
		RateLimit: RateLimitConfig{Config: cc.RateLimit, Name: cc.RateLimitName},
		Cache:     cc.Cache,
		Batch:     cc.Batch,
		Chunk:     cc.Chunk,
		// Empty Redis.Addr keeps everything in process.
		ValueInputOption: cc.ValueInputOption,
	}
}

// Load reads path (skipped when empty) over the defaults, applies the
// environment and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// decode rejects unknown keys so typos do not silently fall back to defaults.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("%w: logging: %v", ErrInvalidConfig, err)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("%w: server addr is required", ErrInvalidConfig)
	}
	if c.RateLimit.Shared && c.Redis.Addr == "" {
		return fmt.Errorf("%w: shared rate limit requires redis.addr", ErrInvalidConfig)
	}
	if c.RateLimit.Shared && c.RateLimit.Name == "" {
		return fmt.Errorf("%w: shared rate limit requires rate_limit.name", ErrInvalidConfig)
	}
	switch c.ValueInputOption {
	case client.InputRaw, client.InputUserEntered:
	default:
		return fmt.Errorf("%w: value_input_option %q", ErrInvalidConfig, c.ValueInputOption)
	}
	if _, err := c.RetryPolicy(); err != nil {
		return fmt.Errorf("%w: retry: %v", ErrInvalidConfig, err)
	}

	checks := []struct {
		section string
		err     error
	}{
		{"transport", c.Transport.Validate()},
		{"rate_limit", c.RateLimit.Validate()},
		{"cache", c.Cache.Validate()},
		{"batch", c.Batch.Validate()},
		{"chunk", c.Chunk.Validate()},
	}
	for _, chk := range checks {
		if chk.err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, chk.section, chk.err)
		}
	}
	return nil
}

// RetryPolicy resolves the preset and applies the overrides.
func (c *Config) RetryPolicy() (retry.Policy, error) {
	p, err := retry.PolicyByName(c.Retry.Preset)
	if err != nil {
		return retry.Policy{}, err
	}

	maxAttempts := p.MaxAttempts()
	if c.Retry.MaxAttempts != nil {
		maxAttempts = *c.Retry.MaxAttempts
	}
	base := p.BaseDelayValue()
	if c.Retry.BaseDelay > 0 {
		base = c.Retry.BaseDelay
	}
	maxDelay := p.MaxDelay()
	if c.Retry.MaxDelay > 0 {
		maxDelay = c.Retry.MaxDelay
	}
	mult := p.Multiplier()
	if c.Retry.Multiplier > 0 {
		mult = c.Retry.Multiplier
	}
	jitter := p.Jitter()
	if c.Retry.Jitter != nil {
		jitter = *c.Retry.Jitter
	}

	return retry.NewPolicy(maxAttempts, base, maxDelay, mult, jitter), nil
}

// NewRedis returns a Redis client, or nil when Redis is not configured.
func (c *Config) NewRedis() *redis.Client {
	if c.Redis.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	})
}

// ClientConfig converts the configuration for client.New. rdb may be nil.
func (c *Config) ClientConfig(rdb *redis.Client) (client.Config, error) {
	policy, err := c.RetryPolicy()
	if err != nil {
		return client.Config{}, err
	}

	return client.Config{
		Transport:        c.Transport.Config,
		Retry:            policy,
		RateLimit:        c.RateLimit.Config,
		Cache:            c.Cache,
		Batch:            c.Batch,
		Chunk:            c.Chunk,
		Redis:            rdb,
		SharedRateLimit:  c.RateLimit.Shared && rdb != nil,
		RateLimitName:    c.RateLimit.Name,
		ValueInputOption: c.ValueInputOption,
	}, nil
}
