package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Sternrassler/sheets-client/pkg/logging"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SHEETS_"

// applyEnv overrides cfg with any SHEETS_* variables that are set.
func applyEnv(cfg *Config) error {
	setString("LOG_LEVEL", func(v string) { cfg.Logging.Level = logging.LogLevel(v) })
	setString("ADDR", func(v string) { cfg.Server.Addr = v })
	setString("BASE_URL", func(v string) { cfg.Transport.BaseURL = v })
	setString("USER_AGENT", func(v string) { cfg.Transport.UserAgent = v })
	setString("TOKEN", func(v string) { cfg.Transport.Token = v })
	setString("RETRY_PRESET", func(v string) { cfg.Retry.Preset = v })
	setString("REDIS_ADDR", func(v string) { cfg.Redis.Addr = v })
	setString("REDIS_PASSWORD", func(v string) { cfg.Redis.Password = v })
	setString("VALUE_INPUT_OPTION", func(v string) { cfg.ValueInputOption = v })

	parsers := []error{
		setParsed("LOG_PRETTY", strconv.ParseBool, func(v bool) { cfg.Logging.Pretty = v }),
		setParsed("TIMEOUT", time.ParseDuration, func(v time.Duration) { cfg.Transport.Timeout = v }),
		setParsed("RETRY_MAX_ATTEMPTS", strconv.Atoi, func(v int) { cfg.Retry.MaxAttempts = &v }),
		setParsed("RATE_LIMIT", strconv.Atoi, func(v int) { cfg.RateLimit.Limit = v }),
		setParsed("RATE_WINDOW", time.ParseDuration, func(v time.Duration) { cfg.RateLimit.Window = v }),
		setParsed("RATE_LIMIT_SHARED", strconv.ParseBool, func(v bool) { cfg.RateLimit.Shared = v }),
		setParsed("CACHE_ENABLED", strconv.ParseBool, func(v bool) { cfg.Cache.Enabled = v }),
		setParsed("CACHE_TTL", time.ParseDuration, func(v time.Duration) { cfg.Cache.TTL = v }),
		setParsed("REDIS_DB", strconv.Atoi, func(v int) { cfg.Redis.DB = v }),
	}
	for _, err := range parsers {
		if err != nil {
			return err
		}
	}
	return nil
}

func setString(name string, set func(string)) {
	if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
		set(v)
	}
}

func setParsed[T any](name string, parse func(string) (T, error), set func(T)) error {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || v == "" {
		return nil
	}
	parsed, err := parse(v)
	if err != nil {
		return fmt.Errorf("%w: %s%s=%q: %v", ErrInvalidConfig, EnvPrefix, name, v, err)
	}
	set(parsed)
	return nil
}
