package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")

	// ErrInvalidConfig is returned by New for unusable settings
	ErrInvalidConfig = errors.New("invalid cache config")
)

// Config configures a Cache.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// TTL is the default time-to-live for Put with a zero ttl.
	TTL time.Duration `yaml:"ttl"`

	// MaxEntries bounds the default memory store. 0 means unbounded.
	MaxEntries int `yaml:"max_entries"`

	// SweepInterval enables a background sweep in the default memory store.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// DefaultConfig returns a cache of 1000 entries kept for 5 minutes.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		TTL:           5 * time.Minute,
		MaxEntries:    1000,
		SweepInterval: time.Minute,
	}
}

// Validate reports whether the config can build a cache.
func (c Config) Validate() error {
	if c.Enabled && c.TTL <= 0 {
		return fmt.Errorf("%w: ttl must be positive, got %s", ErrInvalidConfig, c.TTL)
	}
	if c.MaxEntries < 0 {
		return fmt.Errorf("%w: max entries must not be negative, got %d", ErrInvalidConfig, c.MaxEntries)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("%w: sweep interval must not be negative, got %s", ErrInvalidConfig, c.SweepInterval)
	}
	return nil
}

// FetchFunc loads a value on a cache miss.
type FetchFunc func(ctx context.Context) ([]byte, error)

// Cache is the response cache consulted before the transport.
//
// Each resource carries a generation that every invalidation bumps. A value
// fetched while its resource was invalidated is returned to the caller but
// never stored, so a read that races a write cannot resurrect stale data.
type Cache struct {
	cfg    Config
	store  Store
	logger zerolog.Logger
	group  singleflight.Group

	flightMu sync.Mutex
	flights  map[string]*flight

	genMu sync.RWMutex
	epoch uint64            // bumped by prefix invalidations
	gens  map[string]uint64 // per-resource generation
}

// Option configures a Cache.
type Option func(*Cache)

// WithStore replaces the default MemoryStore.
func WithStore(s Store) Option {
	return func(c *Cache) { c.store = s }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// New creates a Cache. Without WithStore, entries live in a MemoryStore built
// from cfg.
func New(cfg Config, opts ...Option) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Cache{
		cfg:     cfg,
		logger:  zerolog.Nop(),
		gens:    make(map[string]uint64),
		flights: make(map[string]*flight),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		c.store = NewMemoryStore(MemoryConfig{
			MaxEntries:    cfg.MaxEntries,
			SweepInterval: cfg.SweepInterval,
		})
	}
	return c, nil
}

// Enabled reports whether lookups can hit.
func (c *Cache) Enabled() bool { return c.cfg.Enabled }

// Get returns the cached value for key. Backend errors are logged and
// reported as a miss.
func (c *Cache) Get(ctx context.Context, key Key) ([]byte, bool) {
	if !c.cfg.Enabled {
		return nil, false
	}

	layer := c.store.Layer()
	k := key.String()
	entry, err := c.store.Get(ctx, k)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.logger.Warn().Err(err).Str("key", k).Msg("Cache lookup failed, treating as miss")
		}
		CacheMisses.WithLabelValues(layer).Inc()
		c.logger.Debug().Str("key", k).Msg("Cache miss")
		return nil, false
	}

	CacheHits.WithLabelValues(layer).Inc()
	c.logger.Debug().Str("key", k).Msg("Cache hit")
	return entry.Value, true
}

// Put stores value under key for ttl; a ttl <= 0 uses the configured TTL.
func (c *Cache) Put(ctx context.Context, key Key, value []byte, ttl time.Duration) {
	if !c.cfg.Enabled {
		return
	}
	if ttl <= 0 {
		ttl = c.cfg.TTL
	}

	entry := &Entry{
		Key:      key.String(),
		Value:    value,
		StoredAt: time.Now(),
		TTL:      ttl,
	}
	if err := c.store.Set(ctx, entry); err != nil {
		c.logger.Warn().Err(err).Str("key", entry.Key).Msg("Cache store failed")
	}
}

// GetOrFetch returns the cached value for key, or calls fetch once for all
// concurrent callers missing the same key and caches its result.
// The boolean reports whether the value came from the cache.
//
// The shared fetch runs under a context detached from any single caller; it
// is cancelled only once every waiting caller has given up. A caller whose
// ctx ends stops waiting and gets ctx.Err().
func (c *Cache) GetOrFetch(ctx context.Context, key Key, fetch FetchFunc) ([]byte, bool, error) {
	if !c.cfg.Enabled {
		v, err := fetch(ctx)
		return v, false, err
	}
	if v, ok := c.Get(ctx, key); ok {
		return v, true, nil
	}

	gen := c.Generation(key.Resource)
	flightKey := key.String() + "#" + gen.String()

	f := c.joinFlight(ctx, flightKey)
	defer c.leaveFlight(flightKey, f)

	ch := c.group.DoChan(flightKey, func() (any, error) {
		b, err := fetch(f.ctx)
		if err != nil {
			return nil, err
		}
		if !c.PutIfCurrent(f.ctx, key, b, gen) {
			c.logger.Debug().
				Str("key", key.String()).
				Msg("Resource invalidated during fetch, not caching result")
		}
		return b, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.([]byte), false, nil
	}
}

// flight is the context shared by the callers waiting on one fetch.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func (c *Cache) joinFlight(ctx context.Context, flightKey string) *flight {
	c.flightMu.Lock()
	defer c.flightMu.Unlock()

	f, ok := c.flights[flightKey]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		c.flights[flightKey] = f
	}
	f.waiters++
	return f
}

// leaveFlight cancels the fetch when its last waiter leaves. The flight is
// also forgotten so a later caller starts a fresh fetch instead of joining
// the cancelled one.
func (c *Cache) leaveFlight(flightKey string, f *flight) {
	c.flightMu.Lock()
	defer c.flightMu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if c.flights[flightKey] == f {
		delete(c.flights, flightKey)
		c.group.Forget(flightKey)
	}
}

// Invalidate removes a single key.
func (c *Cache) Invalidate(ctx context.Context, key Key) error {
	c.bump(key.Resource)
	CacheInvalidations.WithLabelValues("key").Inc()

	if err := c.store.Delete(ctx, key.String()); err != nil {
		return fmt.Errorf("invalidate %s: %w", key, err)
	}
	return nil
}

// InvalidateResource removes every entry of resource. Writes call this so
// that no read of the resource is served stale afterwards.
func (c *Cache) InvalidateResource(ctx context.Context, resource string) error {
	c.bump(resource)
	CacheInvalidations.WithLabelValues("resource").Inc()

	n, err := c.store.DeletePrefix(ctx, ResourcePrefix(resource))
	if err != nil {
		return fmt.Errorf("invalidate resource %s: %w", resource, err)
	}

	c.logger.Debug().
		Str("resource", resource).
		Int("removed", n).
		Msg("Cache invalidated for resource")
	return nil
}

// InvalidatePrefix removes every key starting with prefix.
func (c *Cache) InvalidatePrefix(ctx context.Context, prefix string) error {
	c.genMu.Lock()
	c.epoch++
	c.genMu.Unlock()
	CacheInvalidations.WithLabelValues("prefix").Inc()

	if _, err := c.store.DeletePrefix(ctx, prefix); err != nil {
		return fmt.Errorf("invalidate prefix %q: %w", prefix, err)
	}
	return nil
}

// Close releases the store.
func (c *Cache) Close() error {
	return c.store.Close()
}

// Generation identifies the invalidation state of a resource at one moment.
type Generation struct {
	epoch    uint64
	resource uint64
}

func (g Generation) String() string {
	return strconv.FormatUint(g.epoch, 10) + "." + strconv.FormatUint(g.resource, 10)
}

// Generation returns the current generation of resource. Pass it to
// PutIfCurrent to store a value fetched after this call.
func (c *Cache) Generation(resource string) Generation {
	c.genMu.RLock()
	defer c.genMu.RUnlock()
	return Generation{epoch: c.epoch, resource: c.gens[resource]}
}

// PutIfCurrent stores value only if key's resource is still at gen, so a
// value fetched across an invalidation is dropped. The read lock keeps an
// invalidation from slipping between the check and the write.
func (c *Cache) PutIfCurrent(ctx context.Context, key Key, value []byte, gen Generation) bool {
	c.genMu.RLock()
	defer c.genMu.RUnlock()

	if (Generation{epoch: c.epoch, resource: c.gens[key.Resource]}) != gen {
		return false
	}
	c.Put(ctx, key, value, 0)
	return true
}

func (c *Cache) bump(resource string) {
	c.genMu.Lock()
	c.gens[resource]++
	c.genMu.Unlock()
}
