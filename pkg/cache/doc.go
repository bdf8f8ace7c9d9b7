// Package cache provides the response cache consulted before every read of
// the remote tabular API.
//
// Features:
//
// - Deterministic, collision-free keys derived from spreadsheet, range and render options
// - Lazy TTL expiry on lookup, with an optional background sweep
// - LRU bound on the number of entries (MemoryStore)
// - Optional shared Redis backend (RedisStore)
// - Resource-wide invalidation for writes
// - Deduplicated concurrent misses (GetOrFetch)
// - Prometheus metrics for observability
//
// # Basic Usage
//
//	c, err := cache.New(cache.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//
//	key := cache.Key{Resource: spreadsheetID, Range: "Sheet1!A1:C10"}
//	body, hit, err := c.GetOrFetch(ctx, key, func(ctx context.Context) ([]byte, error) {
//		return fetchFromRemote(ctx)
//	})
//
// # Writes
//
// A write to any range of a spreadsheet must be followed by
//
//	c.InvalidateResource(ctx, spreadsheetID)
//
// Over-invalidation is cheap; serving a stale read after a write is not.
//
// # Redis Backend
//
//	c, err := cache.New(cfg, cache.WithStore(cache.NewRedisStore(redisClient)))
//
// # Metrics
//
//   - sheets_cache_hits_total{layer} - Cache hits
//   - sheets_cache_misses_total{layer} - Cache misses
//   - sheets_cache_evictions_total - LRU evictions
//   - sheets_cache_entries{layer} - Entries held in memory
//   - sheets_cache_invalidations_total{scope} - Invalidations
//   - sheets_cache_errors_total{operation} - Backend errors
package cache
