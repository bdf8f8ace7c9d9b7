package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestCache(t *testing.T, cfg Config) *Cache {
	t.Helper()
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero ttl", Config{Enabled: true, TTL: 0}},
		{"negative max entries", Config{Enabled: true, TTL: time.Minute, MaxEntries: -1}},
		{"negative sweep", Config{Enabled: true, TTL: time.Minute, SweepInterval: -time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("New() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestNew_DisabledAllowsZeroTTL(t *testing.T) {
	if _, err := New(Config{Enabled: false}); err != nil {
		t.Errorf("New() error = %v", err)
	}
}

func TestCache_PutGet(t *testing.T) {
	c := newTestCache(t, DefaultConfig())
	ctx := context.Background()
	key := Key{Resource: "abc", Range: "A1:B2"}

	c.Put(ctx, key, []byte("v"), time.Minute)

	got, ok := c.Get(ctx, key)
	if !ok {
		t.Fatal("Get() miss, want hit")
	}
	if string(got) != "v" {
		t.Errorf("Get() = %q, want %q", got, "v")
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	c := newTestCache(t, Config{Enabled: true, TTL: time.Minute})
	ctx := context.Background()
	key := Key{Resource: "abc", Range: "A1"}

	c.Put(ctx, key, []byte("v"), 20*time.Millisecond)
	if _, ok := c.Get(ctx, key); !ok {
		t.Fatal("Get() miss before ttl")
	}

	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get(ctx, key); ok {
		t.Error("Get() hit after ttl elapsed")
	}
}

func TestCache_Disabled(t *testing.T) {
	c := newTestCache(t, Config{Enabled: false})
	ctx := context.Background()
	key := Key{Resource: "abc", Range: "A1"}

	c.Put(ctx, key, []byte("v"), time.Minute)
	if _, ok := c.Get(ctx, key); ok {
		t.Error("disabled cache returned a hit")
	}

	calls := 0
	for i := 0; i < 2; i++ {
		_, hit, err := c.GetOrFetch(ctx, key, func(context.Context) ([]byte, error) {
			calls++
			return []byte("v"), nil
		})
		if err != nil || hit {
			t.Errorf("GetOrFetch() = hit %v, err %v", hit, err)
		}
	}
	if calls != 2 {
		t.Errorf("fetch calls = %d, want 2", calls)
	}
}

func TestCache_InvalidateResource(t *testing.T) {
	c := newTestCache(t, DefaultConfig())
	ctx := context.Background()

	a1 := Key{Resource: "abc", Range: "A1"}
	b2 := Key{Resource: "abc", Range: "B2", Options: map[string]string{"valueRenderOption": "FORMULA"}}
	other := Key{Resource: "xyz", Range: "A1"}
	for _, k := range []Key{a1, b2, other} {
		c.Put(ctx, k, []byte("v"), 0)
	}

	if err := c.InvalidateResource(ctx, "abc"); err != nil {
		t.Fatalf("InvalidateResource() error = %v", err)
	}

	for _, k := range []Key{a1, b2} {
		if _, ok := c.Get(ctx, k); ok {
			t.Errorf("Get(%s) hit after resource invalidation", k)
		}
	}
	if _, ok := c.Get(ctx, other); !ok {
		t.Error("unrelated resource was invalidated")
	}
}

func TestCache_InvalidateKeyAndPrefix(t *testing.T) {
	c := newTestCache(t, DefaultConfig())
	ctx := context.Background()

	a := Key{Resource: "abc", Range: "A1"}
	b := Key{Resource: "abc", Range: "B1"}
	c.Put(ctx, a, []byte("v"), 0)
	c.Put(ctx, b, []byte("v"), 0)

	if err := c.Invalidate(ctx, a); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if _, ok := c.Get(ctx, a); ok {
		t.Error("invalidated key still cached")
	}
	if _, ok := c.Get(ctx, b); !ok {
		t.Error("sibling key removed by single-key invalidation")
	}

	if err := c.InvalidatePrefix(ctx, "sheets:"); err != nil {
		t.Fatalf("InvalidatePrefix() error = %v", err)
	}
	if _, ok := c.Get(ctx, b); ok {
		t.Error("key still cached after prefix invalidation")
	}
}

func TestCache_GetOrFetch(t *testing.T) {
	c := newTestCache(t, DefaultConfig())
	ctx := context.Background()
	key := Key{Resource: "abc", Range: "A1"}

	calls := 0
	fetch := func(context.Context) ([]byte, error) {
		calls++
		return []byte("v"), nil
	}

	v, hit, err := c.GetOrFetch(ctx, key, fetch)
	if err != nil || hit || string(v) != "v" {
		t.Fatalf("first GetOrFetch() = %q, %v, %v", v, hit, err)
	}
	v, hit, err = c.GetOrFetch(ctx, key, fetch)
	if err != nil || !hit || string(v) != "v" {
		t.Fatalf("second GetOrFetch() = %q, %v, %v", v, hit, err)
	}
	if calls != 1 {
		t.Errorf("fetch calls = %d, want 1", calls)
	}
}

func TestCache_GetOrFetchErrorNotCached(t *testing.T) {
	c := newTestCache(t, DefaultConfig())
	ctx := context.Background()
	key := Key{Resource: "abc", Range: "A1"}
	boom := errors.New("boom")

	if _, _, err := c.GetOrFetch(ctx, key, func(context.Context) ([]byte, error) {
		return nil, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("GetOrFetch() error = %v, want boom", err)
	}
	if _, ok := c.Get(ctx, key); ok {
		t.Error("failed fetch populated the cache")
	}
}

func TestCache_GetOrFetchDeduplicates(t *testing.T) {
	c := newTestCache(t, DefaultConfig())
	ctx := context.Background()
	key := Key{Resource: "abc", Range: "A1"}

	var calls int32
	release := make(chan struct{})
	fetch := func(context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return []byte("v"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _, err := c.GetOrFetch(ctx, key, fetch)
			if err != nil || string(v) != "v" {
				t.Errorf("GetOrFetch() = %q, %v", v, err)
			}
		}()
	}

	// Let the callers pile up on the in-flight fetch.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("fetch calls = %d, want 1", n)
	}
}

// waitForWaiters blocks until n callers are attached to the flight for key.
func waitForWaiters(t *testing.T, c *Cache, key Key, n int) {
	t.Helper()
	flightKey := key.String() + "#" + c.Generation(key.Resource).String()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.flightMu.Lock()
		f := c.flights[flightKey]
		got := 0
		if f != nil {
			got = f.waiters
		}
		c.flightMu.Unlock()
		if got == n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("flight for %s never reached %d waiters", key, n)
}

func TestCache_GetOrFetchCancelledCallerDoesNotFailJoiners(t *testing.T) {
	c := newTestCache(t, DefaultConfig())
	key := Key{Resource: "abc", Range: "A1"}

	var calls int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		select {
		case <-release:
			return []byte("v"), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrFetch(firstCtx, key, fetch)
		firstErr <- err
	}()
	waitForWaiters(t, c, key, 1)

	type result struct {
		v   []byte
		err error
	}
	second := make(chan result, 1)
	go func() {
		v, _, err := c.GetOrFetch(context.Background(), key, fetch)
		second <- result{v, err}
	}()
	waitForWaiters(t, c, key, 2)

	cancelFirst()
	select {
	case err := <-firstErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("first caller error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(release)
	select {
	case res := <-second:
		if res.err != nil || string(res.v) != "v" {
			t.Errorf("second caller = %q, %v, want v", res.v, res.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second caller did not return")
	}

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("fetch calls = %d, want 1", n)
	}
	if v, ok := c.Get(context.Background(), key); !ok || string(v) != "v" {
		t.Errorf("Get() = %q, %v, want cached v", v, ok)
	}
}

func TestCache_GetOrFetchCancelsFetchWhenAllCallersLeave(t *testing.T) {
	c := newTestCache(t, DefaultConfig())
	key := Key{Resource: "abc", Range: "A1"}

	fetchDone := make(chan error, 1)
	fetch := func(ctx context.Context) ([]byte, error) {
		<-ctx.Done()
		fetchDone <- ctx.Err()
		return nil, ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	callerErr := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrFetch(ctx, key, fetch)
		callerErr <- err
	}()
	waitForWaiters(t, c, key, 1)
	cancel()

	if err := <-callerErr; !errors.Is(err, context.Canceled) {
		t.Errorf("GetOrFetch() error = %v, want context.Canceled", err)
	}
	select {
	case err := <-fetchDone:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("fetch ctx error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fetch was not cancelled after its last caller left")
	}

	// A later caller starts a fresh fetch instead of joining the abandoned one.
	v, _, err := c.GetOrFetch(context.Background(), key, func(context.Context) ([]byte, error) {
		return []byte("fresh"), nil
	})
	if err != nil || string(v) != "fresh" {
		t.Errorf("GetOrFetch() = %q, %v, want fresh", v, err)
	}
}

func TestCache_FetchSpanningInvalidationNotCached(t *testing.T) {
	c := newTestCache(t, DefaultConfig())
	ctx := context.Background()
	key := Key{Resource: "abc", Range: "A1"}

	v, _, err := c.GetOrFetch(ctx, key, func(ctx context.Context) ([]byte, error) {
		// A write lands while the read is in flight.
		if err := c.InvalidateResource(ctx, "abc"); err != nil {
			t.Fatalf("InvalidateResource() error = %v", err)
		}
		return []byte("stale"), nil
	})
	if err != nil {
		t.Fatalf("GetOrFetch() error = %v", err)
	}
	if string(v) != "stale" {
		t.Errorf("GetOrFetch() = %q, want caller to still receive the value", v)
	}
	if _, ok := c.Get(ctx, key); ok {
		t.Error("value fetched across an invalidation was cached")
	}
}

func TestCache_PutIfCurrent(t *testing.T) {
	c := newTestCache(t, DefaultConfig())
	ctx := context.Background()
	a1 := Key{Resource: "abc", Range: "A1"}
	b1 := Key{Resource: "abc", Range: "B1"}
	other := Key{Resource: "xyz", Range: "A1"}

	gen := c.Generation("abc")
	otherGen := c.Generation("xyz")
	if !c.PutIfCurrent(ctx, a1, []byte("1"), gen) {
		t.Fatal("PutIfCurrent() = false before any invalidation")
	}

	if err := c.InvalidateResource(ctx, "abc"); err != nil {
		t.Fatalf("InvalidateResource() error = %v", err)
	}
	if c.PutIfCurrent(ctx, b1, []byte("2"), gen) {
		t.Error("PutIfCurrent() = true with a stale generation")
	}
	if _, ok := c.Get(ctx, b1); ok {
		t.Error("stale value stored")
	}
	if !c.PutIfCurrent(ctx, other, []byte("3"), otherGen) {
		t.Error("invalidating one resource made another stale")
	}

	if err := c.InvalidatePrefix(ctx, "sheets:"); err != nil {
		t.Fatalf("InvalidatePrefix() error = %v", err)
	}
	if c.PutIfCurrent(ctx, other, []byte("4"), otherGen) {
		t.Error("prefix invalidation did not advance every generation")
	}
}

type failingStore struct{ *MemoryStore }

func (failingStore) Get(context.Context, string) (*Entry, error) {
	return nil, errors.New("backend down")
}

func (failingStore) Set(context.Context, *Entry) error {
	return errors.New("backend down")
}

func TestCache_StoreErrorsAreMisses(t *testing.T) {
	c, err := New(DefaultConfig(), WithStore(failingStore{NewMemoryStore(MemoryConfig{})}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()
	ctx := context.Background()
	key := Key{Resource: "abc", Range: "A1"}

	c.Put(ctx, key, []byte("v"), 0)
	if _, ok := c.Get(ctx, key); ok {
		t.Error("Get() hit on failing store")
	}

	v, hit, err := c.GetOrFetch(ctx, key, func(context.Context) ([]byte, error) {
		return []byte("fresh"), nil
	})
	if err != nil || hit || string(v) != "fresh" {
		t.Errorf("GetOrFetch() = %q, %v, %v", v, hit, err)
	}
}
