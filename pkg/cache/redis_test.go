package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniredis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestNewRedisStore_Panic(t *testing.T) {
	assert.Panics(t, func() { NewRedisStore(nil) })
}

func TestRedisStore_SetAndGet(t *testing.T) {
	client, mr := setupMiniredis(t)
	s := NewRedisStore(client)
	ctx := context.Background()

	key := Key{Resource: "abc", Range: "A1:B2"}.String()
	require.NoError(t, s.Set(ctx, newEntry(key, `{"values":[["1"]]}`, time.Minute)))

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, `{"values":[["1"]]}`, string(got.Value))
	assert.Equal(t, time.Minute, got.TTL)

	ttl := mr.TTL(key)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)
}

func TestRedisStore_Miss(t *testing.T) {
	client, _ := setupMiniredis(t)
	s := NewRedisStore(client)

	_, err := s.Get(context.Background(), "sheets:none:A1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisStore_ExpiresWithRedisTTL(t *testing.T) {
	client, mr := setupMiniredis(t)
	s := NewRedisStore(client)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, newEntry("k", "v", time.Minute)))
	mr.FastForward(2 * time.Minute)

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisStore_SkipsExpiredEntries(t *testing.T) {
	client, mr := setupMiniredis(t)
	s := NewRedisStore(client)

	stale := &Entry{Key: "k", Value: []byte("v"), StoredAt: time.Now().Add(-time.Hour), TTL: time.Minute}
	require.NoError(t, s.Set(context.Background(), stale))
	assert.False(t, mr.Exists("k"))
}

func TestRedisStore_InvalidEntry(t *testing.T) {
	client, mr := setupMiniredis(t)
	s := NewRedisStore(client)

	require.NoError(t, mr.Set("k", "not json"))
	_, err := s.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrInvalidEntry)
}

func TestRedisStore_DeletePrefix(t *testing.T) {
	client, mr := setupMiniredis(t)
	s := NewRedisStore(client)
	ctx := context.Background()

	for i := 0; i < 250; i++ {
		key := Key{Resource: "abc", Range: "R" + string(rune('A'+i%26)) + string(rune('0'+i/26))}.String()
		require.NoError(t, s.Set(ctx, newEntry(key, "v", time.Minute)))
	}
	other := Key{Resource: "abcd", Range: "A1"}.String()
	require.NoError(t, s.Set(ctx, newEntry(other, "v", time.Minute)))

	n, err := s.DeletePrefix(ctx, ResourcePrefix("abc"))
	require.NoError(t, err)
	assert.Equal(t, 250, n)
	assert.True(t, mr.Exists(other))
}

func TestRedisStore_DeletePrefixEscapesGlob(t *testing.T) {
	client, mr := setupMiniredis(t)
	s := NewRedisStore(client)
	ctx := context.Background()

	require.NoError(t, mr.Set("p*x", "1"))
	require.NoError(t, mr.Set("pqx", "1"))

	n, err := s.DeletePrefix(ctx, "p*")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, mr.Exists("pqx"))
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `a\*b\?c\[d\]e\\f`, escapeGlob(`a*b?c[d]e\f`))
	assert.Equal(t, "sheets:abc:", escapeGlob("sheets:abc:"))
}

func TestCache_WithRedisStore(t *testing.T) {
	client, _ := setupMiniredis(t)
	c, err := New(DefaultConfig(), WithStore(NewRedisStore(client)))
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	key := Key{Resource: "abc", Range: "A1"}
	c.Put(ctx, key, []byte("v"), 0)

	got, ok := c.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, "v", string(got))

	require.NoError(t, c.InvalidateResource(ctx, "abc"))
	_, ok = c.Get(ctx, key)
	assert.False(t, ok)
}

func TestCache_RedisDownIsAMiss(t *testing.T) {
	client, mr := setupMiniredis(t)
	c, err := New(DefaultConfig(), WithStore(NewRedisStore(client)))
	require.NoError(t, err)
	mr.Close()

	_, ok := c.Get(context.Background(), Key{Resource: "abc", Range: "A1"})
	assert.False(t, ok)
}
