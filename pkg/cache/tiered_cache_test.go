package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DjangoSpop/promptemple-sub000/pkg/observability"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cachedTemplate struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Tags    []string `json:"tags"`
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons"`
}

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, NewRedisStoreFromClient(client, "")
}

func newTestCache(t *testing.T, cfg Config, l2 RemoteStore) *TieredCache {
	c, err := NewTieredCache(cfg, l2, observability.NewNoopLogger(), nil)
	require.NoError(t, err)
	return c
}

func TestTieredCache_EvictsLeastRecentlyInserted(t *testing.T) {
	c := newTestCache(t, Config{L1MaxItems: 2}, nil)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "A", 1, time.Minute, TierL1))
	require.NoError(t, c.Set(ctx, "B", 2, time.Minute, TierL1))
	require.NoError(t, c.Set(ctx, "C", 3, time.Minute, TierL1))

	keys, err := c.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C"}, keys)
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestTieredCache_EvictsByAccessNotInsertion(t *testing.T) {
	c := newTestCache(t, Config{L1MaxItems: 2}, nil)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "A", 1, time.Minute, TierL1))
	require.NoError(t, c.Set(ctx, "B", 2, time.Minute, TierL1))

	var v int
	require.True(t, c.Get(ctx, "A", &v).Hit)

	require.NoError(t, c.Set(ctx, "C", 3, time.Minute, TierL1))

	assert.True(t, c.Get(ctx, "A", &v).Hit)
	assert.False(t, c.Get(ctx, "B", &v).Hit)
	assert.LessOrEqual(t, c.Len(), 2)
}

func TestTieredCache_RoundTripThroughL2(t *testing.T) {
	_, store := setupMiniRedis(t)
	ctx := context.Background()

	value := cachedTemplate{
		ID:      "t1",
		Title:   "Business Plan Generator",
		Tags:    []string{"business", "plan"},
		Score:   1.234,
		Reasons: []string{"title_match", "tag_match"},
	}

	writer := newTestCache(t, Config{L1MaxItems: 10}, store)
	require.NoError(t, writer.Set(ctx, "search:abc", value, time.Minute, AllTiers))

	// A fresh process shares only L2.
	reader := newTestCache(t, Config{L1MaxItems: 10}, store)

	var got cachedTemplate
	res := reader.Get(ctx, "search:abc", &got)
	require.True(t, res.Hit)
	assert.Equal(t, TierL2, res.Tier)
	assert.NoError(t, res.Err)
	assert.Equal(t, value, got)

	// The L2 hit was copied into L1.
	var again cachedTemplate
	res = reader.Get(ctx, "search:abc", &again)
	assert.Equal(t, TierL1, res.Tier)
	assert.Equal(t, value, again)

	stats := reader.Stats()
	assert.Equal(t, int64(1), stats.L1Hits)
	assert.Equal(t, int64(1), stats.L2Hits)
	assert.Equal(t, 1.0, stats.HitRate)
}

func TestTieredCache_CompressesLargePayloads(t *testing.T) {
	mr, store := setupMiniRedis(t)
	ctx := context.Background()
	c := newTestCache(t, Config{L1MaxItems: 10, CompressionMinSize: 64}, store)

	value := cachedTemplate{ID: "big", Title: strings.Repeat("prompt ", 200)}
	require.NoError(t, c.Set(ctx, "big", value, time.Minute, TierL2))

	raw, err := mr.Get("big")
	require.NoError(t, err)
	assert.Equal(t, formatZstd, raw[0])
	assert.Less(t, len(raw), len(value.Title))

	var got cachedTemplate
	require.True(t, c.Get(ctx, "big", &got).Hit)
	assert.Equal(t, value, got)
}

func TestTieredCache_WritesOnlyRequestedTiers(t *testing.T) {
	mr, store := setupMiniRedis(t)
	ctx := context.Background()
	c := newTestCache(t, Config{L1MaxItems: 10}, store)

	require.NoError(t, c.Set(ctx, "remote-only", "v", time.Minute, TierL2))
	assert.Equal(t, 0, c.Len())
	assert.True(t, mr.Exists("remote-only"))

	require.NoError(t, c.Set(ctx, "local-only", "v", time.Minute, TierL1))
	assert.Equal(t, 1, c.Len())
	assert.False(t, mr.Exists("local-only"))
}

func TestTieredCache_L1Expiry(t *testing.T) {
	c := newTestCache(t, Config{L1MaxItems: 10}, nil)
	ctx := context.Background()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute, TierL1))

	var v string
	assert.True(t, c.Get(ctx, "k", &v).Hit)

	now = now.Add(2 * time.Minute)
	assert.False(t, c.Get(ctx, "k", &v).Hit)
	assert.Equal(t, 0, c.Len())
}

func TestTieredCache_L2Expiry(t *testing.T) {
	mr, store := setupMiniRedis(t)
	ctx := context.Background()
	c := newTestCache(t, Config{L1MaxItems: 10}, store)

	require.NoError(t, c.Set(ctx, "k", "v", time.Second, TierL2))
	mr.FastForward(2 * time.Second)

	var v string
	res := c.Get(ctx, "k", &v)
	assert.False(t, res.Hit)
	assert.NoError(t, res.Err)
}

func TestTieredCache_BackfillKeepsRemoteExpiry(t *testing.T) {
	mr, store := setupMiniRedis(t)
	ctx := context.Background()
	c := newTestCache(t, Config{L1MaxItems: 10, BackfillTTL: time.Minute}, store)

	now := time.Now()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", "v", 10*time.Second, TierL2))
	mr.FastForward(9 * time.Second)

	var v string
	res := c.Get(ctx, "k", &v)
	require.True(t, res.Hit)
	assert.Equal(t, TierL2, res.Tier)
	assert.Equal(t, 1, c.Len())

	// the L1 copy must expire with its source, not after BackfillTTL
	mr.FastForward(30 * time.Second)
	now = now.Add(30 * time.Second)

	v = ""
	res = c.Get(ctx, "k", &v)
	assert.False(t, res.Hit)
	assert.Empty(t, v)
}

func TestTieredCache_BackfillCappedByBackfillTTL(t *testing.T) {
	_, store := setupMiniRedis(t)
	ctx := context.Background()
	c := newTestCache(t, Config{L1MaxItems: 10, DefaultTTL: time.Hour, BackfillTTL: time.Minute}, store)

	now := time.Now()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", "v", 0, TierL2))

	var v string
	require.True(t, c.Get(ctx, "k", &v).Hit)

	now = now.Add(30 * time.Second)
	res := c.Get(ctx, "k", &v)
	assert.True(t, res.Hit)
	assert.Equal(t, TierL1, res.Tier)

	now = now.Add(time.Minute)
	res = c.Get(ctx, "k", &v)
	assert.True(t, res.Hit)
	assert.Equal(t, TierL2, res.Tier)
}

func TestRedisStore_GetReturnsRemainingTTL(t *testing.T) {
	mr, store := setupMiniRedis(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "ttl", []byte("a"), 10*time.Second))
	require.NoError(t, store.Set(ctx, "forever", []byte("b"), 0))
	mr.FastForward(4 * time.Second)

	data, ttl, err := store.Get(ctx, "ttl")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), data)
	assert.Equal(t, 6*time.Second, ttl)

	_, ttl, err = store.Get(ctx, "forever")
	require.NoError(t, err)
	assert.Zero(t, ttl)

	_, _, err = store.Get(ctx, "absent")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestTieredCache_BackendFailureIsAMiss(t *testing.T) {
	mr, store := setupMiniRedis(t)
	ctx := context.Background()
	c := newTestCache(t, Config{L1MaxItems: 10}, store)

	mr.SetError("LOADING redis is loading the dataset in memory")

	var v string
	res := c.Get(ctx, "k", &v)
	assert.False(t, res.Hit)
	require.Error(t, res.Err)
	assert.True(t, IsKind(res.Err, KindBackend))

	err := c.Set(ctx, "k", "v", time.Minute, AllTiers)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindBackend))

	// L1 still took the write.
	res = c.Get(ctx, "k", &v)
	assert.True(t, res.Hit)
	assert.Equal(t, "v", v)
	assert.Equal(t, int64(2), c.Stats().Errors)
}

func TestTieredCache_CorruptPayloadIsDropped(t *testing.T) {
	mr, store := setupMiniRedis(t)
	ctx := context.Background()
	c := newTestCache(t, Config{L1MaxItems: 10}, store)

	require.NoError(t, mr.Set("search:corrupt", "not-a-payload"))

	var v cachedTemplate
	res := c.Get(ctx, "search:corrupt", &v)
	assert.False(t, res.Hit)
	assert.True(t, IsKind(res.Err, KindSerialization))
	assert.False(t, mr.Exists("search:corrupt"))
}

func TestTieredCache_UnencodableValue(t *testing.T) {
	c := newTestCache(t, Config{L1MaxItems: 10}, nil)

	err := c.Set(context.Background(), "k", make(chan int), time.Minute, AllTiers)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindSerialization))
}

func TestTieredCache_InvalidatePrefix(t *testing.T) {
	mr, store := setupMiniRedis(t)
	ctx := context.Background()
	c := newTestCache(t, Config{L1MaxItems: 10}, store)

	for _, k := range []string{"search:a", "search:b", "featured:all"} {
		require.NoError(t, c.Set(ctx, k, k, time.Minute, AllTiers))
	}
	// Written by another process.
	require.NoError(t, store.Set(ctx, "search:remote", []byte{formatRaw, '1'}, time.Minute))

	n, err := c.InvalidatePrefix(ctx, "search:")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.False(t, mr.Exists("search:a"))
	assert.False(t, mr.Exists("search:remote"))
	assert.True(t, mr.Exists("featured:all"))

	var v string
	assert.False(t, c.Get(ctx, "search:a", &v).Hit)
	assert.True(t, c.Get(ctx, "featured:all", &v).Hit)
}

func TestTieredCache_Delete(t *testing.T) {
	mr, store := setupMiniRedis(t)
	ctx := context.Background()
	c := newTestCache(t, Config{L1MaxItems: 10}, store)

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute, AllTiers))
	require.NoError(t, c.Delete(ctx, "k"))

	var v string
	assert.False(t, c.Get(ctx, "k", &v).Hit)
	assert.False(t, mr.Exists("k"))
}

func TestTieredCache_Stats(t *testing.T) {
	c := newTestCache(t, Config{L1MaxItems: 4}, nil)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", 1, time.Minute, TierL1))

	var v int
	c.Get(ctx, "a", &v)
	c.Get(ctx, "a", &v)
	c.Get(ctx, "missing", &v)
	c.Get(ctx, "missing", &v)

	stats := c.Stats()
	assert.Equal(t, int64(4), stats.Requests)
	assert.Equal(t, int64(2), stats.L1Hits)
	assert.Equal(t, int64(2), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
	assert.InDelta(t, 0.25, stats.MemoryUtilization, 1e-9)
	assert.False(t, stats.L2Available)
}

func TestTieredCache_ConcurrentAccess(t *testing.T) {
	const (
		maxItems   = 16
		workers    = 8
		iterations = 500
		keySpace   = 64
	)
	c := newTestCache(t, Config{L1MaxItems: maxItems}, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				key := fmt.Sprintf("tpl:%d", (w*iterations+i)%keySpace)
				if i%3 == 0 {
					assert.NoError(t, c.Set(ctx, key, i, time.Minute, TierL1))
					continue
				}
				var v int
				c.Get(ctx, key, &v)
				assert.LessOrEqual(t, c.Len(), maxItems)
			}
		}(w)
	}
	wg.Wait()

	stats := c.Stats()
	assert.LessOrEqual(t, c.Len(), maxItems)
	assert.LessOrEqual(t, stats.L1Items, maxItems)
	assert.Equal(t, stats.Requests, stats.L1Hits+stats.L2Hits+stats.Misses)
	assert.Positive(t, stats.Evictions)
	assert.Zero(t, stats.Errors)
	assert.GreaterOrEqual(t, stats.HitRate, 0.0)
	assert.LessOrEqual(t, stats.HitRate, 1.0)
}

func TestTieredCache_KeyPrefixNamespacing(t *testing.T) {
	mr, _ := setupMiniRedis(t)
	ctx := context.Background()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreFromClient(client, "promptemple:")
	c := newTestCache(t, Config{L1MaxItems: 10}, store)

	require.NoError(t, c.Set(ctx, "search:x", "v", time.Minute, TierL2))
	assert.True(t, mr.Exists("promptemple:search:x"))

	keys, err := store.Keys(ctx, "search:")
	require.NoError(t, err)
	assert.Equal(t, []string{"search:x"}, keys)
}

func TestParseTiers(t *testing.T) {
	assert.Equal(t, TierL1, ParseTiers("l1"))
	assert.Equal(t, AllTiers, ParseTiers("L1", "redis"))
	assert.Equal(t, AllTiers, ParseTiers("all"))
	assert.Equal(t, TierNone, ParseTiers("disk"))
}
