package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/DjangoSpop/promptemple-sub000/pkg/observability"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config defines tiered cache configuration
type Config struct {
	// L1MaxItems bounds the process-local tier
	L1MaxItems int `mapstructure:"l1_max_items" validate:"gt=0"`
	// DefaultTTL applies when Set is called with a non-positive ttl
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
	// BackfillTTL caps the L1 lifetime of entries copied up from L2. The
	// entry's remaining L2 lifetime applies when it is shorter.
	BackfillTTL time.Duration `mapstructure:"backfill_ttl"`
	// CompressionMinSize is the payload size from which values are zstd compressed
	CompressionMinSize int `mapstructure:"compression_min_size"`
}

// DefaultConfig returns default cache configuration
func DefaultConfig() Config {
	return Config{
		L1MaxItems:         1000,
		DefaultTTL:         5 * time.Minute,
		BackfillTTL:        time.Minute,
		CompressionMinSize: 1024,
	}
}

// l1Entry is an encoded value with its absolute expiry
type l1Entry struct {
	payload   []byte
	expiresAt time.Time
}

// TieredCache is a bounded LRU in front of an optional RemoteStore
type TieredCache struct {
	l1     *lru.Cache[string, l1Entry]
	l2     RemoteStore
	codec  *Codec
	config Config

	logger  observability.Logger
	metrics observability.MetricsClient
	now     func() time.Time

	requests  atomic.Int64
	l1Hits    atomic.Int64
	l2Hits    atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	errors    atomic.Int64
}

// NewTieredCache creates a tiered cache. l2 may be nil for a local-only cache.
func NewTieredCache(config Config, l2 RemoteStore, logger observability.Logger, metrics observability.MetricsClient) (*TieredCache, error) {
	defaults := DefaultConfig()
	if config.L1MaxItems <= 0 {
		config.L1MaxItems = defaults.L1MaxItems
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = defaults.DefaultTTL
	}
	if config.BackfillTTL <= 0 {
		config.BackfillTTL = defaults.BackfillTTL
	}

	if logger == nil {
		logger = observability.NewLogger("cache")
	}
	if metrics == nil {
		metrics = observability.NewNoOpMetricsClient()
	}

	l1, err := lru.New[string, l1Entry](config.L1MaxItems)
	if err != nil {
		return nil, fmt.Errorf("failed to create L1 cache: %w", err)
	}

	codec, err := NewCodec(config.CompressionMinSize)
	if err != nil {
		return nil, err
	}

	return &TieredCache{
		l1:      l1,
		l2:      l2,
		codec:   codec,
		config:  config,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}, nil
}

// Config returns the effective configuration
func (c *TieredCache) Config() Config {
	return c.config
}

// Get looks key up in L1, then L2, decoding a hit into dst. An L2 hit is
// copied into L1. Failures are reported in Result.Err and count as misses.
func (c *TieredCache) Get(ctx context.Context, key string, dst interface{}) Result {
	start := c.now()
	c.requests.Add(1)

	var errs []error

	if entry, ok := c.l1.Get(key); ok {
		switch {
		case !entry.expiresAt.After(c.now()):
			c.l1.Remove(key)
		default:
			if err := c.codec.Decode(entry.payload, dst); err != nil {
				c.l1.Remove(key)
				errs = append(errs, c.recordError(serializationError("get", key, TierL1, err)))
				break
			}
			c.l1Hits.Add(1)
			c.metrics.RecordCacheOperation("get_l1", true, time.Since(start))
			return Result{Hit: true, Tier: TierL1}
		}
	}

	if c.l2 != nil {
		payload, remaining, err := c.l2.Get(ctx, key)
		switch {
		case errors.Is(err, ErrMiss):
		case err != nil:
			errs = append(errs, c.recordError(backendError("get", key, TierL2, err)))
		default:
			if err := c.codec.Decode(payload, dst); err != nil {
				errs = append(errs, c.recordError(serializationError("get", key, TierL2, err)))
				if delErr := c.l2.Delete(ctx, key); delErr != nil {
					c.logger.Debug("Failed to drop corrupt L2 entry", map[string]interface{}{
						"key":   key,
						"error": delErr.Error(),
					})
				}
				break
			}
			c.l2Hits.Add(1)
			c.putL1(key, payload, c.backfillTTL(remaining))
			c.metrics.RecordCacheOperation("get_l2", true, time.Since(start))
			return Result{Hit: true, Tier: TierL2, Err: errors.Join(errs...)}
		}
	}

	c.misses.Add(1)
	c.metrics.RecordCacheOperation("get", false, time.Since(start))
	return Result{Tier: TierNone, Err: errors.Join(errs...)}
}

// Set encodes value and writes it to the requested tiers. A zero tiers mask
// means AllTiers; a non-positive ttl means the configured default.
func (c *TieredCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration, tiers Tier) error {
	if tiers == TierNone {
		tiers = AllTiers
	}
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}

	payload, err := c.codec.Encode(value)
	if err != nil {
		return c.recordError(serializationError("set", key, tiers, err))
	}

	if tiers.Has(TierL1) {
		c.putL1(key, payload, ttl)
	}

	if tiers.Has(TierL2) && c.l2 != nil {
		if err := c.l2.Set(ctx, key, payload, ttl); err != nil {
			return c.recordError(backendError("set", key, TierL2, err))
		}
	}

	return nil
}

// backfillTTL keeps an L1 copy from outliving its L2 source
func (c *TieredCache) backfillTTL(remaining time.Duration) time.Duration {
	if remaining > 0 && remaining < c.config.BackfillTTL {
		return remaining
	}
	return c.config.BackfillTTL
}

func (c *TieredCache) putL1(key string, payload []byte, ttl time.Duration) {
	if evicted := c.l1.Add(key, l1Entry{payload: payload, expiresAt: c.now().Add(ttl)}); evicted {
		c.evictions.Add(1)
		c.metrics.RecordCounter("cache_evictions_total", 1, map[string]string{"tier": "l1"})
	}
}

// Delete removes key from both tiers
func (c *TieredCache) Delete(ctx context.Context, key string) error {
	c.l1.Remove(key)
	if c.l2 == nil {
		return nil
	}
	if err := c.l2.Delete(ctx, key); err != nil {
		return c.recordError(backendError("delete", key, TierL2, err))
	}
	return nil
}

// Keys lists keys starting with prefix across both tiers, sorted
func (c *TieredCache) Keys(ctx context.Context, prefix string) ([]string, error) {
	seen := make(map[string]struct{})
	for _, k := range c.l1.Keys() {
		if strings.HasPrefix(k, prefix) {
			seen[k] = struct{}{}
		}
	}

	var l2Err error
	if c.l2 != nil {
		remote, err := c.l2.Keys(ctx, prefix)
		if err != nil {
			l2Err = c.recordError(backendError("keys", prefix, TierL2, err))
		}
		for _, k := range remote {
			seen[k] = struct{}{}
		}
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, l2Err
}

// InvalidatePrefix removes every key starting with prefix and returns how
// many keys were targeted. Removal is best effort.
func (c *TieredCache) InvalidatePrefix(ctx context.Context, prefix string) (int, error) {
	keys, keysErr := c.Keys(ctx, prefix)
	if len(keys) == 0 {
		return 0, keysErr
	}

	for _, k := range keys {
		c.l1.Remove(k)
	}

	var delErr error
	if c.l2 != nil {
		if err := c.l2.Delete(ctx, keys...); err != nil {
			delErr = c.recordError(backendError("invalidate", prefix, TierL2, err))
		}
	}

	c.logger.Info("Invalidated cache prefix", map[string]interface{}{
		"prefix": prefix,
		"keys":   len(keys),
	})
	return len(keys), errors.Join(keysErr, delErr)
}

// Len returns the number of L1 entries, including expired ones not yet dropped
func (c *TieredCache) Len() int {
	return c.l1.Len()
}

// Stats returns a snapshot of the cache counters
func (c *TieredCache) Stats() Stats {
	requests := c.requests.Load()
	misses := c.misses.Load()
	items := c.l1.Len()

	s := Stats{
		Requests:          requests,
		L1Hits:            c.l1Hits.Load(),
		L2Hits:            c.l2Hits.Load(),
		Misses:            misses,
		Evictions:         c.evictions.Load(),
		Errors:            c.errors.Load(),
		L1Items:           items,
		L1MaxItems:        c.config.L1MaxItems,
		MemoryUtilization: float64(items) / float64(c.config.L1MaxItems),
		L2Available:       c.l2 != nil,
	}
	if requests > 0 {
		s.HitRate = float64(requests-misses) / float64(requests)
	}
	return s
}

// Ping checks the L2 backend
func (c *TieredCache) Ping(ctx context.Context) error {
	if c.l2 == nil {
		return nil
	}
	return c.l2.Ping(ctx)
}

// Close releases the codec and the L2 connection
func (c *TieredCache) Close() error {
	c.codec.Close()
	if c.l2 != nil {
		return c.l2.Close()
	}
	return nil
}

func (c *TieredCache) recordError(err *Error) *Error {
	c.errors.Add(1)
	c.metrics.RecordCounter("cache_errors_total", 1, map[string]string{
		"kind": err.Kind.String(),
		"tier": err.Tier.String(),
	})
	c.logger.Warn("Cache operation degraded", map[string]interface{}{
		"operation": err.Op,
		"key":       err.Key,
		"tier":      err.Tier.String(),
		"kind":      err.Kind.String(),
		"error":     err.Err.Error(),
	})
	return err
}
