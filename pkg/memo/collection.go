package memo

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/DjangoSpop/promptemple-sub000/pkg/cache"
	"github.com/DjangoSpop/promptemple-sub000/pkg/observability"
)

// CollectionCache stores materialized results of bulk catalog queries
type CollectionCache struct {
	store  Store
	tiers  cache.Tier
	logger observability.Logger
}

// NewCollectionCache creates a collection cache writing to tiers (zero means all)
func NewCollectionCache(store Store, tiers cache.Tier, logger observability.Logger) *CollectionCache {
	if logger == nil {
		logger = observability.NewLogger("memo.collection")
	}
	return &CollectionCache{store: store, tiers: tiers, logger: logger}
}

// CacheCollection returns the cached list under key, or drains source,
// applies transform to every item, caches the list and returns it. source is
// not consumed on a hit. A nil transform requires T and R to be the same type.
func CacheCollection[T, R any](ctx context.Context, cc *CollectionCache, source iter.Seq2[T, error], key string, ttl time.Duration, transform func(T) R) ([]R, error) {
	var cached []R
	if res := cc.store.Get(ctx, key, &cached); res.Hit {
		return cached, nil
	}

	start := time.Now()
	items := make([]R, 0)
	for item, err := range source {
		if err != nil {
			return nil, fmt.Errorf("failed to materialize collection %s: %w", key, err)
		}
		if transform != nil {
			items = append(items, transform(item))
			continue
		}
		r, ok := any(item).(R)
		if !ok {
			return nil, fmt.Errorf("collection %s: %T is not assignable without a transform", key, item)
		}
		items = append(items, r)
	}

	if err := cc.store.Set(context.WithoutCancel(ctx), key, items, ttl, cc.tiers); err != nil {
		cc.logger.Debug("Failed to cache collection", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}

	cc.logger.Debug("Collection materialized", map[string]interface{}{
		"key":         key,
		"items":       len(items),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return items, nil
}

// Invalidate removes every collection whose key starts with prefix.
// Call it whenever the underlying catalog changes.
func (cc *CollectionCache) Invalidate(ctx context.Context, prefix string) (int, error) {
	n, err := cc.store.InvalidatePrefix(ctx, prefix)
	if err != nil {
		cc.logger.Warn("Collection invalidation incomplete", map[string]interface{}{
			"prefix": prefix,
			"error":  err.Error(),
		})
	}
	return n, err
}
