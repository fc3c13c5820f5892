// Package memo memoizes expensive operations on top of the tiered cache.
package memo

import (
	"context"
	"time"

	"github.com/DjangoSpop/promptemple-sub000/pkg/cache"
	"github.com/DjangoSpop/promptemple-sub000/pkg/observability"
	"golang.org/x/sync/singleflight"
)

// DefaultSlowThreshold is the execution time above which a warning is logged
const DefaultSlowThreshold = 50 * time.Millisecond

// Store is the subset of the tiered cache used for memoization
type Store interface {
	Get(ctx context.Context, key string, dst interface{}) cache.Result
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration, tiers cache.Tier) error
	InvalidatePrefix(ctx context.Context, prefix string) (int, error)
}

// Descriptor declares how an operation is cached
type Descriptor struct {
	// Name identifies the operation in logs and metrics
	Name string
	// Prefix starts every key; defaults to Name
	Prefix string
	TTL    time.Duration
	// Tiers selects where results are written; zero means all tiers
	Tiers cache.Tier
	// VaryOn lists the parameters that make up the key. Empty means all.
	VaryOn        []string
	SlowThreshold time.Duration
}

func (d Descriptor) prefix() string {
	if d.Prefix != "" {
		return d.Prefix
	}
	return d.Name
}

func (d Descriptor) slowThreshold() time.Duration {
	if d.SlowThreshold > 0 {
		return d.SlowThreshold
	}
	return DefaultSlowThreshold
}

// Memoizer caches operation results keyed by their parameters.
// Concurrent misses on one key share a single execution.
type Memoizer struct {
	store   Store
	logger  observability.Logger
	metrics observability.MetricsClient
	group   singleflight.Group
}

// New creates a memoizer over store
func New(store Store, logger observability.Logger, metrics observability.MetricsClient) *Memoizer {
	if logger == nil {
		logger = observability.NewLogger("memo")
	}
	if metrics == nil {
		metrics = observability.NewNoOpMetricsClient()
	}
	return &Memoizer{store: store, logger: logger, metrics: metrics}
}

// Wrap returns op with caching applied. The wrapped function has the same
// contract as op: errors are returned unchanged and never cached.
func Wrap[T any](m *Memoizer, d Descriptor, op func(ctx context.Context, params Params) (T, error)) func(ctx context.Context, params Params) (T, error) {
	return func(ctx context.Context, params Params) (T, error) {
		result, _, err := Call(ctx, m, d, params, op)
		return result, err
	}
}

// Call runs op through the cache once and also reports whether the result
// was served from the cache.
func Call[T any](ctx context.Context, m *Memoizer, d Descriptor, params Params, op func(ctx context.Context, params Params) (T, error)) (T, bool, error) {
	key, err := Key(d, params)
	if err != nil {
		m.logger.Warn("Uncacheable parameters, executing directly", map[string]interface{}{
			"operation": d.Name,
			"error":     err.Error(),
		})
		result, err := op(ctx, params)
		return result, false, err
	}

	var cached T
	if res := m.store.Get(ctx, key, &cached); res.Hit {
		m.logger.Debug("Memoized result served from cache", map[string]interface{}{
			"operation": d.Name,
			"key":       key,
			"tier":      res.Tier.String(),
		})
		return cached, true, nil
	}

	// the execution is shared, so one caller's cancellation must not fail the others
	detached := context.WithoutCancel(ctx)
	v, err, shared := m.group.Do(key, func() (interface{}, error) {
		return m.execute(detached, d, key, params, func(ctx context.Context) (interface{}, error) {
			return op(ctx, params)
		})
	})
	if shared {
		m.metrics.RecordCounter("memo_coalesced_total", 1, map[string]string{"operation": d.Name})
	}

	result, _ := v.(T)
	return result, false, err
}

func (m *Memoizer) execute(ctx context.Context, d Descriptor, key string, params Params, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	start := time.Now()
	result, err := fn(ctx)
	elapsed := time.Since(start)

	m.metrics.RecordLatency(d.Name, elapsed)
	if elapsed > d.slowThreshold() {
		m.logger.Warn("Slow operation", map[string]interface{}{
			"operation":    d.Name,
			"duration_ms":  elapsed.Milliseconds(),
			"threshold_ms": d.slowThreshold().Milliseconds(),
			"params":       len(params),
		})
	}

	if err != nil {
		return result, err
	}

	// the result is cached even if the caller has gone away
	if setErr := m.store.Set(context.WithoutCancel(ctx), key, result, d.TTL, d.Tiers); setErr != nil {
		m.logger.Debug("Failed to cache memoized result", map[string]interface{}{
			"operation": d.Name,
			"key":       key,
			"error":     setErr.Error(),
		})
	}
	return result, nil
}

// Invalidate drops every cached result whose key starts with prefix
func (m *Memoizer) Invalidate(ctx context.Context, prefix string) (int, error) {
	return m.store.InvalidatePrefix(ctx, prefix)
}
