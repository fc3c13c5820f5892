package search

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/DjangoSpop/promptemple-sub000/pkg/catalog"
	"github.com/DjangoSpop/promptemple-sub000/pkg/memo"
	"github.com/DjangoSpop/promptemple-sub000/pkg/observability"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// WarmerConfig controls cache warm-up
type WarmerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Workers bounds concurrent warm-up lookups
	Workers       int     `mapstructure:"workers" validate:"gte=0"`
	RatePerSecond float64 `mapstructure:"rate_per_second" validate:"gte=0"`
	// Queries are always warmed, in addition to the most used titles
	Queries []string `mapstructure:"queries"`
	// Categories to warm featured lists for; empty means every catalog category
	Categories     []string      `mapstructure:"categories"`
	PopularQueries int           `mapstructure:"popular_queries" validate:"gte=0"`
	PopularTTL     time.Duration `mapstructure:"popular_ttl"`
}

// DefaultWarmerConfig returns default warm-up configuration
func DefaultWarmerConfig() WarmerConfig {
	return WarmerConfig{
		Enabled:        true,
		Workers:        4,
		RatePerSecond:  50,
		PopularQueries: 10,
		PopularTTL:     time.Hour,
	}
}

// WarmupResult summarizes a warm-up run
type WarmupResult struct {
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// Warmer pre-populates featured lists and popular searches
type Warmer struct {
	engine      *Engine
	collections *memo.CollectionCache
	config      WarmerConfig
	logger      observability.Logger
}

// NewWarmer creates a warmer for engine
func NewWarmer(engine *Engine, config WarmerConfig, logger observability.Logger) *Warmer {
	if logger == nil {
		logger = observability.NewLogger("search.warmer")
	}
	d := DefaultWarmerConfig()
	if config.Workers <= 0 {
		config.Workers = d.Workers
	}
	if config.RatePerSecond <= 0 {
		config.RatePerSecond = d.RatePerSecond
	}
	if config.PopularTTL <= 0 {
		config.PopularTTL = d.PopularTTL
	}
	return &Warmer{
		engine:      engine,
		collections: memo.NewCollectionCache(engine.cache, 0, logger),
		config:      config,
		logger:      logger,
	}
}

// PopularQueries returns the normalized titles of the most used candidates,
// materialized once per TTL
func (w *Warmer) PopularQueries(ctx context.Context) ([]string, error) {
	if w.config.PopularQueries <= 0 {
		return nil, nil
	}
	key := fmt.Sprintf("%s:titles:%d", PrefixPopular, w.config.PopularQueries)
	source := w.engine.catalog.Stream(ctx, catalog.Filter{
		Order: catalog.OrderUsage,
		Limit: w.config.PopularQueries,
	})
	return memo.CacheCollection(ctx, w.collections, source, key, w.config.PopularTTL, func(c catalog.Candidate) string {
		return NormalizeQuery(c.Title)
	})
}

type warmJob struct {
	name string
	run  func(ctx context.Context) (Metrics, error)
}

func (w *Warmer) jobs(ctx context.Context) []warmJob {
	e := w.engine
	limit := e.config.DefaultMaxResults

	categories := w.config.Categories
	if len(categories) == 0 {
		all, err := e.catalog.Categories(ctx)
		if err != nil {
			w.logger.Warn("Failed to list categories for warm-up", map[string]interface{}{
				"error": err.Error(),
			})
		}
		categories = all
	}

	jobs := make([]warmJob, 0, 1+len(categories)+len(w.config.Queries)+w.config.PopularQueries)
	for _, category := range append([]string{""}, categories...) {
		jobs = append(jobs, warmJob{
			name: "featured:" + category,
			run: func(ctx context.Context) (Metrics, error) {
				_, m, err := e.Featured(ctx, category, limit)
				return m, err
			},
		})
	}

	popular, err := w.PopularQueries(ctx)
	if err != nil {
		w.logger.Warn("Failed to derive popular queries", map[string]interface{}{
			"error": err.Error(),
		})
	}

	seen := make(map[string]struct{})
	for _, q := range append(append([]string(nil), w.config.Queries...), popular...) {
		q = NormalizeQuery(q)
		if q == "" {
			continue
		}
		if _, dup := seen[q]; dup {
			continue
		}
		seen[q] = struct{}{}
		jobs = append(jobs, warmJob{
			name: "search:" + q,
			run: func(ctx context.Context) (Metrics, error) {
				_, m, err := e.Search(ctx, Request{Query: q, MaxResults: limit})
				return m, err
			},
		})
	}
	return jobs
}

// Run warms the cache and blocks until every job finished or ctx is done.
// Individual failures are logged and counted, never returned.
func (w *Warmer) Run(ctx context.Context) WarmupResult {
	start := time.Now()
	jobs := w.jobs(ctx)

	limiter := rate.NewLimiter(rate.Limit(w.config.RatePerSecond), 1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.config.Workers)

	var succeeded, failed atomic.Int64
	for _, job := range jobs {
		if err := limiter.Wait(gctx); err != nil {
			failed.Add(1)
			continue
		}
		g.Go(func() error {
			m, err := job.run(gctx)
			if err == nil && m.Error != "" {
				err = errors.New(m.Error)
			}
			if err != nil {
				failed.Add(1)
				w.logger.Warn("Failed to warm cache entry", map[string]interface{}{
					"job":   job.name,
					"error": err.Error(),
				})
				return nil
			}
			succeeded.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	result := WarmupResult{
		Total:     len(jobs),
		Succeeded: int(succeeded.Load()),
		Failed:    int(failed.Load()),
		Duration:  time.Since(start),
	}
	w.logger.Info("Cache warming complete", map[string]interface{}{
		"total":       result.Total,
		"succeeded":   result.Succeeded,
		"failed":      result.Failed,
		"duration_ms": result.Duration.Milliseconds(),
	})
	return result
}

// Start runs the warm-up in the background. The returned channel receives
// the result and is then closed.
func (w *Warmer) Start(ctx context.Context) <-chan WarmupResult {
	done := make(chan WarmupResult, 1)
	go func() {
		defer close(done)
		done <- w.Run(ctx)
	}()
	return done
}
