// Package search ranks catalog candidates for free-text, intent, featured
// and similarity lookups, caching every result list in the tiered cache.
package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/DjangoSpop/promptemple-sub000/pkg/cache"
	"github.com/DjangoSpop/promptemple-sub000/pkg/catalog"
	"github.com/DjangoSpop/promptemple-sub000/pkg/memo"
	"github.com/DjangoSpop/promptemple-sub000/pkg/observability"
)

// Cache key prefixes. Everything except sessions is derived from the catalog.
const (
	PrefixSearch   = "search"
	PrefixIntent   = "intent"
	PrefixFeatured = "featured"
	PrefixSimilar  = "similar"
	PrefixPopular  = "popular"
	PrefixSession  = "session"
)

var errStaleEntry = errors.New("cached result references missing candidates")

// LatencyRecorder receives one sample per lookup
type LatencyRecorder interface {
	Record(operation string, latency time.Duration)
}

// Dependencies are the collaborators of an Engine
type Dependencies struct {
	Catalog catalog.Catalog
	Cache   memo.Store
	Monitor LatencyRecorder
	Logger  observability.Logger
	Metrics observability.MetricsClient
	Tracer  observability.Tracer
}

// Engine is the ranked search service
type Engine struct {
	catalog  catalog.Catalog
	cache    memo.Store
	memo     *memo.Memoizer
	monitor  LatencyRecorder
	ranker   *RelevanceRanker
	config   Config
	logger   observability.Logger
	metrics  observability.MetricsClient
	tracer   observability.Tracer
	features map[string]memo.Descriptor
}

// NewEngine creates a search engine
func NewEngine(config Config, deps Dependencies) (*Engine, error) {
	if deps.Catalog == nil {
		return nil, errors.New("search engine requires a catalog")
	}
	if deps.Cache == nil {
		return nil, errors.New("search engine requires a cache")
	}
	if deps.Logger == nil {
		deps.Logger = observability.NewLogger("search")
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewNoOpMetricsClient()
	}
	if deps.Tracer == nil {
		deps.Tracer = observability.NoopTracer{}
	}

	config = config.withDefaults()

	e := &Engine{
		catalog: deps.Catalog,
		cache:   deps.Cache,
		memo:    memo.New(deps.Cache, deps.Logger.WithPrefix("search.memo"), deps.Metrics),
		monitor: deps.Monitor,
		ranker:  NewRelevanceRanker(config.HighQualityBonus, deps.Logger),
		config:  config,
		logger:  deps.Logger,
		metrics: deps.Metrics,
		tracer:  deps.Tracer,
	}
	e.features = map[string]memo.Descriptor{
		PrefixIntent: {
			Name:   "search_by_intent",
			Prefix: PrefixIntent,
			TTL:    config.SearchTTL,
			VaryOn: []string{"intent", "threshold", "limit"},
		},
		PrefixFeatured: {
			Name:   "featured",
			Prefix: PrefixFeatured,
			TTL:    config.FeaturedTTL(),
			VaryOn: []string{"category", "limit"},
		},
		PrefixSimilar: {
			Name:   "similar",
			Prefix: PrefixSimilar,
			TTL:    config.SimilarTTL,
			VaryOn: []string{"id", "limit"},
		},
	}
	return e, nil
}

// Config returns the effective configuration
func (e *Engine) Config() Config {
	return e.config
}

func (e *Engine) clampLimit(n int) int {
	if n <= 0 {
		return e.config.DefaultMaxResults
	}
	if n > e.config.MaxResultsLimit {
		return e.config.MaxResultsLimit
	}
	return n
}

// searchKey derives the cache key from the normalized query, category and intent
func searchKey(query, category string, intent *catalog.Intent) string {
	intentCategory := ""
	if intent != nil {
		intentCategory = intent.Category
	}
	// VaryOn keys never fail to encode
	key, _ := memo.Key(memo.Descriptor{
		Name:   "search",
		Prefix: PrefixSearch,
		VaryOn: []string{"q", "category", "intent"},
	}, memo.Params{"q": query, "category": category, "intent": intentCategory})
	return key
}

// Search ranks candidates for a free-text query. Only ErrEmptyQuery is
// returned as an error; execution failures yield an empty list with
// Metrics.Error set.
func (e *Engine) Search(ctx context.Context, req Request) ([]ScoredResult, Metrics, error) {
	start := time.Now()

	query := NormalizeQuery(req.Query)
	if query == "" {
		return nil, Metrics{}, ErrEmptyQuery
	}
	maxResults := e.clampLimit(req.MaxResults)

	ctx, span := e.tracer.StartSpan(ctx, "search.Search")
	defer span.End()
	span.SetAttribute("search.query", query)
	span.SetAttribute("search.category", req.Category)
	span.SetAttribute("search.max_results", maxResults)

	if req.SessionID != "" {
		e.recordSessionQuery(ctx, req.SessionID, query)
	}

	key := searchKey(query, req.Category, req.Intent)

	var hits []cachedHit
	if res := e.cache.Get(ctx, key, &hits); res.Hit {
		results, err := e.rehydrate(ctx, hits, maxResults)
		if err == nil {
			span.SetAttribute("search.from_cache", true)
			return results, e.finish("search", start, true, len(results)), nil
		}
		e.logger.Debug("Cached search result discarded", map[string]interface{}{
			"query": query,
			"key":   key,
			"error": err.Error(),
		})
	}

	results, err := e.execute(ctx, key, query, req, maxResults)
	if err != nil {
		span.RecordError(err)
		e.logger.Error("Search failed", map[string]interface{}{
			"query":    query,
			"category": req.Category,
			"error":    err.Error(),
		})
		m := e.finish("search", start, false, 0)
		m.Error = err.Error()
		return []ScoredResult{}, m, nil
	}

	return results, e.finish("search", start, false, len(results)), nil
}

func (e *Engine) execute(ctx context.Context, key, query string, req Request, maxResults int) ([]ScoredResult, error) {
	candidates, err := e.catalog.Query(ctx, catalog.Filter{
		Text:     query,
		Category: req.Category,
		Order:    catalog.OrderRelevance,
		Limit:    2 * maxResults,
	})
	if err != nil {
		return nil, &ExecutionError{Op: "fetch", Query: query, Err: err}
	}

	ranked := e.ranker.Rank(query, req.Intent, candidates)

	hits := make([]cachedHit, len(ranked))
	for i, r := range ranked {
		hits[i] = cachedHit{
			ID:            r.Candidate.ID,
			Score:         r.Score,
			Reasons:       r.Reasons,
			CategoryMatch: r.CategoryMatch,
			IntentMatch:   r.IntentMatch,
		}
	}
	if err := e.cache.Set(context.WithoutCancel(ctx), key, hits, e.config.SearchTTL, cache.AllTiers); err != nil {
		if cache.IsKind(err, cache.KindSerialization) {
			return nil, &ExecutionError{Op: "serialize", Query: query, Err: err}
		}
		e.logger.Debug("Search result not cached", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}

	if len(ranked) > maxResults {
		ranked = ranked[:maxResults]
	}
	return ranked, nil
}

// rehydrate turns cached hits back into results using current catalog data
func (e *Engine) rehydrate(ctx context.Context, hits []cachedHit, maxResults int) ([]ScoredResult, error) {
	if len(hits) > maxResults {
		hits = hits[:maxResults]
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	candidates, err := e.catalog.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load cached candidates: %w", err)
	}

	results := make([]ScoredResult, 0, len(hits))
	for _, h := range hits {
		c, ok := candidates[h.ID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", errStaleEntry, h.ID)
		}
		results = append(results, ScoredResult{
			Candidate:     c,
			Score:         h.Score,
			Reasons:       h.Reasons,
			CategoryMatch: h.CategoryMatch,
			IntentMatch:   h.IntentMatch,
		})
	}
	return results, nil
}

// finish records the latency sample and builds the metrics
func (e *Engine) finish(op string, start time.Time, fromCache bool, total int) Metrics {
	elapsed := time.Since(start)
	if e.monitor != nil {
		e.monitor.Record(op, elapsed)
	}
	e.metrics.RecordCounter("search_requests_total", 1, map[string]string{
		"operation":  op,
		"from_cache": fmt.Sprint(fromCache),
	})
	return Metrics{
		TotalTimeMS:  math.Round(float64(elapsed)/float64(time.Millisecond)*100) / 100,
		FromCache:    fromCache,
		TotalResults: total,
	}
}

// InvalidateCatalog drops every cached list derived from the catalog.
// Session history survives.
func (e *Engine) InvalidateCatalog(ctx context.Context) (int, error) {
	var (
		total int
		errs  []error
	)
	for _, prefix := range []string{PrefixSearch, PrefixIntent, PrefixFeatured, PrefixSimilar, PrefixPopular} {
		n, err := e.memo.Invalidate(ctx, prefix+":")
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	e.logger.Info("Catalog caches invalidated", map[string]interface{}{
		"keys": total,
	})
	return total, errors.Join(errs...)
}
