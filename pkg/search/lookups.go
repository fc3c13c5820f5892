package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/DjangoSpop/promptemple-sub000/pkg/catalog"
	"github.com/DjangoSpop/promptemple-sub000/pkg/memo"
)

// lookup runs a memoized ranked lookup behind the same failure boundary as Search
func (e *Engine) lookup(ctx context.Context, feature, subject string, params memo.Params, op func(ctx context.Context) ([]ScoredResult, error)) ([]ScoredResult, Metrics, error) {
	start := time.Now()
	d := e.features[feature]

	ctx, span := e.tracer.StartSpan(ctx, "search."+d.Name)
	defer span.End()
	span.SetAttribute("search.subject", subject)

	results, fromCache, err := memo.Call(ctx, e.memo, d, params, func(ctx context.Context, _ memo.Params) ([]ScoredResult, error) {
		return op(ctx)
	})
	if err != nil {
		if errors.Is(err, ErrUnknownCandidate) {
			return nil, Metrics{}, err
		}
		span.RecordError(err)
		e.logger.Error("Ranked lookup failed", map[string]interface{}{
			"operation": d.Name,
			"subject":   subject,
			"error":     err.Error(),
		})
		m := e.finish(d.Name, start, false, 0)
		m.Error = err.Error()
		return []ScoredResult{}, m, nil
	}

	if results == nil {
		results = []ScoredResult{}
	}
	span.SetAttribute("search.from_cache", fromCache)
	return results, e.finish(d.Name, start, fromCache, len(results)), nil
}

// SearchByIntent returns candidates whose intent category equals
// intentCategory, ordered by quality_score + success_rate*20 +
// average_rating*10. Results scoring below threshold are dropped.
func (e *Engine) SearchByIntent(ctx context.Context, intentCategory string, threshold float64, maxResults int) ([]ScoredResult, Metrics, error) {
	intentCategory = strings.TrimSpace(intentCategory)
	if intentCategory == "" {
		return nil, Metrics{}, ErrEmptyIntent
	}
	maxResults = e.clampLimit(maxResults)

	params := memo.Params{"intent": intentCategory, "threshold": threshold, "limit": maxResults}
	return e.lookup(ctx, PrefixIntent, intentCategory, params, func(ctx context.Context) ([]ScoredResult, error) {
		candidates, err := e.catalog.Query(ctx, catalog.Filter{
			IntentCategory: intentCategory,
			Order:          catalog.OrderIntentComposite,
			Limit:          2 * maxResults,
		})
		if err != nil {
			return nil, &ExecutionError{Op: "fetch", Query: intentCategory, Err: err}
		}

		results := make([]ScoredResult, 0, maxResults)
		for _, c := range candidates {
			sr := e.ranker.IntentScore(c)
			if sr.Score < threshold {
				continue
			}
			results = append(results, sr)
			if len(results) == maxResults {
				break
			}
		}
		return results, nil
	})
}

// Featured returns curated or highly rated candidates, optionally within a
// category, ordered by rating then usage
func (e *Engine) Featured(ctx context.Context, category string, maxResults int) ([]ScoredResult, Metrics, error) {
	maxResults = e.clampLimit(maxResults)

	params := memo.Params{"category": category, "limit": maxResults}
	return e.lookup(ctx, PrefixFeatured, category, params, func(ctx context.Context) ([]ScoredResult, error) {
		candidates, err := e.catalog.Query(ctx, catalog.Filter{
			Category:            category,
			FeaturedOrMinRating: e.config.FeaturedMinRating,
			Order:               catalog.OrderRating,
			Limit:               maxResults,
		})
		if err != nil {
			return nil, &ExecutionError{Op: "fetch", Query: category, Err: err}
		}

		results := make([]ScoredResult, len(candidates))
		for i, c := range candidates {
			results[i] = e.ranker.FeaturedScore(c)
		}
		return results, nil
	})
}

// Similar returns candidates sharing the source's category or tags, never
// the source itself. An unknown id yields ErrUnknownCandidate.
func (e *Engine) Similar(ctx context.Context, candidateID string, maxResults int) ([]ScoredResult, Metrics, error) {
	candidateID = strings.TrimSpace(candidateID)
	if candidateID == "" {
		return nil, Metrics{}, fmt.Errorf("%w: empty id", ErrUnknownCandidate)
	}
	maxResults = e.clampLimit(maxResults)

	params := memo.Params{"id": candidateID, "limit": maxResults}
	return e.lookup(ctx, PrefixSimilar, candidateID, params, func(ctx context.Context) ([]ScoredResult, error) {
		source, err := e.catalog.Get(ctx, candidateID)
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCandidate, candidateID)
		}
		if err != nil {
			return nil, &ExecutionError{Op: "fetch", Query: candidateID, Err: err}
		}

		filters := []catalog.Filter{{
			Category:  source.Category,
			ExcludeID: candidateID,
			Order:     catalog.OrderUsage,
			Limit:     2 * maxResults,
		}}
		if len(source.Tags) > 0 {
			filters = append(filters, catalog.Filter{
				Tags:      source.Tags,
				ExcludeID: candidateID,
				Order:     catalog.OrderUsage,
				Limit:     2 * maxResults,
			})
		}

		seen := make(map[string]struct{})
		var results []ScoredResult
		for _, f := range filters {
			candidates, err := e.catalog.Query(ctx, f)
			if err != nil {
				return nil, &ExecutionError{Op: "fetch", Query: candidateID, Err: err}
			}
			for _, c := range candidates {
				if _, dup := seen[c.ID]; dup || c.ID == candidateID {
					continue
				}
				seen[c.ID] = struct{}{}
				results = append(results, e.ranker.SimilarScore(source, c))
			}
		}

		sortResults(results)
		if len(results) > maxResults {
			results = results[:maxResults]
		}
		return results, nil
	})
}
