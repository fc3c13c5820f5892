// Package catalog defines the template catalog as seen by the cache and
// search layer. The catalog is owned elsewhere; this package only reads it.
package catalog

import (
	"context"
	"errors"
	"iter"
	"strings"
)

// ErrNotFound is returned when a candidate id does not exist
var ErrNotFound = errors.New("catalog: candidate not found")

// Candidate is a catalog item eligible for ranking
type Candidate struct {
	ID              string   `json:"id" db:"id"`
	Title           string   `json:"title" db:"title"`
	Body            string   `json:"body" db:"body"`
	Category        string   `json:"category" db:"category"`
	Tags            []string `json:"tags" db:"-"`
	IntentCategory  string   `json:"intent_category" db:"intent_category"`
	UsageCount      int64    `json:"usage_count" db:"usage_count"`
	AverageRating   float64  `json:"average_rating" db:"average_rating"`
	QualityScore    float64  `json:"quality_score" db:"quality_score"`
	ComplexityScore float64  `json:"complexity_score" db:"complexity_score"`
	SuccessRate     float64  `json:"success_rate" db:"success_rate"`
	IsFeatured      bool     `json:"is_featured" db:"is_featured"`
}

// Intent is an externally classified user goal
type Intent struct {
	Category   string  `json:"intent_category"`
	Confidence float64 `json:"confidence"`
}

// Order selects how Query sorts its results
type Order int

const (
	// OrderRelevance sorts by text relevance, then usage, rating and quality (all descending)
	OrderRelevance Order = iota
	// OrderIntentComposite sorts by quality_score + success_rate*20 + average_rating*10
	OrderIntentComposite
	// OrderRating sorts by average rating, then usage
	OrderRating
	// OrderUsage sorts by usage, then rating
	OrderUsage
)

// Filter narrows a catalog query. Zero values mean "no constraint".
type Filter struct {
	// Text matches when the phrase occurs in title or body, or any of its
	// words equals a tag (case-insensitive)
	Text           string
	Category       string
	IntentCategory string
	// Tags matches candidates sharing at least one tag
	Tags []string
	// FeaturedOrMinRating keeps featured candidates and those rated at least this value
	FeaturedOrMinRating float64
	ExcludeID           string
	Order               Order
	Limit               int
}

// Catalog is the read interface over the authoritative template store
type Catalog interface {
	Query(ctx context.Context, f Filter) ([]Candidate, error)
	Stream(ctx context.Context, f Filter) iter.Seq2[Candidate, error]
	Get(ctx context.Context, id string) (Candidate, error)
	GetByIDs(ctx context.Context, ids []string) (map[string]Candidate, error)
	Categories(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
}

// QueryWords splits a query into lower-cased words
func QueryWords(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// TextRelevance is the coarse relevance signal used to pre-order candidates:
// 2 for a title match, 1 for a body match, 0 otherwise.
func TextRelevance(c Candidate, text string) int {
	q := strings.ToLower(strings.TrimSpace(text))
	if q == "" {
		return 0
	}
	switch {
	case strings.Contains(strings.ToLower(c.Title), q):
		return 2
	case strings.Contains(strings.ToLower(c.Body), q):
		return 1
	default:
		return 0
	}
}

// IntentComposite is the ordering key for intent-only lookups
func IntentComposite(c Candidate) float64 {
	return c.QualityScore + c.SuccessRate*20 + c.AverageRating*10
}
