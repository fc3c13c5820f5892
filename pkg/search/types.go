package search

import (
	"regexp"
	"strings"
	"time"

	"github.com/DjangoSpop/promptemple-sub000/pkg/catalog"
)

// Reason labels why a candidate scored; several may apply at once
type Reason string

const (
	ReasonTitleMatch          Reason = "title_match"
	ReasonContentMatch        Reason = "content_match"
	ReasonTagMatch            Reason = "tag_match"
	ReasonIntentMatch         Reason = "intent_match"
	ReasonCategoryIntentMatch Reason = "category_intent_match"
	ReasonHighQuality         Reason = "high_quality"
)

// MinScore is the exclusive lower bound for a result to be returned
const MinScore = 0.1

// Request is a free-text search
type Request struct {
	Query      string
	Intent     *catalog.Intent
	Category   string
	MaxResults int
	SessionID  string
}

// ScoredResult is a ranked candidate
type ScoredResult struct {
	Candidate     catalog.Candidate `json:"candidate"`
	Score         float64           `json:"score"`
	Reasons       []Reason          `json:"reasons"`
	CategoryMatch bool              `json:"category_match"`
	IntentMatch   bool              `json:"intent_match"`
}

// Metrics describes how a lookup was served
type Metrics struct {
	TotalTimeMS  float64 `json:"total_time_ms"`
	FromCache    bool    `json:"from_cache"`
	TotalResults int     `json:"total_results"`
	Error        string  `json:"error,omitempty"`
}

// cachedHit is the cached form of a search result; candidates are
// re-read from the catalog on a hit
type cachedHit struct {
	ID            string   `json:"id"`
	Score         float64  `json:"score"`
	Reasons       []Reason `json:"reasons"`
	CategoryMatch bool     `json:"category_match"`
	IntentMatch   bool     `json:"intent_match"`
}

// Config defines search engine configuration
type Config struct {
	DefaultMaxResults int           `mapstructure:"default_max_results"`
	MaxResultsLimit   int           `mapstructure:"max_results_limit" validate:"gtefield=DefaultMaxResults"`
	SearchTTL         time.Duration `mapstructure:"search_ttl"`
	SimilarTTL        time.Duration `mapstructure:"similar_ttl"`
	SessionTTL        time.Duration `mapstructure:"session_ttl"`
	SessionHistory    int           `mapstructure:"session_history"`
	// FeaturedMinRating admits non-featured candidates rated at least this high
	FeaturedMinRating float64 `mapstructure:"featured_min_rating"`
	// HighQualityBonus is the quality bonus from which high_quality is reported
	HighQualityBonus float64 `mapstructure:"high_quality_bonus"`
}

// featuredTTLFactor stretches the search TTL for featured lists
const featuredTTLFactor = 4

// DefaultConfig returns default search configuration
func DefaultConfig() Config {
	return Config{
		DefaultMaxResults: 20,
		MaxResultsLimit:   100,
		SearchTTL:         5 * time.Minute,
		SimilarTTL:        30 * time.Minute,
		SessionTTL:        24 * time.Hour,
		SessionHistory:    20,
		FeaturedMinRating: 4.0,
		HighQualityBonus:  0.25,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DefaultMaxResults <= 0 {
		c.DefaultMaxResults = d.DefaultMaxResults
	}
	if c.MaxResultsLimit <= 0 {
		c.MaxResultsLimit = d.MaxResultsLimit
	}
	if c.SearchTTL <= 0 {
		c.SearchTTL = d.SearchTTL
	}
	if c.SimilarTTL <= 0 {
		c.SimilarTTL = d.SimilarTTL
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = d.SessionTTL
	}
	if c.SessionHistory <= 0 {
		c.SessionHistory = d.SessionHistory
	}
	if c.FeaturedMinRating <= 0 {
		c.FeaturedMinRating = d.FeaturedMinRating
	}
	if c.HighQualityBonus <= 0 {
		c.HighQualityBonus = d.HighQualityBonus
	}
	return c
}

// FeaturedTTL is the lifetime of cached featured lists
func (c Config) FeaturedTTL() time.Duration {
	return c.SearchTTL * featuredTTLFactor
}

var whitespaceRegex = regexp.MustCompile(`\s+`)

// NormalizeQuery lower-cases a query and collapses its whitespace
func NormalizeQuery(query string) string {
	return whitespaceRegex.ReplaceAllString(strings.ToLower(strings.TrimSpace(query)), " ")
}
