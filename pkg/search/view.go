package search

import (
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	maxViewBody = 300
	maxViewTags = 5
)

// ResultView is the JSON shape of a result served to clients
type ResultView struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Body            string   `json:"body"`
	Category        string   `json:"category"`
	Tags            []string `json:"tags"`
	Score           float64  `json:"score"`
	RelevanceReason string   `json:"relevance_reason"`
	CategoryMatch   bool     `json:"category_match"`
	IntentMatch     bool     `json:"intent_match"`
}

// View converts a result into its client shape: body cut to 300 characters,
// at most five tags and the score rounded to three decimals
func (r ScoredResult) View() ResultView {
	c := r.Candidate

	body := c.Body
	if utf8.RuneCountInString(body) > maxViewBody {
		body = string([]rune(body)[:maxViewBody]) + "..."
	}

	tags := c.Tags
	if len(tags) > maxViewTags {
		tags = tags[:maxViewTags]
	}
	if tags == nil {
		tags = []string{}
	}

	score, _ := decimal.NewFromFloat(r.Score).Round(3).Float64()

	reasons := make([]string, len(r.Reasons))
	for i, reason := range r.Reasons {
		reasons[i] = string(reason)
	}

	return ResultView{
		ID:              c.ID,
		Title:           c.Title,
		Body:            body,
		Category:        c.Category,
		Tags:            tags,
		Score:           score,
		RelevanceReason: strings.Join(reasons, ", "),
		CategoryMatch:   r.CategoryMatch,
		IntentMatch:     r.IntentMatch,
	}
}

// Views converts a result list
func Views(results []ScoredResult) []ResultView {
	out := make([]ResultView, len(results))
	for i, r := range results {
		out[i] = r.View()
	}
	return out
}
