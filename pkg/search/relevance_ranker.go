package search

import (
	"math"
	"sort"
	"strings"

	"github.com/DjangoSpop/promptemple-sub000/pkg/catalog"
	"github.com/DjangoSpop/promptemple-sub000/pkg/observability"
)

// RelevanceRanker scores catalog candidates against a query.
// Scores are additive heuristics and may exceed 1.0.
type RelevanceRanker struct {
	highQualityBonus float64
	logger           observability.Logger
}

// NewRelevanceRanker creates a new relevance ranker
func NewRelevanceRanker(highQualityBonus float64, logger observability.Logger) *RelevanceRanker {
	if logger == nil {
		logger = observability.NewLogger("relevance-ranker")
	}
	return &RelevanceRanker{highQualityBonus: highQualityBonus, logger: logger}
}

// Score computes the composite relevance of c for a normalized query:
//
//	0.4 title contains query
//	0.3 body contains query
//	0.2 * min(matched tags / query words, 1)
//	0.3 intent category equals the candidate's
//	0.2 intent category and candidate category overlap, when the 0.3 did not apply
//	plus QualityBonus
func (r *RelevanceRanker) Score(query string, intent *catalog.Intent, c catalog.Candidate) ScoredResult {
	result := ScoredResult{Candidate: c}
	var score float64

	if query != "" && strings.Contains(strings.ToLower(c.Title), query) {
		score += 0.4
		result.Reasons = append(result.Reasons, ReasonTitleMatch)
	}
	if query != "" && strings.Contains(strings.ToLower(c.Body), query) {
		score += 0.3
		result.Reasons = append(result.Reasons, ReasonContentMatch)
	}

	tagScore := 0.0
	if words := strings.Fields(query); len(words) > 0 {
		if matched := matchedTags(c.Tags, words); matched > 0 {
			tagScore = 0.2 * math.Min(float64(matched)/float64(len(words)), 1.0)
			score += tagScore
			result.Reasons = append(result.Reasons, ReasonTagMatch)
		}
	}

	intentScore := 0.0
	if intent != nil && intent.Category != "" {
		result.CategoryMatch = categoryMatchesIntent(intent.Category, c.Category)
		switch {
		case intent.Category == c.IntentCategory:
			intentScore = 0.3
			result.IntentMatch = true
			result.Reasons = append(result.Reasons, ReasonIntentMatch)
		case result.CategoryMatch:
			intentScore = 0.2
			result.Reasons = append(result.Reasons, ReasonCategoryIntentMatch)
		}
		score += intentScore
	}

	bonus := QualityBonus(c)
	score += bonus
	if bonus >= r.highQualityBonus {
		result.Reasons = append(result.Reasons, ReasonHighQuality)
	}

	result.Score = score

	r.logger.Debug("Calculated relevance score", map[string]interface{}{
		"candidate":     c.ID,
		"tag_score":     tagScore,
		"intent_score":  intentScore,
		"quality_bonus": bonus,
		"total_score":   score,
	})

	return result
}

// Rank scores every candidate, drops those at or below MinScore and sorts
// the rest by score descending, then id ascending
func (r *RelevanceRanker) Rank(query string, intent *catalog.Intent, candidates []catalog.Candidate) []ScoredResult {
	results := make([]ScoredResult, 0, len(candidates))
	for _, c := range candidates {
		if sr := r.Score(query, intent, c); sr.Score > MinScore {
			results = append(results, sr)
		}
	}
	sortResults(results)
	return results
}

// IntentScore is the uniform score of an exact intent lookup
func (r *RelevanceRanker) IntentScore(c catalog.Candidate) ScoredResult {
	result := ScoredResult{
		Candidate:   c,
		Score:       0.8 + 0.2*c.QualityScore/100,
		Reasons:     []Reason{ReasonIntentMatch},
		IntentMatch: true,
	}
	if QualityBonus(c) >= r.highQualityBonus {
		result.Reasons = append(result.Reasons, ReasonHighQuality)
	}
	return result
}

// SimilarScore scores c as a neighbour of source
func (r *RelevanceRanker) SimilarScore(source, c catalog.Candidate) ScoredResult {
	result := ScoredResult{Candidate: c, Score: 0.3}
	if strings.EqualFold(source.Category, c.Category) {
		result.Score += 0.4
		result.CategoryMatch = true
	}
	if overlap := tagOverlap(source.Tags, c.Tags); overlap > 0 {
		result.Score += 0.1 * float64(overlap)
		result.Reasons = append(result.Reasons, ReasonTagMatch)
	}
	return result
}

// featuredFloor is the score of a curated candidate nobody has rated yet
const featuredFloor = 0.5

// FeaturedScore maps the rating of a curated candidate onto [featuredFloor, 1],
// keeping every featured result above MinScore and the rating order intact
func (r *RelevanceRanker) FeaturedScore(c catalog.Candidate) ScoredResult {
	rating := math.Max(0, math.Min(c.AverageRating/5, 1))
	result := ScoredResult{Candidate: c, Score: featuredFloor + (1-featuredFloor)*rating}
	if QualityBonus(c) >= r.highQualityBonus {
		result.Reasons = append(result.Reasons, ReasonHighQuality)
	}
	return result
}

// QualityBonus rewards intrinsically good candidates regardless of the query
func QualityBonus(c catalog.Candidate) float64 {
	return 0.15*c.QualityScore/100 +
		0.10*c.SuccessRate +
		0.10*math.Min(c.AverageRating/5, 1) +
		0.05*math.Min(float64(c.UsageCount)/1000, 1)
}

func categoryMatchesIntent(intentCategory, category string) bool {
	if intentCategory == "" || category == "" {
		return false
	}
	i, c := strings.ToLower(intentCategory), strings.ToLower(category)
	return strings.Contains(i, c) || strings.Contains(c, i)
}

// matchedTags counts distinct candidate tags that equal a query word
func matchedTags(tags, words []string) int {
	wordSet := make(map[string]struct{}, len(words))
	for _, w := range words {
		wordSet[w] = struct{}{}
	}
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.ToLower(t)
		if _, ok := wordSet[t]; ok {
			seen[t] = struct{}{}
		}
	}
	return len(seen)
}

func tagOverlap(a, b []string) int {
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[strings.ToLower(t)] = struct{}{}
	}
	n := 0
	for _, t := range b {
		key := strings.ToLower(t)
		if _, ok := set[key]; ok {
			n++
			delete(set, key)
		}
	}
	return n
}

func sortResults(results []ScoredResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Candidate.ID < results[j].Candidate.ID
	})
}
