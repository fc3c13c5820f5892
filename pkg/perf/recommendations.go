package perf

import "fmt"

// MinHitRate is the cache hit rate below which key and TTL choices are questioned
const MinHitRate = 0.8

// Recommendation represents a tuning recommendation
type Recommendation struct {
	Type        string `json:"type"`
	Priority    string `json:"priority"` // high, medium, low
	Description string `json:"description"`
	Impact      string `json:"impact"`
	Action      string `json:"action"`
}

// Recommend applies the tuning heuristics to the current window
func (m *Monitor) Recommend() []Recommendation {
	recommendations := []Recommendation{}

	if avg := m.Average(""); avg > m.config.TargetMS {
		action := "Increase the L1 cache capacity"
		if m.cache != nil {
			action = fmt.Sprintf("Increase the L1 cache capacity (currently %d items)", m.cache.Stats().L1MaxItems)
		}
		recommendations = append(recommendations, Recommendation{
			Type:        "latency",
			Priority:    "high",
			Description: fmt.Sprintf("Average latency %.1fms exceeds the %.0fms target", avg, m.config.TargetMS),
			Impact:      "Searches miss the latency budget",
			Action:      action,
		})
	}

	if m.cache != nil {
		stats := m.cache.Stats()
		if stats.Requests > 0 && stats.HitRate < MinHitRate {
			recommendations = append(recommendations, Recommendation{
				Type:        "cache_efficiency",
				Priority:    "medium",
				Description: fmt.Sprintf("Cache hit rate is %.2f%%", stats.HitRate*100),
				Impact:      "Increased catalog load",
				Action:      "Review cache key derivation and TTL choices",
			})
		}
	}

	return recommendations
}
