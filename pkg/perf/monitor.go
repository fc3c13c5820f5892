// Package perf tracks operation latencies over a sliding window and turns
// them, together with cache statistics, into tuning recommendations.
package perf

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/DjangoSpop/promptemple-sub000/pkg/cache"
	"github.com/DjangoSpop/promptemple-sub000/pkg/observability"
)

// Sample is one recorded latency
type Sample struct {
	Operation string    `json:"operation"`
	LatencyMS float64   `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// Config defines monitor configuration
type Config struct {
	// Capacity is the number of samples kept; older ones are dropped first
	Capacity int `mapstructure:"capacity" validate:"gt=0"`
	// TargetMS is the latency budget per operation
	TargetMS float64 `mapstructure:"target_ms" validate:"gt=0"`
}

// DefaultConfig returns the default monitor configuration
func DefaultConfig() Config {
	return Config{Capacity: 100, TargetMS: 50}
}

// CacheStatsSource supplies cache statistics for recommendations
type CacheStatsSource interface {
	Stats() cache.Stats
}

// Monitor keeps a bounded ring buffer of latency samples
type Monitor struct {
	mu      sync.RWMutex
	samples []Sample
	next    int
	full    bool

	config  Config
	cache   CacheStatsSource
	logger  observability.Logger
	metrics observability.MetricsClient
	now     func() time.Time
}

// NewMonitor creates a monitor. cacheStats may be nil.
func NewMonitor(config Config, cacheStats CacheStatsSource, logger observability.Logger, metrics observability.MetricsClient) *Monitor {
	defaults := DefaultConfig()
	if config.Capacity <= 0 {
		config.Capacity = defaults.Capacity
	}
	if config.TargetMS <= 0 {
		config.TargetMS = defaults.TargetMS
	}
	if logger == nil {
		logger = observability.NewLogger("perf")
	}
	if metrics == nil {
		metrics = observability.NewNoOpMetricsClient()
	}

	return &Monitor{
		samples: make([]Sample, config.Capacity),
		config:  config,
		cache:   cacheStats,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Config returns the effective configuration
func (m *Monitor) Config() Config {
	return m.config
}

// Record appends a sample, overwriting the oldest once the buffer is full
func (m *Monitor) Record(operation string, latency time.Duration) {
	ms := float64(latency) / float64(time.Millisecond)

	m.mu.Lock()
	m.samples[m.next] = Sample{Operation: operation, LatencyMS: ms, Timestamp: m.now()}
	m.next = (m.next + 1) % len(m.samples)
	if m.next == 0 {
		m.full = true
	}
	m.mu.Unlock()

	m.metrics.RecordLatency(operation, latency)

	if ms > m.config.TargetMS {
		m.logger.Warn("Operation exceeded latency target", map[string]interface{}{
			"operation":  operation,
			"latency_ms": math.Round(ms*100) / 100,
			"target_ms":  m.config.TargetMS,
		})
	}
}

// Samples returns the buffered samples oldest first, filtered by operation
// when operation is non-empty
func (m *Monitor) Samples(operation string) []Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ordered []Sample
	if m.full {
		ordered = append(ordered, m.samples[m.next:]...)
	}
	ordered = append(ordered, m.samples[:m.next]...)

	if operation == "" {
		return ordered
	}
	out := ordered[:0]
	for _, s := range ordered {
		if s.Operation == operation {
			out = append(out, s)
		}
	}
	return out
}

// Average returns the mean latency in milliseconds, or 0 with no samples
func (m *Monitor) Average(operation string) float64 {
	samples := m.Samples(operation)
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s.LatencyMS
	}
	return sum / float64(len(samples))
}

// Percentile returns the nearest-rank p-th percentile (0 < p <= 100) in milliseconds
func (m *Monitor) Percentile(operation string, p float64) float64 {
	samples := m.Samples(operation)
	if len(samples) == 0 || p <= 0 {
		return 0
	}
	if p > 100 {
		p = 100
	}

	latencies := make([]float64, len(samples))
	for i, s := range samples {
		latencies[i] = s.LatencyMS
	}
	sort.Float64s(latencies)

	rank := int(math.Ceil(p * float64(len(latencies)) / 100))
	if rank < 1 {
		rank = 1
	}
	return latencies[rank-1]
}

// OperationReport aggregates samples of a single operation
type OperationReport struct {
	Count     int     `json:"count"`
	AverageMS float64 `json:"average_ms"`
	P95MS     float64 `json:"p95_ms"`
}

// Report is the monitor summary for the operations dashboard
type Report struct {
	Samples      int                        `json:"samples"`
	Capacity     int                        `json:"capacity"`
	TargetMS     float64                    `json:"target_ms"`
	AverageMS    float64                    `json:"average_ms"`
	P50MS        float64                    `json:"p50_ms"`
	P95MS        float64                    `json:"p95_ms"`
	P99MS        float64                    `json:"p99_ms"`
	Operations   map[string]OperationReport `json:"operations"`
	WithinBudget bool                       `json:"within_budget"`
}

// Report summarizes the current window
func (m *Monitor) Report() Report {
	samples := m.Samples("")
	r := Report{
		Samples:    len(samples),
		Capacity:   m.config.Capacity,
		TargetMS:   m.config.TargetMS,
		AverageMS:  m.Average(""),
		P50MS:      m.Percentile("", 50),
		P95MS:      m.Percentile("", 95),
		P99MS:      m.Percentile("", 99),
		Operations: make(map[string]OperationReport),
	}
	r.WithinBudget = r.AverageMS <= m.config.TargetMS

	seen := make(map[string]int)
	for _, s := range samples {
		seen[s.Operation]++
	}
	for op, count := range seen {
		r.Operations[op] = OperationReport{
			Count:     count,
			AverageMS: m.Average(op),
			P95MS:     m.Percentile(op, 95),
		}
	}
	return r
}
