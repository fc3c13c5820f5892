package observability

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// latencyBuckets covers the 50ms search budget with headroom for slow catalog fetches
var latencyBuckets = []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5}

// PrometheusMetricsClient creates collectors lazily on a private registry.
// A metric name must always be recorded with the same label keys.
type PrometheusMetricsClient struct {
	namespace string
	subsystem string
	registry  *prometheus.Registry
	factory   promauto.Factory

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusMetricsClient creates a client with its own registry, so two
// clients in one process never collide on registration.
func NewPrometheusMetricsClient(namespace, subsystem string) *PrometheusMetricsClient {
	registry := prometheus.NewRegistry()
	c := &PrometheusMetricsClient{
		namespace:  namespace,
		subsystem:  subsystem,
		registry:   registry,
		factory:    promauto.With(registry),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}

	c.counter("cache_operations_total", []string{"operation", "result"})
	c.histogram("cache_operation_duration_seconds", []string{"operation"})
	c.histogram("operation_latency_seconds", []string{"operation"})
	return c
}

// Registry is served by the /metrics handler
func (c *PrometheusMetricsClient) Registry() *prometheus.Registry {
	return c.registry
}

func (c *PrometheusMetricsClient) RecordCounter(name string, value float64, labels map[string]string) {
	c.counter(name, labelNames(labels)).With(labels).Add(value)
}

func (c *PrometheusMetricsClient) RecordGauge(name string, value float64, labels map[string]string) {
	c.gauge(name, labelNames(labels)).With(labels).Set(value)
}

func (c *PrometheusMetricsClient) RecordHistogram(name string, value float64, labels map[string]string) {
	c.histogram(name, labelNames(labels)).With(labels).Observe(value)
}

// RecordCacheOperation counts the lookup as a hit or miss and observes its duration
func (c *PrometheusMetricsClient) RecordCacheOperation(operation string, hit bool, duration time.Duration) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.counter("cache_operations_total", nil).WithLabelValues(operation, result).Inc()
	c.histogram("cache_operation_duration_seconds", nil).WithLabelValues(operation).Observe(duration.Seconds())
}

func (c *PrometheusMetricsClient) RecordLatency(operation string, duration time.Duration) {
	c.histogram("operation_latency_seconds", nil).WithLabelValues(operation).Observe(duration.Seconds())
}

// Close is a no-op; collectors live as long as the registry
func (c *PrometheusMetricsClient) Close() error {
	return nil
}

func (c *PrometheusMetricsClient) counter(name string, labels []string) *prometheus.CounterVec {
	return lookupVec(&c.mu, c.counters, name, func() *prometheus.CounterVec {
		return c.factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: c.namespace,
			Subsystem: c.subsystem,
			Name:      name,
			Help:      "Counter for " + name,
		}, labels)
	})
}

func (c *PrometheusMetricsClient) gauge(name string, labels []string) *prometheus.GaugeVec {
	return lookupVec(&c.mu, c.gauges, name, func() *prometheus.GaugeVec {
		return c.factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: c.namespace,
			Subsystem: c.subsystem,
			Name:      name,
			Help:      "Gauge for " + name,
		}, labels)
	})
}

func (c *PrometheusMetricsClient) histogram(name string, labels []string) *prometheus.HistogramVec {
	return lookupVec(&c.mu, c.histograms, name, func() *prometheus.HistogramVec {
		return c.factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: c.namespace,
			Subsystem: c.subsystem,
			Name:      name,
			Help:      "Histogram for " + name,
			Buckets:   latencyBuckets,
		}, labels)
	})
}

// lookupVec returns the collector registered under name, creating it on first use
func lookupVec[V any](mu *sync.Mutex, vecs map[string]V, name string, create func() V) V {
	mu.Lock()
	defer mu.Unlock()

	if v, ok := vecs[name]; ok {
		return v
	}
	v := create()
	vecs[name] = v
	return v
}

func labelNames(labels map[string]string) []string {
	return slices.Sorted(maps.Keys(labels))
}
