// Package observability carries the logging, metrics and tracing used by the
// catalog cache and the search service.
package observability

import (
	"context"
	"time"
)

// Config groups the observability settings loaded with the service config
type Config struct {
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing,omitempty"`
	Metrics MetricsConfig `mapstructure:"metrics" json:"metrics,omitempty"`
	Logging LoggingConfig `mapstructure:"logging" json:"logging,omitempty"`
}

// TracingConfig configures the OTLP trace exporter
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled" json:"enabled"`
	ServiceName string  `mapstructure:"service_name" json:"service_name,omitempty"`
	Environment string  `mapstructure:"environment" json:"environment,omitempty"`
	Endpoint    string  `mapstructure:"endpoint" json:"endpoint,omitempty"`
	SampleRatio float64 `mapstructure:"sample_ratio" json:"sample_ratio,omitempty" validate:"gte=0,lte=1"`
}

// MetricsConfig configures the Prometheus registry
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled" json:"enabled"`
	Namespace string `mapstructure:"namespace" json:"namespace,omitempty"`
	Subsystem string `mapstructure:"subsystem" json:"subsystem,omitempty"`
}

// LoggingConfig configures the process logger
type LoggingConfig struct {
	Level string `mapstructure:"level" json:"level,omitempty"`
}

// LogLevel defines log message severity
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
	LogLevelFatal LogLevel = "FATAL"
)

// Logger is the structured logger passed to every component
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Fatal(msg string, fields map[string]interface{})

	WithPrefix(prefix string) Logger
	With(fields map[string]interface{}) Logger
}

// MetricsClient records counters, gauges and latencies.
// Names are bare; the client applies its own namespace.
type MetricsClient interface {
	RecordCounter(name string, value float64, labels map[string]string)
	RecordGauge(name string, value float64, labels map[string]string)
	RecordHistogram(name string, value float64, labels map[string]string)

	// RecordCacheOperation counts a cache lookup by tier and outcome
	RecordCacheOperation(operation string, hit bool, duration time.Duration)
	// RecordLatency observes the wall time of a named operation
	RecordLatency(operation string, duration time.Duration)

	Close() error
}

// Span is one traced unit of work
type Span interface {
	End()
	SetAttribute(key string, value interface{})
	RecordError(err error)
}

// Tracer starts spans
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}
