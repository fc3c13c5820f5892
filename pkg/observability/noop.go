package observability

import (
	"context"
	"time"
)

// NoopLogger discards everything
type NoopLogger struct{}

// NewNoopLogger returns a logger for tests and for callers that opt out
func NewNoopLogger() Logger {
	return NoopLogger{}
}

func (NoopLogger) Debug(string, map[string]interface{}) {}
func (NoopLogger) Info(string, map[string]interface{})  {}
func (NoopLogger) Warn(string, map[string]interface{})  {}
func (NoopLogger) Error(string, map[string]interface{}) {}
func (NoopLogger) Fatal(string, map[string]interface{}) {}

func (l NoopLogger) WithPrefix(string) Logger           { return l }
func (l NoopLogger) With(map[string]interface{}) Logger { return l }

type noOpMetricsClient struct{}

// NewNoOpMetricsClient is the default MetricsClient when none is configured
func NewNoOpMetricsClient() MetricsClient {
	return noOpMetricsClient{}
}

func (noOpMetricsClient) RecordCounter(string, float64, map[string]string)   {}
func (noOpMetricsClient) RecordGauge(string, float64, map[string]string)     {}
func (noOpMetricsClient) RecordHistogram(string, float64, map[string]string) {}
func (noOpMetricsClient) RecordCacheOperation(string, bool, time.Duration)   {}
func (noOpMetricsClient) RecordLatency(string, time.Duration)                {}
func (noOpMetricsClient) Close() error                                       { return nil }

type noopSpan struct{}

func (noopSpan) End()                             {}
func (noopSpan) SetAttribute(string, interface{}) {}
func (noopSpan) RecordError(error)                {}

// NoopTracer starts spans that record nothing
type NoopTracer struct{}

// StartSpan returns ctx unchanged
func (NoopTracer) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, noopSpan{}
}
