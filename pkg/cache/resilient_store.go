package cache

import (
	"context"
	"errors"
	"time"

	"github.com/DjangoSpop/promptemple-sub000/pkg/observability"
	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// ResilienceConfig tunes retries and the circuit breaker around L2 calls
type ResilienceConfig struct {
	OpTimeout           time.Duration `mapstructure:"op_timeout"`
	MaxRetries          uint64        `mapstructure:"max_retries"`
	InitialInterval     time.Duration `mapstructure:"initial_interval"`
	MaxInterval         time.Duration `mapstructure:"max_interval"`
	BreakerTimeout      time.Duration `mapstructure:"breaker_timeout"`
	BreakerMinRequests  uint32        `mapstructure:"breaker_min_requests"`
	BreakerFailureRatio float64       `mapstructure:"breaker_failure_ratio"`
	BreakerHalfOpenMax  uint32        `mapstructure:"breaker_half_open_max"`
}

// DefaultResilienceConfig keeps L2 calls well inside the request latency budget
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		OpTimeout:           50 * time.Millisecond,
		MaxRetries:          2,
		InitialInterval:     5 * time.Millisecond,
		MaxInterval:         20 * time.Millisecond,
		BreakerTimeout:      30 * time.Second,
		BreakerMinRequests:  10,
		BreakerFailureRatio: 0.6,
		BreakerHalfOpenMax:  5,
	}
}

// ResilientStore wraps a RemoteStore with per-call timeouts, bounded retries
// and a circuit breaker. An open breaker fails fast with gobreaker.ErrOpenState.
type ResilientStore struct {
	store   RemoteStore
	breaker *gobreaker.CircuitBreaker
	config  ResilienceConfig
	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewResilientStore creates a resilient wrapper around store
func NewResilientStore(store RemoteStore, config ResilienceConfig, logger observability.Logger, metrics observability.MetricsClient) *ResilientStore {
	if logger == nil {
		logger = observability.NewLogger("cache.l2")
	}
	if metrics == nil {
		metrics = observability.NewNoOpMetricsClient()
	}

	defaults := DefaultResilienceConfig()
	if config.OpTimeout <= 0 {
		config.OpTimeout = defaults.OpTimeout
	}
	if config.InitialInterval <= 0 {
		config.InitialInterval = defaults.InitialInterval
	}
	if config.MaxInterval <= 0 {
		config.MaxInterval = defaults.MaxInterval
	}
	if config.BreakerTimeout <= 0 {
		config.BreakerTimeout = defaults.BreakerTimeout
	}
	if config.BreakerMinRequests == 0 {
		config.BreakerMinRequests = defaults.BreakerMinRequests
	}
	if config.BreakerFailureRatio <= 0 {
		config.BreakerFailureRatio = defaults.BreakerFailureRatio
	}
	if config.BreakerHalfOpenMax == 0 {
		config.BreakerHalfOpenMax = defaults.BreakerHalfOpenMax
	}

	s := &ResilientStore{
		store:   store,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}

	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "cache-l2",
		MaxRequests: config.BreakerHalfOpenMax,
		Timeout:     config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= config.BreakerMinRequests && failureRatio >= config.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrMiss)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed", map[string]interface{}{
				"name": name,
				"from": from.String(),
				"to":   to.String(),
			})
			metrics.RecordGauge("cache_l2_breaker_state", float64(to), map[string]string{"name": name})
		},
	})

	return s
}

// State exposes the breaker state for health reporting
func (s *ResilientStore) State() gobreaker.State {
	return s.breaker.State()
}

func (s *ResilientStore) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.config.InitialInterval
	b.MaxInterval = s.config.MaxInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, s.config.MaxRetries), ctx)
}

// execute runs fn under the breaker with retries. ErrMiss is never retried.
func (s *ResilientStore) execute(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, backoff.Retry(func() error {
			opCtx, cancel := context.WithTimeout(ctx, s.config.OpTimeout)
			defer cancel()

			err := fn(opCtx)
			if errors.Is(err, ErrMiss) || errors.Is(err, context.Canceled) {
				return backoff.Permanent(err)
			}
			return err
		}, s.newBackOff(ctx))
	})

	if err != nil && !errors.Is(err, ErrMiss) {
		s.metrics.RecordCounter("cache_l2_failures_total", 1, map[string]string{"operation": op})
	}
	return err
}

// Get implements RemoteStore
func (s *ResilientStore) Get(ctx context.Context, key string) ([]byte, time.Duration, error) {
	var (
		data []byte
		ttl  time.Duration
	)
	err := s.execute(ctx, "get", func(ctx context.Context) error {
		v, remaining, err := s.store.Get(ctx, key)
		if err != nil {
			return err
		}
		data, ttl = v, remaining
		return nil
	})
	return data, ttl, err
}

// Set implements RemoteStore
func (s *ResilientStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.execute(ctx, "set", func(ctx context.Context) error {
		return s.store.Set(ctx, key, value, ttl)
	})
}

// Delete implements RemoteStore
func (s *ResilientStore) Delete(ctx context.Context, keys ...string) error {
	return s.execute(ctx, "delete", func(ctx context.Context) error {
		return s.store.Delete(ctx, keys...)
	})
}

// Keys implements RemoteStore. Scans are not retried.
func (s *ResilientStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	result, err := s.breaker.Execute(func() (interface{}, error) {
		return s.store.Keys(ctx, prefix)
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

// Ping implements RemoteStore, bypassing the breaker so health checks see the real backend
func (s *ResilientStore) Ping(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, s.config.OpTimeout*4)
	defer cancel()
	return s.store.Ping(opCtx)
}

// Close implements RemoteStore
func (s *ResilientStore) Close() error {
	return s.store.Close()
}
