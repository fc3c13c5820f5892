package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DjangoSpop/promptemple-sub000/pkg/observability"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore fails its first `failures` calls, whatever the operation
type flakyStore struct {
	mu       sync.Mutex
	failures int
	calls    int
	data     map[string][]byte
}

var errUnavailable = errors.New("connection refused")

func newFlakyStore(failures int) *flakyStore {
	return &flakyStore{failures: failures, data: make(map[string][]byte)}
}

func (f *flakyStore) attempt() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return errUnavailable
	}
	return nil
}

func (f *flakyStore) Get(ctx context.Context, key string) ([]byte, time.Duration, error) {
	if err := f.attempt(); err != nil {
		return nil, 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return nil, 0, ErrMiss
	}
	return v, 0, nil
}

func (f *flakyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := f.attempt(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func (f *flakyStore) Delete(ctx context.Context, keys ...string) error {
	return f.attempt()
}

func (f *flakyStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	return nil, f.attempt()
}

func (f *flakyStore) Ping(ctx context.Context) error { return f.attempt() }

func (f *flakyStore) Close() error { return nil }

func (f *flakyStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		OpTimeout:           50 * time.Millisecond,
		MaxRetries:          2,
		InitialInterval:     time.Millisecond,
		MaxInterval:         2 * time.Millisecond,
		BreakerTimeout:      time.Minute,
		BreakerMinRequests:  3,
		BreakerFailureRatio: 0.6,
		BreakerHalfOpenMax:  1,
	}
}

func TestResilientStore_RetriesTransientFailures(t *testing.T) {
	inner := newFlakyStore(2)
	store := NewResilientStore(inner, testResilienceConfig(), observability.NewNoopLogger(), nil)

	err := store.Set(context.Background(), "k", []byte("v"), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 3, inner.callCount())
}

func TestResilientStore_MissIsNotRetriedOrCounted(t *testing.T) {
	inner := newFlakyStore(0)
	cfg := testResilienceConfig()
	cfg.BreakerMinRequests = 1
	store := NewResilientStore(inner, cfg, observability.NewNoopLogger(), nil)

	for i := 0; i < 5; i++ {
		_, _, err := store.Get(context.Background(), "absent")
		assert.ErrorIs(t, err, ErrMiss)
	}
	assert.Equal(t, 5, inner.callCount())
	assert.Equal(t, gobreaker.StateClosed, store.State())
}

func TestResilientStore_OpensCircuit(t *testing.T) {
	inner := newFlakyStore(1000)
	cfg := testResilienceConfig()
	cfg.MaxRetries = 0
	store := NewResilientStore(inner, cfg, observability.NewNoopLogger(), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := store.Get(ctx, "k")
		assert.ErrorIs(t, err, errUnavailable)
	}
	assert.Equal(t, gobreaker.StateOpen, store.State())

	calls := inner.callCount()
	_, _, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, calls, inner.callCount())
}

func TestResilientStore_OpenCircuitDegradesTieredCache(t *testing.T) {
	inner := newFlakyStore(1000)
	cfg := testResilienceConfig()
	cfg.MaxRetries = 0
	store := NewResilientStore(inner, cfg, observability.NewNoopLogger(), nil)

	c := newTestCache(t, Config{L1MaxItems: 10}, store)
	ctx := context.Background()

	var v string
	for i := 0; i < 5; i++ {
		res := c.Get(ctx, "k", &v)
		assert.False(t, res.Hit)
		assert.True(t, IsKind(res.Err, KindBackend))
	}
	assert.Equal(t, int64(5), c.Stats().Misses)
}
