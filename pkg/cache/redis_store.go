package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis-backed L2 store
type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	Database     int           `mapstructure:"database"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// RedisStore implements RemoteStore on Redis. Keys are namespaced with an
// optional prefix so several services can share a database.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	scanCount int64
}

// NewRedisStore creates a store from configuration
func NewRedisStore(cfg RedisConfig) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	return NewRedisStoreFromClient(client, cfg.KeyPrefix)
}

// NewRedisStoreFromClient wraps an existing client
func NewRedisStoreFromClient(client redis.UniversalClient, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, keyPrefix: keyPrefix, scanCount: 100}
}

func (s *RedisStore) fullKey(key string) string {
	return s.keyPrefix + key
}

// Get implements RemoteStore. The value and its PTTL are read in one
// MULTI/EXEC so the lifetime belongs to the payload returned.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, time.Duration, error) {
	full := s.fullKey(key)

	var (
		get *redis.StringCmd
		ttl *redis.DurationCmd
	)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.Get(ctx, full)
		ttl = pipe.PTTL(ctx, full)
		return nil
	})
	if get != nil && errors.Is(get.Err(), redis.Nil) {
		return nil, 0, ErrMiss
	}
	if err != nil {
		return nil, 0, err
	}

	data, err := get.Bytes()
	if err != nil {
		return nil, 0, err
	}
	// PTTL is negative for keys without expiry
	remaining := ttl.Val()
	if remaining < 0 {
		remaining = 0
	}
	return data, remaining, nil
}

// Set implements RemoteStore. A non-positive ttl stores without expiry.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return s.client.Set(ctx, s.fullKey(key), value, ttl).Err()
}

// Delete implements RemoteStore
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.fullKey(k)
	}
	return s.client.Del(ctx, full...).Err()
}

// Keys implements RemoteStore using SCAN so large keyspaces are not blocked
func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var (
		cursor uint64
		out    []string
	)
	match := s.fullKey(prefix) + "*"

	for {
		keys, next, err := s.client.Scan(ctx, cursor, match, s.scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("scan %q: %w", match, err)
		}
		for _, k := range keys {
			out = append(out, k[len(s.keyPrefix):])
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

// Ping implements RemoteStore
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements RemoteStore
func (s *RedisStore) Close() error {
	return s.client.Close()
}
