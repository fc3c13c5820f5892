// Package cache provides a two-tier cache: a bounded process-local LRU (L1)
// in front of a shared remote store (L2). Backend failures never surface as
// errors from reads; they degrade to misses and are reported in Result.Err.
package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Tier identifies one or more cache tiers
type Tier uint8

const (
	// TierL1 is the process-local LRU
	TierL1 Tier = 1 << iota
	// TierL2 is the shared remote store
	TierL2

	// TierNone marks a miss
	TierNone Tier = 0
	// AllTiers writes to both tiers
	AllTiers = TierL1 | TierL2
)

// Has reports whether t includes other
func (t Tier) Has(other Tier) bool {
	return t&other != 0
}

func (t Tier) String() string {
	switch t {
	case TierNone:
		return "none"
	case TierL1:
		return "l1"
	case TierL2:
		return "l2"
	case AllTiers:
		return "all"
	default:
		return "unknown"
	}
}

// ParseTiers converts names such as "l1", "l2" or "all" into a Tier mask
func ParseTiers(names ...string) Tier {
	var t Tier
	for _, n := range names {
		switch strings.ToLower(strings.TrimSpace(n)) {
		case "l1", "local", "memory":
			t |= TierL1
		case "l2", "redis", "remote":
			t |= TierL2
		case "all", "default":
			t |= AllTiers
		}
	}
	return t
}

// Result describes the outcome of a Get
type Result struct {
	Hit  bool
	Tier Tier
	// Err is set when a tier failed or held a corrupt payload. The lookup
	// still reports a miss in that case.
	Err error
}

// ErrMiss is returned by a RemoteStore when a key is absent
var ErrMiss = errors.New("cache: key not found")

// RemoteStore is the shared L2 backend
type RemoteStore interface {
	// Get returns the payload and its remaining lifetime. A zero lifetime
	// means the entry does not expire.
	Get(ctx context.Context, key string) ([]byte, time.Duration, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// Stats is a point-in-time snapshot of cache counters
type Stats struct {
	Requests          int64   `json:"requests"`
	L1Hits            int64   `json:"l1_hits"`
	L2Hits            int64   `json:"l2_hits"`
	Misses            int64   `json:"misses"`
	Evictions         int64   `json:"evictions"`
	Errors            int64   `json:"errors"`
	HitRate           float64 `json:"hit_rate"`
	L1Items           int     `json:"l1_items"`
	L1MaxItems        int     `json:"l1_max_items"`
	MemoryUtilization float64 `json:"memory_utilization"`
	L2Available       bool    `json:"l2_available"`
}
