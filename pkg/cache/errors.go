package cache

import (
	"errors"
	"fmt"
)

// Kind classifies cache failures
type Kind int

const (
	// KindBackend covers timeouts, unreachable stores and open circuits
	KindBackend Kind = iota + 1
	// KindSerialization covers payloads that cannot be encoded or decoded
	KindSerialization
)

func (k Kind) String() string {
	switch k {
	case KindBackend:
		return "backend"
	case KindSerialization:
		return "serialization"
	default:
		return "unknown"
	}
}

// Error is a typed cache failure
type Error struct {
	Kind Kind
	Op   string
	Key  string
	Tier Tier
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("cache %s error during %s of %q on %s: %v", e.Kind, e.Op, e.Key, e.Tier, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a cache Error of kind k
func IsKind(err error, k Kind) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == k
}

func backendError(op, key string, tier Tier, err error) *Error {
	return &Error{Kind: KindBackend, Op: op, Key: key, Tier: tier, Err: err}
}

func serializationError(op, key string, tier Tier, err error) *Error {
	return &Error{Kind: KindSerialization, Op: op, Key: key, Tier: tier, Err: err}
}
