package physical

import (
	"context"
	"errors"
	"time"
)

// Entry is a single key/value pair held by a Backend. A zero ExpiresAt
// means the entry never expires.
type Entry struct {
	Key       string
	Value     []byte
	ExpiresAt time.Time
}

// Expired reports whether the entry's TTL has elapsed.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// ErrValueTooLarge is returned by backends that enforce a maximum
// value size.
var ErrValueTooLarge = errors.New("value exceeds maximum allowed size")

// Backend is the key-value persistence capability consumed by the
// session, tenant, api-key and audit stores. Implementations must be
// safe for concurrent use. Get returns (nil, nil) for absent or
// expired keys.
type Backend interface {
	Put(ctx context.Context, entry *Entry) error
	Get(ctx context.Context, key string) (*Entry, error)
	Delete(ctx context.Context, key string) error

	// List returns the keys under the given prefix, in lexicographic
	// order, excluding expired entries.
	List(ctx context.Context, prefix string) ([]string, error)
}

// PutWithTTL is a convenience wrapper that stores a value with a
// relative TTL.
func PutWithTTL(ctx context.Context, b Backend, key string, value []byte, ttl time.Duration) error {
	entry := &Entry{Key: key, Value: value}
	if ttl > 0 {
		entry.ExpiresAt = time.Now().Add(ttl)
	}
	return b.Put(ctx, entry)
}
