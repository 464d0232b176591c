package lease

import (
	"context"
	"errors"
	"time"
)

// ErrNoKey is returned by Store.TTL when the key does not exist or has
// expired.
var ErrNoKey = errors.New("lease key not found")

// NoExpiry is returned by Store.TTL for a key that exists without a TTL.
const NoExpiry time.Duration = -1

// Store is the shared coordination store leases live in.
type Store interface {
	// SetIfAbsent atomically creates key with value and ttl unless it
	// already exists. It reports whether the key was created.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// TTL returns the remaining lifetime of key.
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Expire sets a new lifetime for an existing key. It reports false if
	// the key no longer exists.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Delete removes key unconditionally.
	Delete(ctx context.Context, key string) error
	Close() error
}
