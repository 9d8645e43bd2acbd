// Package store provides the shared key-value store used by the guard,
// health, and ledger components. Isolation between components is purely
// by key prefix (rate:*, banned:*, health:*, audit:*).
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("store: key not found")

// Store is the durable key-value dependency. A ttl of zero means the
// key does not expire.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Incr atomically increments a counter, creating it with the given
	// ttl if absent and resetting it to 1 when its window has lapsed.
	// It returns the post-increment value.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	// TTL returns the remaining lifetime of a key, zero for keys
	// without expiry, and ErrNotFound for missing keys.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// AddToSet adds a member to a set, refreshing the set ttl.
	AddToSet(ctx context.Context, key, member string, ttl time.Duration) error
	SetSize(ctx context.Context, key string) (int64, error)
	SetMembers(ctx context.Context, key string) ([]string, error)

	// DeleteExpired removes lapsed keys under the prefix (empty prefix
	// sweeps everything) and returns the number removed.
	DeleteExpired(ctx context.Context, prefix string) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// Clock abstracts time for window and ttl arithmetic in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }
