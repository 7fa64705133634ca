// Package cache provides the two-tier cache used by the catalog gateway:
// a bounded in-process tier with TTL expiry in front of an optional
// durable document-store tier shared across service instances.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by a DurableStore when a key is absent or its
// entry has outlived the store's TTL.
var ErrNotFound = errors.New("cache: key not found")

// DurableStore is the narrow contract for the durable (L2) tier. Values
// are persisted as independent serialized copies; implementations must
// treat an expired entry as absent.
type DurableStore[V any] interface {
	// Get retrieves the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (V, error)
	// Set persists value under key for at most ttl.
	Set(ctx context.Context, key string, value V, ttl time.Duration) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	Close() error
}
