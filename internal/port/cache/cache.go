// Package cache defines the port interface for caching shared project metadata.
package cache

import (
	"context"
	"time"
)

// Cache is a first-writer-wins key-value cache.
type Cache interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// AddIfAbsent stores value unless key already holds one. It returns the
	// value that is stored afterwards: value itself, or the earlier writer's.
	AddIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) ([]byte, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
