// Package cache provides byte-oriented caching for registry responses and
// resolved package metadata.
//
// Backends:
//   - [NewNullCache]: caching disabled
//   - [FileCache]: file-per-entry cache for CLI usage
//   - [LRUCache]: bounded in-process cache for a single server
//   - [RedisCache]: shared cache for multi-instance deployments
//
// Keys are produced by a [Keyer] so that every component namespaces its
// entries the same way.
package cache

import (
	"context"
	"time"
)

// Default TTLs for cached entries.
const (
	// TTLHTTP bounds how long raw registry responses are reused.
	TTLHTTP = 24 * time.Hour

	// TTLLatest bounds how long a "latest version" lookup is trusted.
	// Shorter than TTLHTTP since new releases should show up the same day.
	TTLLatest = time.Hour
)

// Cache stores opaque byte values with an optional TTL.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the value for key. A missing or expired entry is a miss
	// (hit=false) and not an error.
	Get(ctx context.Context, key string) (data []byte, hit bool, err error)

	// Set stores data under key. A zero ttl means no expiration.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}
