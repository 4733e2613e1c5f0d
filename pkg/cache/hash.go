package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// hashKey generates a cache key by hashing the components.
// The key format is: prefix:hash(parts...)
func hashKey(prefix string, parts ...interface{}) string {
	data, _ := json.Marshal(parts)
	hash := sha256.Sum256(data)
	// Use full SHA-256 hash (64 hex chars / 256 bits) to prevent collisions
	return fmt.Sprintf("%s:%s", prefix, hex.EncodeToString(hash[:]))
}

// Hash computes a SHA-256 hash of the input data.
// Returns the full 64-character hex string.
func Hash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// Keyer generates cache keys for each kind of cached entry.
type Keyer interface {
	// HTTPKey generates a key for a raw registry HTTP response.
	HTTPKey(namespace, key string) string

	// LatestKey generates a key for a latest-version lookup.
	LatestKey(ecosystem, name string) string

	// MetadataKey generates a key for resolved metadata of one version.
	MetadataKey(ecosystem, name, version string) string
}

// DefaultKeyer produces unscoped keys.
type DefaultKeyer struct{}

// NewDefaultKeyer creates the default keyer.
func NewDefaultKeyer() Keyer { return DefaultKeyer{} }

// HTTPKey generates a key for HTTP response caching.
func (DefaultKeyer) HTTPKey(namespace, key string) string {
	return "http:" + namespace + ":" + key
}

// LatestKey generates a key for latest-version caching.
func (DefaultKeyer) LatestKey(ecosystem, name string) string {
	return "latest:" + ecosystem + ":" + name
}

// MetadataKey generates a hashed key for per-version metadata.
func (DefaultKeyer) MetadataKey(ecosystem, name, version string) string {
	return hashKey("meta", ecosystem, name, version)
}
