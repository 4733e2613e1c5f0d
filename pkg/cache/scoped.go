package cache

// ScopedKeyer wraps a Keyer with a prefix for deployment isolation.
// This is useful when several environments share one Redis instance.
//
// Example usage:
//
//	stagingKeyer := NewScopedKeyer(NewDefaultKeyer(), "staging:")
type ScopedKeyer struct {
	inner  Keyer
	prefix string
}

// NewScopedKeyer creates a keyer with a prefix.
// The prefix is prepended to all generated keys.
func NewScopedKeyer(inner Keyer, prefix string) Keyer {
	if inner == nil {
		inner = NewDefaultKeyer()
	}
	return &ScopedKeyer{
		inner:  inner,
		prefix: prefix,
	}
}

// HTTPKey generates a prefixed key for HTTP response caching.
func (k *ScopedKeyer) HTTPKey(namespace, key string) string {
	return k.prefix + k.inner.HTTPKey(namespace, key)
}

// LatestKey generates a prefixed key for latest-version caching.
func (k *ScopedKeyer) LatestKey(ecosystem, name string) string {
	return k.prefix + k.inner.LatestKey(ecosystem, name)
}

// MetadataKey generates a prefixed key for per-version metadata.
func (k *ScopedKeyer) MetadataKey(ecosystem, name, version string) string {
	return k.prefix + k.inner.MetadataKey(ecosystem, name, version)
}
