package metadata

import (
	"context"
	"encoding/json"
	"io"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/matzehuels/symgraph/pkg/cache"
	"github.com/matzehuels/symgraph/pkg/errors"
	"github.com/matzehuels/symgraph/pkg/pkgkey"
)

// Router dispatches lookups to the resolver registered for a key's
// ecosystem. Latest-version answers are cached in the configured backend and
// concurrent lookups of the same name share one upstream request. Resolved
// metadata of a version can be cached as well, see [Router.WithMetadataCache].
// Router is safe for concurrent use.
type Router struct {
	mu        sync.RWMutex
	resolvers map[string]Resolver

	latest   cache.Cache
	versions cache.Cache
	flight   singleflight.Group
	keyer  cache.Keyer
	ttl    time.Duration
	logger *log.Logger
}

// NewRouter creates a Router. A nil latest cache disables caching.
func NewRouter(latest cache.Cache, resolvers ...Resolver) *Router {
	if latest == nil {
		latest = cache.NewNullCache()
	}
	r := &Router{
		resolvers: make(map[string]Resolver),
		latest:    latest,
		versions:  cache.NewNullCache(),
		keyer:     cache.NewDefaultKeyer(),
		ttl:       cache.TTLLatest,
		logger:    log.NewWithOptions(io.Discard, log.Options{}),
	}
	for _, res := range resolvers {
		r.Register(res)
	}
	return r
}

// WithLogger sets the logger used for cache diagnostics.
func (r *Router) WithLogger(l *log.Logger) *Router {
	if l != nil {
		r.logger = l
	}
	return r
}

// WithMetadataCache caches resolved metadata per version in c for
// [cache.TTLHTTP]. A nil c disables it.
func (r *Router) WithMetadataCache(c cache.Cache) *Router {
	if c == nil {
		c = cache.NewNullCache()
	}
	r.versions = c
	return r
}

// WithKeyer overrides how cache keys are built.
func (r *Router) WithKeyer(k cache.Keyer) *Router {
	if k != nil {
		r.keyer = k
	}
	return r
}

// Register adds or replaces the resolver for res.Ecosystem().
func (r *Router) Register(res Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvers[res.Ecosystem()] = res
}

// Ecosystems returns the registered ecosystems, sorted.
func (r *Router) Ecosystems() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.resolvers))
}

// Resolve returns metadata for key.
func (r *Router) Resolve(ctx context.Context, key pkgkey.Key) (*Metadata, error) {
	res, err := r.resolver(key.Ecosystem)
	if err != nil {
		return nil, err
	}

	ck := r.keyer.MetadataKey(key.Ecosystem, key.Name, key.Version)
	if data, ok, _ := r.versions.Get(ctx, ck); ok {
		var md Metadata
		if err := json.Unmarshal(data, &md); err == nil {
			return &md, nil
		}
		r.logger.Debug("dropping undecodable metadata entry", "key", ck)
	}

	md, err := res.Resolve(ctx, key)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(md); err == nil {
		if err := r.versions.Set(ctx, ck, data, cache.TTLHTTP); err != nil {
			r.logger.Debug("metadata cache write failed", "key", ck, "error", err)
		}
	}
	return md, nil
}

// LatestVersion returns the newest version of ecosystem:name.
func (r *Router) LatestVersion(ctx context.Context, ecosystem, name string) (string, error) {
	res, err := r.resolver(ecosystem)
	if err != nil {
		return "", err
	}

	key := r.keyer.LatestKey(ecosystem, name)
	if data, ok, err := r.latest.Get(ctx, key); err != nil {
		r.logger.Debug("latest cache read failed", "key", key, "error", err)
	} else if ok {
		return string(data), nil
	}

	v, err, shared := r.flight.Do(key, func() (any, error) {
		v, err := res.LatestVersion(ctx, name)
		if err != nil {
			return "", err
		}
		if err := r.latest.Set(ctx, key, []byte(v), r.ttl); err != nil {
			r.logger.Debug("latest cache write failed", "key", key, "error", err)
		}
		return v, nil
	})
	if shared {
		r.logger.Debug("latest lookup shared", "key", key)
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// IsStandardLibrary reports whether ecosystem:name is a built-in package.
func (r *Router) IsStandardLibrary(ecosystem, name string) bool {
	return IsStandardLibrary(ecosystem, name)
}

func (r *Router) resolver(ecosystem string) (Resolver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.resolvers[ecosystem]
	if !ok {
		return nil, errors.New(errors.ErrCodeEcosystemNotFound, "unsupported ecosystem %q (available: %v)",
			ecosystem, slices.Sorted(maps.Keys(r.resolvers)))
	}
	return res, nil
}
