package cli

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/symgraph/internal/config"
	"github.com/matzehuels/symgraph/pkg/cache"
	"github.com/matzehuels/symgraph/pkg/integrations"
	"github.com/matzehuels/symgraph/pkg/integrations/crates"
	"github.com/matzehuels/symgraph/pkg/integrations/github"
	"github.com/matzehuels/symgraph/pkg/integrations/npm"
	"github.com/matzehuels/symgraph/pkg/metadata"
	"github.com/matzehuels/symgraph/pkg/observability"
	"github.com/matzehuels/symgraph/pkg/parser"
	"github.com/matzehuels/symgraph/pkg/pipeline"
	"github.com/matzehuels/symgraph/pkg/registry"
	"github.com/matzehuels/symgraph/pkg/source"
	"github.com/matzehuels/symgraph/pkg/storage"
)

// =============================================================================
// App - wired process components
// =============================================================================

// app bundles everything a symgraph process runs: registry, store, caches,
// upstream clients and the orchestrator.
type app struct {
	cfg      config.Config
	registry *registry.Registry
	store    storage.Store
	cache    cache.Cache
	journal  pipeline.Journal
	pipeline *pipeline.Orchestrator
	metrics  *observability.Prometheus
}

// newApp wires a process from cfg. The caller must Close it.
func (c *CLI) newApp(ctx context.Context, cfg config.Config, noCache bool) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.cache, err = newCache(ctx, cfg, noCache); err != nil {
		return nil, err
	}
	if a.store, err = storage.Open(ctx, cfg.Storage); err != nil {
		return nil, err
	}
	if a.journal, err = newJournal(ctx, cfg); err != nil {
		return nil, err
	}

	latest, err := cache.NewLRUCache(max(cfg.Cache.LRUSize, 1))
	if err != nil {
		return nil, err
	}
	ttl := cfg.Cache.TTL
	keyer := cacheKeyer(cfg.Cache)
	cratesClient := crates.NewClient(a.cache, ttl)
	cratesClient.SetKeyer(keyer)
	npmClient := npm.NewClient(a.cache, ttl)
	npmClient.SetKeyer(keyer)
	router := metadata.NewRouter(latest,
		metadata.NewCrates(cratesClient),
		metadata.NewNPM(npmClient),
	).WithLogger(c.Logger).WithKeyer(keyer).WithMetadataCache(a.cache)

	gh := github.NewClient(a.cache, cfg.GitHub.Token, ttl)
	gh.SetKeyer(keyer)
	sources := []source.Provider{
		source.NewRepoProvider(gh, source.TierMain, source.TagRefs),
		source.NewRepoProvider(gh, source.TierFallback, source.HeadRefs),
	}

	a.metrics = observability.NewPrometheus()
	a.metrics.Install()

	a.registry = registry.New(registry.Options{
		Shards:    cfg.Registry.Shards,
		StreamTTL: cfg.Registry.StreamTTL,
		Logger:    c.Logger,
	})
	a.pipeline = pipeline.New(pipeline.Config{
		Registry:          a.registry,
		Store:             a.store,
		Metadata:          router,
		Parsers:           parser.Default(),
		Downloader:        integrations.NewClient(nil, "artifacts", 0, nil),
		Sources:           sources,
		Policy:            sourcePolicy(cfg.Source),
		Journal:           a.journal,
		LatestConcurrency: cfg.Pipeline.LatestConcurrency,
		FanoutConcurrency: cfg.Pipeline.FanoutConcurrency,
		MaxBytes:          cfg.Pipeline.MaxBytes,
		Workers:           cfg.Pipeline.Workers,
		QueueSize:         cfg.Pipeline.QueueSize,
		Logger:            c.Logger,
	})
	return a, nil
}

// Close releases every component. Safe on a partially built app.
func (a *app) Close() error {
	var errs []error
	if a.pipeline != nil {
		errs = append(errs, a.pipeline.Close())
	}
	if a.registry != nil {
		errs = append(errs, a.registry.Close())
	}
	if a.journal != nil {
		errs = append(errs, a.journal.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	observability.Reset()
	return errors.Join(errs...)
}

func newCache(ctx context.Context, cfg config.Config, noCache bool) (cache.Cache, error) {
	if noCache {
		return cache.NewNullCache(), nil
	}
	switch cfg.Cache.Backend {
	case config.CacheNone:
		return cache.NewNullCache(), nil
	case config.CacheLRU:
		return cache.NewLRUCache(max(cfg.Cache.LRUSize, 1))
	case config.CacheRedis:
		return cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
	default:
		dir, err := cfg.CacheDir()
		if err != nil {
			return cache.NewNullCache(), nil
		}
		return cache.NewFileCache(dir)
	}
}

// cacheKeyer scopes cache keys by the configured prefix.
func cacheKeyer(cc config.CacheConfig) cache.Keyer {
	if cc.Prefix == "" {
		return cache.NewDefaultKeyer()
	}
	return cache.NewScopedKeyer(nil, cc.Prefix)
}

func newJournal(ctx context.Context, cfg config.Config) (pipeline.Journal, error) {
	if cfg.Journal.Path == "" {
		return pipeline.NewMemoryJournal(), nil
	}
	return pipeline.OpenSQLiteJournal(ctx, cfg.Journal.Path)
}

func sourcePolicy(sc config.SourceConfig) source.Policy {
	return source.Policy{
		MainRetries:     sc.MainRetries,
		FallbackRetries: sc.FallbackRetries,
		RetryDelay:      sc.RetryDelay,
		RaceFallbacks:   !sc.DisableRacing,
		RaceAfter:       sc.RaceAfter,
	}
}

// logStartup prints where the process keeps its state.
func (a *app) logStartup(logger *log.Logger) {
	backend := a.cfg.Storage.Backend
	if backend == "" {
		backend = storage.BackendMemory
	}
	journal := a.cfg.Journal.Path
	if journal == "" {
		journal = "memory"
	}
	logger.Info("components ready", "storage", backend, "cache", a.cfg.Cache.Backend, "journal", journal)
}
