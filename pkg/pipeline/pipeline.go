package pipeline

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/matzehuels/symgraph/pkg/cache"
	"github.com/matzehuels/symgraph/pkg/errors"
	"github.com/matzehuels/symgraph/pkg/graph"
	"github.com/matzehuels/symgraph/pkg/metadata"
	"github.com/matzehuels/symgraph/pkg/observability"
	"github.com/matzehuels/symgraph/pkg/parser"
	"github.com/matzehuels/symgraph/pkg/pkgkey"
	"github.com/matzehuels/symgraph/pkg/registry"
	"github.com/matzehuels/symgraph/pkg/source"
	"github.com/matzehuels/symgraph/pkg/storage"
)

// =============================================================================
// Default Values
// =============================================================================

const (
	// DefaultLatestConcurrency bounds concurrent latest-version lookups.
	DefaultLatestConcurrency = 6

	// DefaultFanoutConcurrency bounds concurrent fan-out enqueue calls.
	DefaultFanoutConcurrency = 4

	// DefaultRetryDelay is the first backoff delay; it doubles per attempt.
	DefaultRetryDelay = time.Second

	// DefaultWorkers is the number of queue workers.
	DefaultWorkers = 4

	// DefaultQueueSize is the number of pending keys the queue holds.
	DefaultQueueSize = 256
)

// Attempts per step.
const (
	resolveAttempts = 3
	fetchAttempts   = 2
	indexAttempts   = 3
	storeAttempts   = 1
)

// Step names recorded in the journal.
const (
	StepCheckExisting      = "check-existing"
	StepSetResolving       = "set-status-resolving"
	StepResolveMetadata    = "resolve-metadata"
	StepSetFetching        = "set-status-fetching"
	StepFetchParseStore    = "fetch-parse-store"
	StepSetIndexing        = "set-status-indexing"
	StepIndexCrossEdges    = "index-cross-edges"
	StepFanoutDependencies = "fanout-dependencies"
	StepSetReady           = "set-status-ready"
)

// =============================================================================
// Collaborators
// =============================================================================

// Registry is the subset of [registry.Registry] the pipeline writes to.
type Registry interface {
	SetStatus(ctx context.Context, key pkgkey.Key, rec registry.Record) error
	GetStatus(ctx context.Context, key pkgkey.Key) (registry.Record, error)
	MarkProcessingIfUnknown(ctx context.Context, key pkgkey.Key, step string) (bool, error)
	ReplaceCrossEdges(ctx context.Context, key pkgkey.Key, attempt string, edges []graph.CrossEdge, nodes []graph.NodeStub) (bool, error)
}

// Metadata resolves packages and latest versions. [metadata.Router]
// implements it.
type Metadata interface {
	Resolve(ctx context.Context, key pkgkey.Key) (*metadata.Metadata, error)
	LatestVersion(ctx context.Context, ecosystem, name string) (string, error)
	IsStandardLibrary(ecosystem, name string) bool
}

// Downloader fetches package archives. [integrations.Client] implements it.
type Downloader interface {
	Download(ctx context.Context, url string, maxBytes int64) ([]byte, error)
}

// Enqueuer schedules a pipeline run for key.
type Enqueuer interface {
	Enqueue(ctx context.Context, key pkgkey.Key) error
}

// Config wires an [Orchestrator]. Registry, Store, Metadata, Parsers and
// Downloader are required.
type Config struct {
	Registry   Registry
	Store      storage.Store
	Metadata   Metadata
	Parsers    *parser.Registry
	Downloader Downloader

	// Sources are tried for extra source files; empty disables acquisition.
	Sources []source.Provider
	Policy  source.Policy

	// Journal defaults to a MemoryJournal.
	Journal Journal

	// Enqueuer receives fan-out work. Defaults to the orchestrator's own
	// queue.
	Enqueuer Enqueuer

	LatestConcurrency int
	FanoutConcurrency int
	RetryDelay        time.Duration
	MaxBytes          int64
	Workers           int
	QueueSize         int

	Logger *log.Logger
}

func (c *Config) setDefaults() {
	if c.Journal == nil {
		c.Journal = NewMemoryJournal()
	}
	if c.Parsers == nil {
		c.Parsers = parser.Default()
	}
	if c.Policy == (source.Policy{}) {
		c.Policy = source.DefaultPolicy()
	}
	if c.LatestConcurrency <= 0 {
		c.LatestConcurrency = DefaultLatestConcurrency
	}
	if c.FanoutConcurrency <= 0 {
		c.FanoutConcurrency = DefaultFanoutConcurrency
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = source.DefaultMaxBytes
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Logger == nil {
		c.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator runs pipelines. It is safe for concurrent use; concurrent
// runs for the same key share one execution.
type Orchestrator struct {
	cfg      Config
	logger   *log.Logger
	acquirer *source.Acquirer
	queue    *Queue
	flight   singleflight.Group
}

// New creates an orchestrator. Call Start before Trigger.
func New(cfg Config) *Orchestrator {
	cfg.setDefaults()
	o := &Orchestrator{
		cfg:      cfg,
		logger:   cfg.Logger,
		acquirer: source.NewAcquirer(cfg.Policy, cfg.Logger),
	}
	o.queue = NewQueue(cfg.Workers, cfg.QueueSize, func(ctx context.Context, key pkgkey.Key) {
		if _, err := o.Run(ctx, key); err != nil {
			o.logger.Warn("pipeline failed", "key", key, "error", err)
		}
	}, cfg.Logger)
	o.queue.OnDrop(o.release)
	if o.cfg.Enqueuer == nil {
		o.cfg.Enqueuer = o.queue
	}
	return o
}

// Start launches the queue workers. They stop when ctx is cancelled or
// Close is called.
func (o *Orchestrator) Start(ctx context.Context) {
	o.queue.Start(ctx)
}

// Close stops the workers and waits for in-flight runs.
func (o *Orchestrator) Close() error {
	o.queue.Close()
	return nil
}

// release returns a key that was queued but never run to unknown, so a
// later trigger or fan-out schedules it again.
func (o *Orchestrator) release(key pkgkey.Key) {
	ctx := context.Background()
	rec, err := o.cfg.Registry.GetStatus(ctx, key)
	if err != nil || rec.Status != registry.StatusProcessing || rec.Step != registry.StepQueued {
		return
	}
	if err := o.cfg.Registry.SetStatus(ctx, key, registry.Record{Status: registry.StatusUnknown}); err != nil {
		o.logger.Warn("could not release queued key", "key", key, "error", err)
		return
	}
	o.logger.Debug("released queued key", "key", key)
}

// Trigger schedules a run for key and returns the record current at the
// time of the call. A key that is already ready, or already queued or
// running, is not scheduled again.
func (o *Orchestrator) Trigger(ctx context.Context, key pkgkey.Key) (registry.Record, error) {
	if err := key.Validate(); err != nil {
		return registry.Record{}, err
	}
	rec, err := o.cfg.Registry.GetStatus(ctx, key)
	if err != nil {
		return registry.Record{}, err
	}
	if rec.Status == registry.StatusReady {
		return rec, nil
	}
	if err := o.queue.Enqueue(ctx, key); err != nil {
		return rec, err
	}
	return rec, nil
}

// Run executes the pipeline for key synchronously and returns the final
// record. A failed run returns the failed record together with the error.
func (o *Orchestrator) Run(ctx context.Context, key pkgkey.Key) (registry.Record, error) {
	if err := key.Validate(); err != nil {
		return registry.Record{}, err
	}
	v, err, _ := o.flight.Do(key.String(), func() (any, error) {
		return o.run(ctx, key)
	})
	rec, _ := v.(registry.Record)
	return rec, err
}

// run holds the state of one attempt.
type run struct {
	key     pkgkey.Key
	attempt string
	done    map[string][]byte
}

func (o *Orchestrator) run(ctx context.Context, key pkgkey.Key) (registry.Record, error) {
	start := time.Now()
	attempt, resumed, err := o.cfg.Journal.Begin(ctx, key)
	if err != nil {
		return registry.Record{}, errors.Wrap(errors.ErrCodeInternal, err, "begin attempt")
	}
	done, err := o.cfg.Journal.Completed(ctx, key, attempt)
	if err != nil {
		return registry.Record{}, errors.Wrap(errors.ErrCodeInternal, err, "load journal")
	}
	r := &run{key: key, attempt: attempt, done: done}

	logger := o.logger.With("key", key, "attempt", attempt)
	if resumed {
		logger.Info("resuming attempt", "completed", len(done))
	}

	rec, err := o.execute(ctx, r, logger)
	if err != nil {
		rec = o.fail(ctx, r, err, logger)
	}
	if ferr := o.cfg.Journal.Finish(context.WithoutCancel(ctx), key, attempt, string(rec.Status)); ferr != nil {
		logger.Warn("could not finish journal attempt", "error", ferr)
	}
	observability.Pipeline().OnRunComplete(ctx, key.String(), string(rec.Status), time.Since(start))
	logger.Info("pipeline finished", "status", rec.Status, "duration", time.Since(start))
	return rec, err
}

// fail marks the package failed. The status write ignores cancellation so a
// cancelled run still leaves a terminal record.
func (o *Orchestrator) fail(ctx context.Context, r *run, err error, logger *log.Logger) registry.Record {
	rec := registry.Failed(err)
	if serr := o.cfg.Registry.SetStatus(context.WithoutCancel(ctx), r.key, rec); serr != nil {
		logger.Error("could not record failure", "error", serr)
	}
	logger.Error("pipeline failed", "error", err, "action", rec.Action)
	return rec
}

// step runs fn once per attempt. A step already recorded in the journal
// returns its recorded output without running. Any failure that is not
// terminal is retried up to attempts times with exponential backoff.
func (o *Orchestrator) step(ctx context.Context, r *run, name string, attempts int, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if out, ok := r.done[name]; ok {
		o.logger.Debug("skipping completed step", "key", r.key, "step", name)
		return out, nil
	}

	hooks := observability.Pipeline()
	hooks.OnStepStart(ctx, name, r.key.String())
	start := time.Now()

	var out []byte
	err := cache.Retry(ctx, attempts, o.cfg.RetryDelay, func() error {
		var err error
		out, err = fn(ctx)
		if err != nil && !errors.IsTerminal(err) && !cache.IsRetryable(err) && ctx.Err() == nil {
			return cache.Retryable(err)
		}
		return err
	})
	err = unwrapRetryable(err)
	hooks.OnStepComplete(ctx, name, r.key.String(), time.Since(start), err)
	if err != nil {
		return nil, err
	}

	if err := o.cfg.Journal.MarkDone(ctx, r.key, r.attempt, name, out); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "record step %s", name)
	}
	r.done[name] = out
	o.logger.Debug("step complete", "key", r.key, "step", name, "duration", time.Since(start))
	return out, nil
}

// unwrapRetryable strips the retry marker so status records carry the
// step's own error.
func unwrapRetryable(err error) error {
	if re, ok := err.(*cache.RetryableError); ok {
		return re.Err
	}
	return err
}

// setStatus is the body of the status-marking steps.
func (o *Orchestrator) setStatus(r *run, rec registry.Record) func(ctx context.Context) ([]byte, error) {
	return func(ctx context.Context) ([]byte, error) {
		return nil, o.cfg.Registry.SetStatus(ctx, r.key, rec)
	}
}

// existing is the journaled output of check-existing.
type existing struct {
	// Graph reports that graph.json is stored.
	Graph bool `json:"graph"`
	// Unindexed reports that the transient cross-edge payload is still
	// stored: a previous attempt stored the graph but did not finish
	// indexing or fan-out.
	Unindexed bool `json:"unindexed"`
}

func (o *Orchestrator) execute(ctx context.Context, r *run, logger *log.Logger) (registry.Record, error) {
	// 1. check-existing
	out, err := o.step(ctx, r, StepCheckExisting, storeAttempts, func(ctx context.Context) ([]byte, error) {
		state, err := o.checkExisting(ctx, r.key)
		if err != nil {
			return nil, err
		}
		return json.Marshal(state)
	})
	if err != nil {
		return registry.Record{}, err
	}
	var state existing
	if err := json.Unmarshal(out, &state); err != nil {
		return registry.Record{}, errors.Wrap(errors.ErrCodeInternal, err, "decode %s output", StepCheckExisting)
	}

	var stored *storeResult
	switch {
	case state.Graph && !state.Unindexed:
		rec := registry.Ready(r.key.Version)
		if err := o.cfg.Registry.SetStatus(ctx, r.key, rec); err != nil {
			return registry.Record{}, err
		}
		logger.Debug("graph already stored")
		return rec, nil
	case state.Graph:
		logger.Info("graph stored but cross edges not indexed, resuming at indexing")
		stored, err = o.loadStored(ctx, r)
	default:
		stored, err = o.build(ctx, r, logger)
	}
	if err != nil {
		return registry.Record{}, err
	}
	return o.publish(ctx, r, stored, logger)
}

func (o *Orchestrator) checkExisting(ctx context.Context, key pkgkey.Key) (existing, error) {
	var state existing
	for _, c := range []struct {
		path string
		dst  *bool
	}{
		{storage.GraphPath(key), &state.Graph},
		{storage.CrossEdgesPath(key), &state.Unindexed},
	} {
		ok, err := o.cfg.Store.Exists(ctx, c.path)
		if err != nil {
			return existing{}, errors.Wrap(errors.ErrCodeInternal, err, "check %s", c.path)
		}
		*c.dst = ok
	}
	return state, nil
}

// loadStored rebuilds the fetch-parse-store result of an earlier attempt
// from the stored index.
func (o *Orchestrator) loadStored(ctx context.Context, r *run) (*storeResult, error) {
	path := storage.IndexPath(r.key)
	data, err := o.cfg.Store.Get(ctx, path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "load %s", path)
	}
	var idx graph.Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "decode %s", path)
	}
	return &storeResult{
		Nodes:        idx.NodeCount,
		Edges:        idx.EdgeCount,
		HasSource:    idx.HasSource,
		Dependencies: idx.Dependencies,
	}, nil
}

// build runs steps 2 to 5 and returns what fetch-parse-store stored.
func (o *Orchestrator) build(ctx context.Context, r *run, logger *log.Logger) (*storeResult, error) {
	// 2. set-status-resolving
	if _, err := o.step(ctx, r, StepSetResolving, 1, o.setStatus(r, registry.Processing(registry.StepResolving))); err != nil {
		return nil, err
	}

	// 3. resolve-metadata
	out, err := o.step(ctx, r, StepResolveMetadata, resolveAttempts, func(ctx context.Context) ([]byte, error) {
		md, err := o.cfg.Metadata.Resolve(ctx, r.key)
		if err != nil {
			return nil, err
		}
		return json.Marshal(md)
	})
	if err != nil {
		return nil, err
	}
	var md metadata.Metadata
	if err := json.Unmarshal(out, &md); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "decode metadata")
	}

	// 4. set-status-fetching
	if _, err := o.step(ctx, r, StepSetFetching, 1, o.setStatus(r, registry.Processing(registry.StepFetching))); err != nil {
		return nil, err
	}

	// 5. fetch-parse-store
	out, err = o.step(ctx, r, StepFetchParseStore, fetchAttempts, func(ctx context.Context) ([]byte, error) {
		res, err := o.fetchParseStore(ctx, r, &md, logger)
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)
	})
	if err != nil {
		return nil, err
	}
	var stored storeResult
	if err := json.Unmarshal(out, &stored); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "decode store result")
	}
	return &stored, nil
}

// publish runs steps 6 to 8. The transient cross-edge payload is removed
// only after fan-out, so a failure anywhere before that leaves the package
// resumable at indexing.
func (o *Orchestrator) publish(ctx context.Context, r *run, stored *storeResult, logger *log.Logger) (registry.Record, error) {
	// 6. set-status-indexing + index-cross-edges
	if _, err := o.step(ctx, r, StepSetIndexing, 1, o.setStatus(r, registry.Processing(registry.StepIndexing))); err != nil {
		return registry.Record{}, err
	}
	if _, err := o.step(ctx, r, StepIndexCrossEdges, indexAttempts, func(ctx context.Context) ([]byte, error) {
		return nil, o.indexCrossEdges(ctx, r, logger)
	}); err != nil {
		return registry.Record{}, err
	}

	// 7. fanout-dependencies
	if _, err := o.step(ctx, r, StepFanoutDependencies, 1, func(ctx context.Context) ([]byte, error) {
		n := o.fanout(ctx, r, stored.Dependencies, logger)
		return json.Marshal(n)
	}); err != nil {
		return registry.Record{}, err
	}
	path := storage.CrossEdgesPath(r.key)
	if err := o.cfg.Store.Delete(ctx, path); err != nil && !stderrors.Is(err, storage.ErrNotFound) {
		logger.Debug("could not remove cross-edge payload", "error", err)
	}

	// 8. set-status-ready
	rec := registry.Ready(r.key.Version)
	if _, err := o.step(ctx, r, StepSetReady, 1, o.setStatus(r, rec)); err != nil {
		return registry.Record{}, err
	}
	logger.Info("package ready",
		"nodes", stored.Nodes,
		"edges", stored.Edges,
		"cross_edges", stored.CrossEdges,
		"dependencies", len(stored.Dependencies))
	return rec, nil
}
