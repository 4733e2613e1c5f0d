package pipeline

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sort"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/symgraph/pkg/archive"
	"github.com/matzehuels/symgraph/pkg/cache"
	"github.com/matzehuels/symgraph/pkg/errors"
	"github.com/matzehuels/symgraph/pkg/graph"
	"github.com/matzehuels/symgraph/pkg/integrations"
	"github.com/matzehuels/symgraph/pkg/metadata"
	"github.com/matzehuels/symgraph/pkg/parser"
	"github.com/matzehuels/symgraph/pkg/registry"
	"github.com/matzehuels/symgraph/pkg/source"
	"github.com/matzehuels/symgraph/pkg/storage"
)

// tarOverhead bounds the decompressed tarball relative to the byte budget
// for kept entries; tar headers and skipped entries count against it too.
const tarOverhead = 4

// storeResult is the journaled output of fetch-parse-store.
type storeResult struct {
	Nodes        int                `json:"nodes"`
	Edges        int                `json:"edges"`
	CrossEdges   int                `json:"cross_edges"`
	HasSource    bool               `json:"has_source"`
	Dependencies []graph.Dependency `json:"dependencies"`
}

func (o *Orchestrator) fetchParseStore(ctx context.Context, r *run, md *metadata.Metadata, logger *log.Logger) (*storeResult, error) {
	p, err := o.cfg.Parsers.Get(r.key.Ecosystem)
	if err != nil {
		return nil, err
	}

	files, err := o.download(ctx, md, p, logger)
	if err != nil {
		return nil, err
	}

	if err := o.cfg.Registry.SetStatus(ctx, r.key, registry.Processing(registry.StepParsing)); err != nil {
		return nil, err
	}

	extra := o.acquireSource(ctx, r, md, p, files, logger)
	g, err := p.Parse(ctx, parser.Input{Key: r.key, Archive: files, Source: extra})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "parse %s", r.key)
	}

	if err := o.cfg.Registry.SetStatus(ctx, r.key, registry.Processing(registry.StepStoring)); err != nil {
		return nil, err
	}

	part := graph.Partition(g, r.key.Package())
	deps := o.resolveDependencies(ctx, r, md, part.External, logger)
	hasSource := len(files) > 0 || len(extra) > 0
	idx := graph.BuildIndex(part.Graph, deps, hasSource)
	payload := graph.CrossEdgePayload{Attempt: r.attempt, Edges: part.CrossEdges, Nodes: part.Stubs}

	// graph.json goes last: its existence marks the package as built. The
	// payload stays until fan-out is done, so graph.json next to a payload
	// means the build stopped before publishing.
	if err := o.putJSON(ctx, storage.CrossEdgesPath(r.key), payload); err != nil {
		return nil, err
	}
	if err := o.putJSON(ctx, storage.IndexPath(r.key), idx); err != nil {
		return nil, err
	}
	if err := o.putJSON(ctx, storage.GraphPath(r.key), part.Graph); err != nil {
		return nil, err
	}

	return &storeResult{
		Nodes:        len(part.Graph.Nodes),
		Edges:        len(part.Graph.Edges),
		CrossEdges:   len(part.CrossEdges),
		HasSource:    hasSource,
		Dependencies: deps,
	}, nil
}

// download fetches and unpacks the published archive. Oversized archives
// degrade to an empty file set instead of failing the run.
func (o *Orchestrator) download(ctx context.Context, md *metadata.Metadata, p parser.Parser, logger *log.Logger) (map[string][]byte, error) {
	if md.DownloadURL == "" || o.cfg.Downloader == nil {
		logger.Warn("no archive to download")
		return nil, nil
	}
	if err := errors.ValidateURL(md.DownloadURL); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "archive url %q", md.DownloadURL)
	}
	data, err := o.cfg.Downloader.Download(ctx, md.DownloadURL, o.cfg.MaxBytes)
	switch {
	case stderrors.Is(err, integrations.ErrTooLarge):
		logger.Warn("archive exceeds size limit, continuing without it", "url", md.DownloadURL, "limit", o.cfg.MaxBytes)
		return nil, nil
	case stderrors.Is(err, integrations.ErrNotFound):
		return nil, errors.Wrap(errors.ErrCodeArtifactNotFound, err, "archive %s", md.DownloadURL)
	case err != nil:
		return nil, errors.Wrap(errors.ErrCodeNetwork, err, "download %s", md.DownloadURL)
	}

	files, err := o.unpack(data, p)
	switch {
	case stderrors.Is(err, archive.ErrLimit):
		logger.Warn("archive contents exceed size limit, continuing without them", "limit", o.cfg.MaxBytes)
		return nil, nil
	case err != nil:
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "extract %s", md.DownloadURL)
	}
	logger.Debug("extracted archive", "files", len(files), "bytes", len(data))
	return files, nil
}

// unpack gunzips the download under a budget of tarOverhead times MaxBytes
// and keeps the entries the parser wants.
func (o *Orchestrator) unpack(data []byte, p parser.Parser) (map[string][]byte, error) {
	tarball, err := archive.Decompress(data, o.cfg.MaxBytes*tarOverhead)
	if err != nil {
		return nil, err
	}
	return archive.Extract(tarball, archive.Options{MaxBytes: o.cfg.MaxBytes, Keep: p.Wants})
}

// acquireSource fetches wanted files the archive did not contain. It never
// fails the run.
func (o *Orchestrator) acquireSource(ctx context.Context, r *run, md *metadata.Metadata, p parser.Parser, have map[string][]byte, logger *log.Logger) map[string]string {
	if len(o.cfg.Sources) == 0 {
		return nil
	}
	req := source.Request{
		Key:        r.key,
		Repository: md.Repository,
		MaxBytes:   o.cfg.MaxBytes,
		Want: func(path string) bool {
			_, ok := have[path]
			return !ok && p.Wants(path)
		},
	}
	out := o.acquirer.Acquire(ctx, req, o.cfg.Sources)
	switch out.Kind {
	case source.OutcomeSuccess:
		logger.Debug("acquired extra source", "provider", out.Provider, "files", len(out.Files))
		return out.Files
	case source.OutcomeOverLimit:
		logger.Warn("source exceeds size limit, continuing without it", "provider", out.Provider)
	case source.OutcomeNotFound:
		logger.Debug("no extra source available", "detail", out.Message)
	default:
		logger.Warn("source acquisition failed", "detail", out.Message)
	}
	return nil
}

// resolveDependencies merges declared dependencies with the external
// packages referenced by cross edges and looks up each one's latest
// version. Standard-library packages are skipped. Failed lookups leave the
// version empty.
func (o *Orchestrator) resolveDependencies(ctx context.Context, r *run, md *metadata.Metadata, external []string, logger *log.Logger) []graph.Dependency {
	seen := make(map[string]graph.Dependency)
	add := func(eco, name string) {
		if name == "" || o.cfg.Metadata.IsStandardLibrary(eco, name) {
			return
		}
		if eco == r.key.Ecosystem && name == r.key.Name {
			return
		}
		seen[eco+":"+name] = graph.Dependency{Ecosystem: eco, Name: name}
	}
	for _, d := range md.Dependencies {
		eco := d.Ecosystem
		if eco == "" {
			eco = r.key.Ecosystem
		}
		add(eco, d.Name)
	}
	for _, pkg := range external {
		if eco, name, ok := graph.SplitPackage(pkg); ok {
			add(eco, name)
		}
	}

	deps := make([]graph.Dependency, 0, len(seen))
	for _, d := range seen {
		deps = append(deps, d)
	}
	sort.Slice(deps, func(i, j int) bool {
		if deps[i].Ecosystem != deps[j].Ecosystem {
			return deps[i].Ecosystem < deps[j].Ecosystem
		}
		return deps[i].Name < deps[j].Name
	})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.LatestConcurrency)
	for i := range deps {
		g.Go(func() error {
			v, err := o.cfg.Metadata.LatestVersion(gctx, deps[i].Ecosystem, deps[i].Name)
			if err != nil {
				logger.Debug("latest version lookup failed", "dependency", deps[i].Name, "error", err)
				return nil
			}
			deps[i].Version = v
			return nil
		})
	}
	_ = g.Wait()
	return deps
}

func (o *Orchestrator) putJSON(ctx context.Context, path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "encode %s", path)
	}
	if err := o.cfg.Store.Put(ctx, path, data, storage.ContentTypeJSON); err != nil {
		return cache.Retryable(errors.Wrap(errors.ErrCodeNetwork, err, "store %s", path))
	}
	return nil
}

// indexCrossEdges loads the transient payload written by fetch-parse-store
// and swaps it into the registry.
func (o *Orchestrator) indexCrossEdges(ctx context.Context, r *run, logger *log.Logger) error {
	path := storage.CrossEdgesPath(r.key)
	data, err := o.cfg.Store.Get(ctx, path)
	if stderrors.Is(err, storage.ErrNotFound) {
		logger.Warn("cross-edge payload missing, nothing to index")
		return nil
	}
	if err != nil {
		return cache.Retryable(errors.Wrap(errors.ErrCodeNetwork, err, "load %s", path))
	}
	var payload graph.CrossEdgePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "decode %s", path)
	}
	attempt := payload.Attempt
	if attempt == "" {
		attempt = r.attempt
	}
	applied, err := o.cfg.Registry.ReplaceCrossEdges(ctx, r.key, attempt, payload.Edges, payload.Nodes)
	if err != nil {
		return cache.Retryable(err)
	}
	if !applied {
		logger.Warn("newer attempt already indexed, skipping", "payload_attempt", attempt)
	}
	return nil
}
