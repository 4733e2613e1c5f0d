// Package parser turns package archives into symbol graphs.
//
// Parsers are deliberately shallow: they read manifests and scan source
// files line by line for top-level declarations and imports. The result is
// good enough to show a package's public surface and how it links to its
// dependencies without compiling anything.
//
// Every node ID is built with [graph.SymbolID], so edges that point into
// other packages are recognizable by their "ecosystem:name" prefix and can be
// split off by [graph.Partition].
package parser

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/matzehuels/symgraph/pkg/errors"
	"github.com/matzehuels/symgraph/pkg/graph"
	"github.com/matzehuels/symgraph/pkg/pkgkey"
)

// Input is everything a parser may look at for one package version.
type Input struct {
	Key pkgkey.Key
	// Archive holds files from the published artifact, keyed by path
	// relative to the package root.
	Archive map[string][]byte
	// Source holds auxiliary source text fetched from other providers. It
	// fills gaps in Archive and may be empty.
	Source map[string]string
}

// file returns the content at path, preferring the published artifact.
func (in Input) file(path string) (string, bool) {
	if b, ok := in.Archive[path]; ok {
		return string(b), true
	}
	s, ok := in.Source[path]
	return s, ok
}

// paths returns every known file path, sorted.
func (in Input) paths() []string {
	set := make(map[string]bool, len(in.Archive)+len(in.Source))
	for p := range in.Archive {
		set[p] = true
	}
	for p := range in.Source {
		set[p] = true
	}
	return slices.Sorted(maps.Keys(set))
}

// Parser builds a symbol graph for one ecosystem.
type Parser interface {
	// Ecosystem returns the ecosystem this parser understands.
	Ecosystem() string
	// Wants reports whether an archive entry is worth extracting.
	Wants(path string) bool
	// Parse builds the graph. Missing optional inputs degrade the output
	// rather than fail.
	Parse(ctx context.Context, in Input) (*graph.Graph, error)
}

// Registry maps ecosystems to parsers. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]Parser
}

// NewRegistry creates a registry holding ps.
func NewRegistry(ps ...Parser) *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	for _, p := range ps {
		r.Register(p)
	}
	return r
}

// Default returns a registry with every built-in parser.
func Default() *Registry {
	return NewRegistry(NewRust(), NewNPM())
}

// Register adds or replaces the parser for p.Ecosystem().
func (r *Registry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[p.Ecosystem()] = p
}

// Get returns the parser for ecosystem.
func (r *Registry) Get(ecosystem string) (Parser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parsers[ecosystem]
	if !ok {
		return nil, errors.New(errors.ErrCodeUnsupported, "no parser for ecosystem %q", ecosystem)
	}
	return p, nil
}
