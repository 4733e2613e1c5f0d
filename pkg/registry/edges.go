package registry

import (
	"context"
	"sort"
	"strings"

	"github.com/matzehuels/symgraph/pkg/errors"
	"github.com/matzehuels/symgraph/pkg/graph"
	"github.com/matzehuels/symgraph/pkg/observability"
	"github.com/matzehuels/symgraph/pkg/pkgkey"
)

// EdgeUpdate notifies a symbol subscriber that a package replaced its
// contribution and the set of edges touching the symbol may have changed.
type EdgeUpdate struct {
	Symbol  string `json:"symbol"`
	Package string `json:"package"`
	Attempt string `json:"attempt,omitempty"`
	Edges   int    `json:"edges"`
}

// EdgeSet is the slice of the cross-edge index touching one symbol.
type EdgeSet struct {
	Symbol string           `json:"symbol"`
	Edges  []graph.CrossEdge `json:"edges"`
	Nodes  []graph.NodeStub  `json:"nodes"`
}

type contribution struct {
	attempt string
	edges   []graph.CrossEdge
	nodes   map[string]graph.NodeStub
}

type edgeIndex struct {
	mailbox  chan func()
	packages map[pkgkey.Key]*contribution
	bySymbol map[string]map[pkgkey.Key]struct{}
	subs     map[string]map[*stream[EdgeUpdate]]struct{}
}

func newEdgeIndex() *edgeIndex {
	return &edgeIndex{
		mailbox:  make(chan func(), mailboxSize),
		packages: make(map[pkgkey.Key]*contribution),
		bySymbol: make(map[string]map[pkgkey.Key]struct{}),
		subs:     make(map[string]map[*stream[EdgeUpdate]]struct{}),
	}
}

// ReplaceCrossEdges swaps the whole contribution of key for edges and nodes.
//
// attempt identifies the pipeline run that produced the payload. Attempts
// compare lexicographically, and a replace carrying an attempt older than
// the one already stored is discarded; the pipeline issues time-ordered
// UUIDv7 ids so a slow earlier run can never overwrite a newer one. The
// same attempt may replace itself, which makes indexing retries safe. It
// reports whether the replace was applied.
func (r *Registry) ReplaceCrossEdges(ctx context.Context, key pkgkey.Key, attempt string, edges []graph.CrossEdge, nodes []graph.NodeStub) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}
	edges = append([]graph.CrossEdge(nil), edges...)
	stubs := make(map[string]graph.NodeStub, len(nodes))
	for _, n := range nodes {
		stubs[n.ID] = n
	}

	ix := r.edges
	var applied bool
	err := r.do(ctx, ix.mailbox, func() {
		old := ix.packages[key]
		if old != nil && isStale(attempt, old.attempt) {
			return
		}
		applied = true

		touched := make(map[string]struct{})
		if old != nil {
			for _, e := range old.edges {
				touched[e.From] = struct{}{}
				touched[e.To] = struct{}{}
				ix.unlink(e.From, key)
				ix.unlink(e.To, key)
			}
		}
		for _, e := range edges {
			touched[e.From] = struct{}{}
			touched[e.To] = struct{}{}
			ix.link(e.From, key)
			ix.link(e.To, key)
		}
		ix.packages[key] = &contribution{attempt: attempt, edges: edges, nodes: stubs}

		for sym := range touched {
			subs := ix.subs[sym]
			if len(subs) == 0 {
				continue
			}
			u := EdgeUpdate{Symbol: sym, Package: key.String(), Attempt: attempt, Edges: len(ix.edgesFor(sym))}
			for sub := range subs {
				sub.push(u)
			}
		}
	})
	if err != nil {
		return false, err
	}
	observability.Registry().OnCrossEdgesReplaced(ctx, len(edges), !applied)
	if !applied {
		r.logger.Warn("discarded stale cross-edge replace", "key", key, "attempt", attempt)
	}
	return applied, nil
}

func isStale(attempt, current string) bool {
	return attempt != "" && current != "" && attempt < current
}

func (ix *edgeIndex) link(sym string, key pkgkey.Key) {
	set, ok := ix.bySymbol[sym]
	if !ok {
		set = make(map[pkgkey.Key]struct{})
		ix.bySymbol[sym] = set
	}
	set[key] = struct{}{}
}

func (ix *edgeIndex) unlink(sym string, key pkgkey.Key) {
	set, ok := ix.bySymbol[sym]
	if !ok {
		return
	}
	delete(set, key)
	if len(set) == 0 {
		delete(ix.bySymbol, sym)
	}
}

func (ix *edgeIndex) edgesFor(sym string) []graph.CrossEdge {
	var out []graph.CrossEdge
	for key := range ix.bySymbol[sym] {
		for _, e := range ix.packages[key].edges {
			if e.From == sym || e.To == sym {
				out = append(out, e)
			}
		}
	}
	return out
}

// EdgesFor returns every indexed cross edge touching symbol, with stubs for
// both ends.
func (r *Registry) EdgesFor(ctx context.Context, symbol string) (EdgeSet, error) {
	if strings.TrimSpace(symbol) == "" {
		return EdgeSet{}, errors.New(errors.ErrCodeInvalidKey, "symbol is required")
	}
	ix := r.edges
	set := EdgeSet{Symbol: symbol}
	err := r.do(ctx, ix.mailbox, func() {
		set.Edges = ix.edgesFor(symbol)
		seen := make(map[string]bool)
		for key := range ix.bySymbol[symbol] {
			c := ix.packages[key]
			for _, e := range c.edges {
				if e.From != symbol && e.To != symbol {
					continue
				}
				for _, id := range []string{e.From, e.To} {
					if n, ok := c.nodes[id]; ok && !seen[id] {
						seen[id] = true
						set.Nodes = append(set.Nodes, n)
					}
				}
			}
		}
	})
	sort.Slice(set.Edges, func(i, j int) bool {
		a, b := set.Edges[i], set.Edges[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.To != b.To {
			return a.To < b.To
		}
		return a.Kind < b.Kind
	})
	sort.Slice(set.Nodes, func(i, j int) bool { return set.Nodes[i].ID < set.Nodes[j].ID })
	return set, err
}

// StreamCrossEdgeUpdates subscribes to changes of edges touching symbol.
// The channel closes on the same conditions as [Registry.StreamStatus].
func (r *Registry) StreamCrossEdgeUpdates(ctx context.Context, symbol string) (<-chan EdgeUpdate, error) {
	if strings.TrimSpace(symbol) == "" {
		return nil, errors.New(errors.ErrCodeInvalidKey, "symbol is required")
	}
	ix := r.edges
	sub := newStream[EdgeUpdate]()
	err := r.do(ctx, ix.mailbox, func() {
		subs, ok := ix.subs[symbol]
		if !ok {
			subs = make(map[*stream[EdgeUpdate]]struct{})
			ix.subs[symbol] = subs
		}
		subs[sub] = struct{}{}
	})
	if err != nil {
		return nil, err
	}
	observability.Registry().OnSubscribe(ctx, StreamEdgesKind)

	go sub.run(ctx, r.ttl, r.quit, func(reason string) {
		_ = r.do(context.Background(), ix.mailbox, func() {
			delete(ix.subs[symbol], sub)
			if len(ix.subs[symbol]) == 0 {
				delete(ix.subs, symbol)
			}
		})
		observability.Registry().OnUnsubscribe(context.Background(), StreamEdgesKind, reason)
	})
	return sub.out, nil
}
