package parser

import "github.com/matzehuels/symgraph/pkg/graph"

// builder accumulates nodes and edges, dropping duplicates.
type builder struct {
	g     *graph.Graph
	nodes map[string]int
	edges map[graph.Edge]bool
}

func newBuilder(pkg, version string) *builder {
	return &builder{
		g:     &graph.Graph{Package: pkg, Version: version},
		nodes: make(map[string]int),
		edges: make(map[graph.Edge]bool),
	}
}

// node adds n unless a node with the same ID exists. A later declaration may
// widen visibility.
func (b *builder) node(n graph.Node) {
	if i, ok := b.nodes[n.ID]; ok {
		if n.Visibility == graph.VisibilityPublic {
			b.g.Nodes[i].Visibility = n.Visibility
		}
		return
	}
	b.nodes[n.ID] = len(b.g.Nodes)
	b.g.Nodes = append(b.g.Nodes, n)
}

func (b *builder) has(id string) bool {
	_, ok := b.nodes[id]
	return ok
}

func (b *builder) edge(from, to, kind string, confidence float64) {
	if from == to {
		return
	}
	e := graph.Edge{From: from, To: to, Kind: kind, Confidence: confidence}
	if b.edges[e] {
		return
	}
	b.edges[e] = true
	b.g.Edges = append(b.g.Edges, e)
}

func (b *builder) graph() *graph.Graph {
	b.g.Sort()
	return b.g
}
