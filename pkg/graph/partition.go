package graph

import (
	"maps"
	"slices"
	"sort"
)

// Partitioned is the result of splitting a parsed graph by package ownership.
type Partitioned struct {
	// Graph holds the nodes owned by the package and the edges between them.
	Graph *Graph
	// CrossEdges holds every edge with at least one endpoint in another package.
	CrossEdges []CrossEdge
	// Stubs holds the minimal node data for both ends of every cross edge.
	Stubs []NodeStub
	// External lists the foreign "ecosystem:name" packages referenced by
	// cross edges, sorted.
	External []string
}

// Partition splits g into intra-package and cross-package parts. pkg is the
// "ecosystem:name" identity of the package that was parsed; nodes whose ID
// prefix differs are treated as foreign.
func Partition(g *Graph, pkg string) Partitioned {
	nodes := make(map[string]Node, len(g.Nodes))
	for _, n := range g.Nodes {
		nodes[n.ID] = n
	}

	out := Partitioned{Graph: &Graph{Package: g.Package, Version: g.Version}}
	for _, n := range g.Nodes {
		if PackageOf(n.ID) == pkg {
			out.Graph.Nodes = append(out.Graph.Nodes, n)
		}
	}

	stubs := make(map[string]NodeStub)
	external := make(map[string]bool)
	for _, e := range g.Edges {
		fromPkg, toPkg := PackageOf(e.From), PackageOf(e.To)
		if fromPkg == pkg && toPkg == pkg {
			out.Graph.Edges = append(out.Graph.Edges, e)
			continue
		}
		confidence := e.Confidence
		if confidence == 0 {
			confidence = 1
		}
		out.CrossEdges = append(out.CrossEdges, CrossEdge{
			From: e.From, To: e.To, Kind: e.Kind, Confidence: confidence,
		})
		for _, id := range []string{e.From, e.To} {
			stubs[id] = stubFor(nodes, id)
			if p := PackageOf(id); p != pkg {
				external[p] = true
			}
		}
	}

	out.Stubs = slices.Collect(maps.Values(stubs))
	sort.Slice(out.Stubs, func(i, j int) bool { return out.Stubs[i].ID < out.Stubs[j].ID })
	out.External = slices.Sorted(maps.Keys(external))
	out.Graph.Sort()
	return out
}

func stubFor(nodes map[string]Node, id string) NodeStub {
	if n, ok := nodes[id]; ok {
		return n.Stub()
	}
	return NodeStub{ID: id, Name: id, Kind: KindExternal}
}

// BuildIndex summarizes a stored package graph.
func BuildIndex(g *Graph, deps []Dependency, hasSource bool) *Index {
	idx := &Index{
		Package:      g.Package,
		Version:      g.Version,
		NodeCount:    len(g.Nodes),
		EdgeCount:    len(g.Edges),
		Kinds:        make(map[string]int),
		Dependencies: deps,
		HasSource:    hasSource,
	}
	for _, n := range g.Nodes {
		idx.Kinds[n.Kind]++
		if n.Visibility == VisibilityPublic && n.Kind != KindModule && n.Kind != KindCrate && n.Kind != KindPackage {
			idx.Exports = append(idx.Exports, n.ID)
		}
	}
	sort.Strings(idx.Exports)
	return idx
}
