package graph

import (
	"slices"
	"strings"
)

// Node kinds emitted by the parsers.
const (
	KindCrate    = "crate"
	KindPackage  = "package"
	KindModule   = "module"
	KindFunction = "function"
	KindStruct   = "struct"
	KindClass    = "class"
	KindEnum     = "enum"
	KindTrait    = "trait"
	KindType     = "type"
	KindValue    = "value"
	KindMacro    = "macro"
	KindExternal = "external"
)

// Edge kinds.
const (
	EdgeContains   = "contains"
	EdgeDepends    = "depends"
	EdgeImplements = "implements"
	EdgeUses       = "uses"
	EdgeReexports  = "reexports"
)

// Visibility values.
const (
	VisibilityPublic  = "public"
	VisibilityCrate   = "crate"
	VisibilityPrivate = "private"
)

// symbolSep separates the owning package from the symbol path.
const symbolSep = "::"

// =============================================================================
// Graph - Symbol Graph Serialization
// =============================================================================

// Graph is the canonical serialization format for symbol graphs.
// Used for the graph.json artifact, API responses and storage.
type Graph struct {
	Package string `json:"package" bson:"package"`
	Version string `json:"version" bson:"version"`
	Nodes   []Node `json:"nodes" bson:"nodes"`
	Edges   []Edge `json:"edges" bson:"edges"`
}

// Node is one symbol in the graph.
type Node struct {
	ID         string         `json:"id" bson:"id"`
	Name       string         `json:"name" bson:"name"`
	Kind       string         `json:"kind" bson:"kind"`
	Visibility string         `json:"visibility,omitempty" bson:"visibility,omitempty"`
	File       string         `json:"file,omitempty" bson:"file,omitempty"`
	Meta       map[string]any `json:"meta,omitempty" bson:"meta,omitempty"`
}

// Edge is a directed relationship between two symbols.
type Edge struct {
	From       string  `json:"from" bson:"from"`
	To         string  `json:"to" bson:"to"`
	Kind       string  `json:"kind" bson:"kind"`
	Confidence float64 `json:"confidence,omitempty" bson:"confidence,omitempty"`
}

// CrossEdge is an edge whose endpoints belong to two different packages.
type CrossEdge struct {
	From       string  `json:"from" bson:"from"`
	To         string  `json:"to" bson:"to"`
	Kind       string  `json:"kind" bson:"kind"`
	Confidence float64 `json:"confidence" bson:"confidence"`
}

// NodeStub is the minimal node data needed to render one end of a cross edge.
type NodeStub struct {
	ID         string `json:"id" bson:"id"`
	Name       string `json:"name" bson:"name"`
	Kind       string `json:"kind" bson:"kind"`
	Visibility string `json:"visibility,omitempty" bson:"visibility,omitempty"`
}

// Index is the compact per-package summary stored as index.json.
type Index struct {
	Package      string         `json:"package" bson:"package"`
	Version      string         `json:"version" bson:"version"`
	NodeCount    int            `json:"node_count" bson:"node_count"`
	EdgeCount    int            `json:"edge_count" bson:"edge_count"`
	Kinds        map[string]int `json:"kinds" bson:"kinds"`
	Exports      []string       `json:"exports,omitempty" bson:"exports,omitempty"`
	Dependencies []Dependency   `json:"dependencies,omitempty" bson:"dependencies,omitempty"`
	HasSource    bool           `json:"has_source" bson:"has_source"`
}

// Dependency is an external package referenced by a cross edge, together with
// the version that was resolved for it.
type Dependency struct {
	Ecosystem string `json:"ecosystem" bson:"ecosystem"`
	Name      string `json:"name" bson:"name"`
	Version   string `json:"version,omitempty" bson:"version,omitempty"`
}

// CrossEdgePayload is the transient _cross-edges.json object handed from the
// store step to the indexing step.
type CrossEdgePayload struct {
	Attempt string      `json:"attempt"`
	Edges   []CrossEdge `json:"edges"`
	Nodes   []NodeStub  `json:"nodes"`
}

// =============================================================================
// Symbol IDs
// =============================================================================

// SymbolID builds the ID of a symbol at path inside package ecosystem:name.
// An empty path names the package root.
func SymbolID(ecosystem, name, path string) string {
	pkg := ecosystem + ":" + name
	if path == "" {
		return pkg
	}
	return pkg + symbolSep + path
}

// PackageOf returns the "ecosystem:name" prefix that owns a symbol ID.
func PackageOf(id string) string {
	if i := strings.Index(id, symbolSep); i >= 0 {
		return id[:i]
	}
	return id
}

// SplitPackage splits an "ecosystem:name" string.
func SplitPackage(pkg string) (ecosystem, name string, ok bool) {
	ecosystem, name, ok = strings.Cut(pkg, ":")
	if !ok || ecosystem == "" || name == "" {
		return "", "", false
	}
	return ecosystem, name, true
}

// Stub returns the stub form of n.
func (n Node) Stub() NodeStub {
	return NodeStub{ID: n.ID, Name: n.Name, Kind: n.Kind, Visibility: n.Visibility}
}

// NodeByID returns the node with the given ID.
func (g *Graph) NodeByID(id string) (Node, bool) {
	i := slices.IndexFunc(g.Nodes, func(n Node) bool { return n.ID == id })
	if i < 0 {
		return Node{}, false
	}
	return g.Nodes[i], true
}

// Sort orders nodes and edges for deterministic output.
func (g *Graph) Sort() {
	slices.SortFunc(g.Nodes, func(a, b Node) int { return strings.Compare(a.ID, b.ID) })
	slices.SortFunc(g.Edges, compareEdges)
}

func compareEdges(a, b Edge) int {
	if c := strings.Compare(a.From, b.From); c != 0 {
		return c
	}
	if c := strings.Compare(a.To, b.To); c != 0 {
		return c
	}
	return strings.Compare(a.Kind, b.Kind)
}
