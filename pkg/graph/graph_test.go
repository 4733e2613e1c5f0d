package graph

import (
	"strings"
	"testing"
)

func sampleGraph() *Graph {
	return &Graph{
		Package: "rust:foo",
		Version: "1.0.0",
		Nodes: []Node{
			{ID: "rust:foo", Name: "foo", Kind: KindCrate, Visibility: VisibilityPublic},
			{ID: "rust:foo::parse", Name: "parse", Kind: KindFunction, Visibility: VisibilityPublic},
			{ID: "rust:foo::Inner", Name: "Inner", Kind: KindStruct, Visibility: VisibilityPrivate},
			{ID: "rust:serde::Deserialize", Name: "Deserialize", Kind: KindTrait, Visibility: VisibilityPublic},
			{ID: "rust:serde", Name: "serde", Kind: KindExternal},
		},
		Edges: []Edge{
			{From: "rust:foo", To: "rust:foo::parse", Kind: EdgeContains},
			{From: "rust:foo", To: "rust:foo::Inner", Kind: EdgeContains},
			{From: "rust:foo::Inner", To: "rust:serde::Deserialize", Kind: EdgeImplements, Confidence: 0.8},
			{From: "rust:foo", To: "rust:serde", Kind: EdgeDepends},
		},
	}
}

func TestSymbolID(t *testing.T) {
	tests := []struct {
		eco, name, path string
		want            string
	}{
		{"rust", "serde", "", "rust:serde"},
		{"rust", "serde", "de::Deserialize", "rust:serde::de::Deserialize"},
		{"npm", "@scope/pkg", "index", "npm:@scope/pkg::index"},
	}
	for _, tt := range tests {
		id := SymbolID(tt.eco, tt.name, tt.path)
		if id != tt.want {
			t.Errorf("SymbolID(%q, %q, %q) = %q, want %q", tt.eco, tt.name, tt.path, id, tt.want)
		}
		if got := PackageOf(id); got != tt.eco+":"+tt.name {
			t.Errorf("PackageOf(%q) = %q", id, got)
		}
	}
}

func TestSplitPackage(t *testing.T) {
	eco, name, ok := SplitPackage("rust:serde")
	if !ok || eco != "rust" || name != "serde" {
		t.Errorf("SplitPackage = %q %q %v", eco, name, ok)
	}
	if _, _, ok := SplitPackage("serde"); ok {
		t.Error("SplitPackage without separator should fail")
	}
	if _, _, ok := SplitPackage("rust:"); ok {
		t.Error("SplitPackage with empty name should fail")
	}
}

func TestPartition(t *testing.T) {
	p := Partition(sampleGraph(), "rust:foo")

	if len(p.Graph.Nodes) != 3 {
		t.Errorf("intra nodes = %d, want 3", len(p.Graph.Nodes))
	}
	if len(p.Graph.Edges) != 2 {
		t.Errorf("intra edges = %d, want 2", len(p.Graph.Edges))
	}
	if len(p.CrossEdges) != 2 {
		t.Fatalf("cross edges = %d, want 2", len(p.CrossEdges))
	}
	for _, e := range p.CrossEdges {
		if e.Confidence == 0 {
			t.Errorf("cross edge %s -> %s should default confidence", e.From, e.To)
		}
	}
	if len(p.External) != 1 || p.External[0] != "rust:serde" {
		t.Errorf("External = %v, want [rust:serde]", p.External)
	}
	if len(p.Stubs) != 4 {
		t.Errorf("stubs = %d, want 4", len(p.Stubs))
	}
	if err := p.Graph.Validate(); err != nil {
		t.Errorf("partitioned graph should validate: %v", err)
	}
}

func TestPartitionUnknownEndpoint(t *testing.T) {
	g := &Graph{
		Nodes: []Node{{ID: "rust:foo", Kind: KindCrate}},
		Edges: []Edge{{From: "rust:foo", To: "rust:bar::Baz", Kind: EdgeUses}},
	}
	p := Partition(g, "rust:foo")
	var stub NodeStub
	for _, s := range p.Stubs {
		if s.ID == "rust:bar::Baz" {
			stub = s
		}
	}
	if stub.Kind != KindExternal {
		t.Errorf("missing endpoint should become external stub, got %+v", stub)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	g := Partition(sampleGraph(), "rust:foo").Graph
	data, err := MarshalGraph(g)
	if err != nil {
		t.Fatalf("MarshalGraph: %v", err)
	}
	back, err := UnmarshalGraph(data)
	if err != nil {
		t.Fatalf("UnmarshalGraph: %v", err)
	}
	if len(back.Nodes) != len(g.Nodes) || len(back.Edges) != len(g.Edges) {
		t.Errorf("round trip lost data: %d/%d nodes, %d/%d edges",
			len(back.Nodes), len(g.Nodes), len(back.Edges), len(g.Edges))
	}
}

func TestReadGraphRejectsDanglingEdge(t *testing.T) {
	raw := `{"nodes":[{"id":"a","name":"a","kind":"crate"}],"edges":[{"from":"a","to":"b","kind":"uses"}]}`
	if _, err := ReadGraph(strings.NewReader(raw)); err == nil {
		t.Error("expected error for edge to unknown node")
	}
}

func TestValidateDuplicateNode(t *testing.T) {
	g := &Graph{Nodes: []Node{{ID: "a"}, {ID: "a"}}}
	if err := g.Validate(); err == nil {
		t.Error("expected duplicate id error")
	}
}

func TestBuildIndex(t *testing.T) {
	g := Partition(sampleGraph(), "rust:foo").Graph
	idx := BuildIndex(g, []Dependency{{Ecosystem: "rust", Name: "serde", Version: "1.0.193"}}, true)

	if idx.NodeCount != 3 || idx.EdgeCount != 2 {
		t.Errorf("counts = %d/%d", idx.NodeCount, idx.EdgeCount)
	}
	if idx.Kinds[KindFunction] != 1 {
		t.Errorf("function kind count = %d", idx.Kinds[KindFunction])
	}
	if len(idx.Exports) != 1 || idx.Exports[0] != "rust:foo::parse" {
		t.Errorf("Exports = %v", idx.Exports)
	}

	data, err := MarshalIndex(idx)
	if err != nil {
		t.Fatalf("MarshalIndex: %v", err)
	}
	back, err := UnmarshalIndex(data)
	if err != nil {
		t.Fatalf("UnmarshalIndex: %v", err)
	}
	if !back.HasSource || len(back.Dependencies) != 1 {
		t.Errorf("index round trip = %+v", back)
	}
}
