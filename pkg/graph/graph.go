package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// =============================================================================
// Graph Serialization API
// =============================================================================

// MarshalGraph converts a graph to JSON bytes.
// Nodes and edges are sorted for deterministic output.
func MarshalGraph(g *Graph) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteGraph(g, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteGraph writes a graph as JSON to an io.Writer.
func WriteGraph(g *Graph, w io.Writer) error {
	g.Sort()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(g); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return nil
}

// ReadGraph decodes a JSON graph and checks that every edge references a
// known node or an external symbol.
func ReadGraph(r io.Reader) (*Graph, error) {
	var g Graph
	if err := json.NewDecoder(r).Decode(&g); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// UnmarshalGraph is ReadGraph over a byte slice.
func UnmarshalGraph(data []byte) (*Graph, error) {
	return ReadGraph(bytes.NewReader(data))
}

// Validate checks structural invariants: unique non-empty node IDs and edges
// whose endpoints exist in the node set.
func (g *Graph) Validate() error {
	seen := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		if n.ID == "" {
			return fmt.Errorf("node with empty id")
		}
		if seen[n.ID] {
			return fmt.Errorf("duplicate node id %q", n.ID)
		}
		seen[n.ID] = true
	}
	for _, e := range g.Edges {
		if !seen[e.From] || !seen[e.To] {
			return fmt.Errorf("edge %s -> %s references unknown node", e.From, e.To)
		}
	}
	return nil
}

// MarshalIndex converts an index to JSON bytes.
func MarshalIndex(idx *Index) ([]byte, error) {
	return json.MarshalIndent(idx, "", "  ")
}

// UnmarshalIndex decodes an index.json payload.
func UnmarshalIndex(data []byte) (*Index, error) {
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}
	return &idx, nil
}

// MarshalCrossEdges converts a transient cross edge payload to JSON bytes.
func MarshalCrossEdges(p *CrossEdgePayload) ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalCrossEdges decodes a _cross-edges.json payload.
func UnmarshalCrossEdges(data []byte) (*CrossEdgePayload, error) {
	var p CrossEdgePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode cross edges: %w", err)
	}
	return &p, nil
}
