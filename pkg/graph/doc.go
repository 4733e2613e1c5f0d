// Package graph provides the serialization types for symbol graphs.
//
// This package defines the canonical wire format for symgraph's graph data,
// used for the object store artifacts, HTTP responses and the cross-package
// edge index.
//
// # Core Types
//
//   - [Graph]: Node-link format for one package's symbol graph (graph.json)
//   - [Node], [Edge]: Shared structural types
//   - [Index]: Compact per-package summary (index.json)
//   - [CrossEdge], [NodeStub]: Edges whose endpoints live in different packages,
//     and the minimal node data needed to render them
//
// # Symbol IDs
//
// Every node ID is a symbol ID of the form "ecosystem:name::path", where the
// prefix before "::" is the owning package. [PackageOf] extracts it:
//
//	graph.SymbolID("rust", "serde", "de::Deserialize")  // "rust:serde::de::Deserialize"
//	graph.PackageOf("rust:serde::de::Deserialize")      // "rust:serde"
//
// # Partitioning
//
// [Partition] splits a parsed graph into the intra-package part that is stored
// as graph.json and the cross-package part that feeds the registry's edge
// index:
//
//	p := graph.Partition(g, key)
//	store.Put(ctx, key.Object("graph.json"), mustMarshal(p.Graph))
//	registry.ReplaceCrossEdges(key, attempt, p.CrossEdges, p.Stubs)
package graph
