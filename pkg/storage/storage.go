// Package storage persists package graph artifacts.
//
// Objects are addressed by slash-separated paths built from a package key:
//
//	rust/serde/1.0.193/graph.json          // the symbol graph, write-once
//	rust/serde/1.0.193/index.json          // compact summary
//	rust/serde/1.0.193/_cross-edges.json   // transient, consumed by indexing
//
// The existence of graph.json is the authoritative "already built" signal,
// so every backend must make Put visible to Exists once it returns.
//
// Backends:
//   - [MemoryStore]: tests and single-shot CLI runs
//   - [FSStore]: local directory
//   - [S3Store]: any S3-compatible bucket via minio-go
//   - [MongoStore]: one document per object in a MongoDB collection
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/matzehuels/symgraph/pkg/pkgkey"
)

// Object names stored under a package key.
const (
	GraphObject      = "graph.json"
	IndexObject      = "index.json"
	CrossEdgesObject = "_cross-edges.json"
)

// ContentTypeJSON is the content type of every artifact written by the
// pipeline.
const ContentTypeJSON = "application/json"

// ErrNotFound is returned by Get when no object exists at a path.
var ErrNotFound = errors.New("object not found")

// Store is an object store. Implementations must be safe for concurrent use.
type Store interface {
	Exists(ctx context.Context, path string) (bool, error)
	Get(ctx context.Context, path string) ([]byte, error)
	Put(ctx context.Context, path string, data []byte, contentType string) error
	Delete(ctx context.Context, path string) error
	// List returns the paths under prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// GraphPath returns the graph.json path for key.
func GraphPath(k pkgkey.Key) string { return k.Object(GraphObject) }

// IndexPath returns the index.json path for key.
func IndexPath(k pkgkey.Key) string { return k.Object(IndexObject) }

// CrossEdgesPath returns the transient cross-edge payload path for key.
func CrossEdgesPath(k pkgkey.Key) string { return k.Object(CrossEdgesObject) }

// cleanPath validates and normalizes an object path.
func cleanPath(p string) (string, error) {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return "", fmt.Errorf("path is required")
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", fmt.Errorf("invalid path %q", p)
		}
	}
	return p, nil
}

func cleanPrefix(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	return p + "/"
}
