// Package pkg holds the libraries behind symgraph, a service that turns
// published packages into symbol graphs and streams build progress to
// anyone watching.
//
// # Overview
//
// A package is addressed by a [pkgkey] (ecosystem, name, version). Building
// one means resolving its registry metadata, downloading the published
// archive, optionally fetching repository sources, parsing the result into
// nodes and edges, and storing the graph under eco/name/version. Edges that
// point into other packages are indexed separately so that every package
// touching a symbol can be found without loading every graph.
//
// # Architecture
//
//	POST /trigger ─► [pipeline] queue ─► worker
//	                        │
//	     check-existing ─► resolve ([metadata]) ─► fetch ([archive], [source])
//	                        │
//	     parse ([parser]) ─► store ([storage]) ─► index cross edges ([registry])
//	                        │
//	     fan out dependencies ─► ready
//
//	[registry] ──► GET /status/stream, /updates/stream ([server]) ──► [liveupdate]
//
// Status records live in the [registry], a sharded set of goroutines that
// own one key each. Every status change is pushed to the streams opened on
// that key. Streams are capped by a TTL and the [liveupdate] channel on the
// client reopens them when the server ends one.
//
// # Main Packages
//
// [pipeline] - The durable build steps, the bounded worker queue and the
// step journal (memory or SQLite) that lets a restart resume after the last
// confirmed step.
//
// [registry] - Per-key status records, TTL-capped status streams and the
// cross-edge index with its per-symbol notifications.
//
// [source] - Main and fallback source providers behind a retry and racing
// policy. Acquisition never fails the build; it reports an outcome.
//
// [liveupdate] - Client side of the SSE endpoints: delayed connect,
// reconnect on server TTL, backoff on transport failure.
//
// [server] - chi router exposing trigger, status, streams, stored
// artifacts, stats and Prometheus metrics.
//
// [storage] - Artifact stores: memory, filesystem, S3-compatible (minio) and
// MongoDB.
//
// # Supporting Packages
//
// [metadata] - Ecosystem router over the crates.io and npm resolvers.
//
// [integrations] - Shared registry HTTP client with caching, retry and rate
// limiting, plus crates.io, npm and GitHub clients.
//
// [cache] - Byte caches (null, file, LRU, Redis) and retry helpers.
//
// [parser] - Cargo and npm parsers emitting [graph] documents.
//
// [errors] - Coded errors shared by every layer.
//
// [observability] - Pipeline and HTTP hooks with a Prometheus backend.
//
// # Testing
//
//	go test ./pkg/...                    # All tests
//	go test -tags integration ./pkg/...  # Include tests against live services
//
// [pkgkey]: https://pkg.go.dev/github.com/matzehuels/symgraph/pkg/pkgkey
// [pipeline]: https://pkg.go.dev/github.com/matzehuels/symgraph/pkg/pipeline
// [registry]: https://pkg.go.dev/github.com/matzehuels/symgraph/pkg/registry
// [source]: https://pkg.go.dev/github.com/matzehuels/symgraph/pkg/source
// [liveupdate]: https://pkg.go.dev/github.com/matzehuels/symgraph/pkg/liveupdate
// [server]: https://pkg.go.dev/github.com/matzehuels/symgraph/pkg/server
// [storage]: https://pkg.go.dev/github.com/matzehuels/symgraph/pkg/storage
// [metadata]: https://pkg.go.dev/github.com/matzehuels/symgraph/pkg/metadata
// [archive]: https://pkg.go.dev/github.com/matzehuels/symgraph/pkg/archive
// [integrations]: https://pkg.go.dev/github.com/matzehuels/symgraph/pkg/integrations
// [cache]: https://pkg.go.dev/github.com/matzehuels/symgraph/pkg/cache
// [parser]: https://pkg.go.dev/github.com/matzehuels/symgraph/pkg/parser
// [graph]: https://pkg.go.dev/github.com/matzehuels/symgraph/pkg/graph
// [errors]: https://pkg.go.dev/github.com/matzehuels/symgraph/pkg/errors
// [observability]: https://pkg.go.dev/github.com/matzehuels/symgraph/pkg/observability
package pkg
