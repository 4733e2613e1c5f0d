// Package integrations provides HTTP clients for package registry and
// repository host APIs.
//
// # Overview
//
// Each upstream has its own subpackage:
//
//   - [crates]: Rust crates.io (metadata, versions, .crate downloads)
//   - [npm]: npm registry (packuments, dist-tags, tarball downloads)
//   - [github]: GitHub trees and raw file access for source fallback
//
// # Client Pattern
//
// All clients follow a consistent pattern:
//
//	client := crates.NewClient(backend, cache.TTLHTTP)
//	info, err := client.FetchCrate(ctx, "serde", false) // false = use cache
//
// Clients handle:
//   - HTTP requests with retry and optional rate limiting
//   - Response caching through any [cache.Cache] backend
//   - API-specific parsing and normalization
//   - Bounded downloads ([Client.Download]) for archives
//
// # Shared Infrastructure
//
// The [Client] type provides shared HTTP functionality used by all
// subpackages. Status codes are classified once in this package: 404 maps to
// [ErrNotFound], 429 and 5xx are wrapped in [cache.RetryableError] so
// [cache.Retry] tries again, everything else fails immediately.
//
// [crates]: github.com/matzehuels/symgraph/pkg/integrations/crates
// [npm]: github.com/matzehuels/symgraph/pkg/integrations/npm
// [github]: github.com/matzehuels/symgraph/pkg/integrations/github
// [cache.Cache]: github.com/matzehuels/symgraph/pkg/cache.Cache
// [cache.RetryableError]: github.com/matzehuels/symgraph/pkg/cache.RetryableError
// [cache.Retry]: github.com/matzehuels/symgraph/pkg/cache.Retry
package integrations
