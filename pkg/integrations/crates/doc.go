// Package crates provides an HTTP client for the crates.io API.
//
// # Usage
//
//	client := crates.NewClient(backend, cache.TTLHTTP)
//
//	v, err := client.FetchVersion(ctx, "serde", "1.0.193", false)
//	if err != nil {
//	    return err
//	}
//	data, err := client.Download(ctx, v.DownloadURL, source.DefaultMaxBytes)
//
// [FetchCrate] returns crate-level data for the latest release, while
// [FetchVersion] pins one exact version and resolves the static archive URL
// (static.crates.io/crates/{name}/{name}-{version}.crate).
//
// # Dependency Filtering
//
// Only "normal" dependencies are included. Development dependencies,
// build dependencies, and optional dependencies are filtered out.
//
// # User-Agent
//
// The client includes a User-Agent header as requested by crates.io policy.
package crates
