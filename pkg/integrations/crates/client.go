package crates

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matzehuels/symgraph/pkg/cache"
	"github.com/matzehuels/symgraph/pkg/integrations"
)

const userAgent = "symgraph/1.0 (https://github.com/matzehuels/symgraph)"

// CrateInfo holds crate-level metadata for a Rust crate from crates.io.
//
// The Version field contains the max_version (latest stable or highest version).
// Dependencies include only "normal" (non-dev, non-optional) dependencies.
type CrateInfo struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Dependencies []string `json:"dependencies,omitempty"`
	Repository   string   `json:"repository,omitempty"`
	HomePage     string   `json:"homepage,omitempty"`
	Description  string   `json:"description,omitempty"`
	License      string   `json:"license,omitempty"`
	Downloads    int      `json:"downloads"`
}

// VersionInfo describes one published version of a crate.
type VersionInfo struct {
	Name         string       `json:"name"`
	Version      string       `json:"version"`
	DownloadURL  string       `json:"download_url"`
	Checksum     string       `json:"checksum,omitempty"`
	Repository   string       `json:"repository,omitempty"`
	Yanked       bool         `json:"yanked"`
	Dependencies []Dependency `json:"dependencies,omitempty"`
}

// Dependency is a normal dependency declared by a crate version.
type Dependency struct {
	Name string `json:"name"`
	Req  string `json:"req"`
}

// Client provides access to the crates.io package registry API.
// It handles HTTP requests with caching and automatic retries.
//
// All methods are safe for concurrent use by multiple goroutines.
//
// Note: crates.io requires a User-Agent header; this client sets one automatically.
type Client struct {
	*integrations.Client
	baseURL     string
	downloadURL string
}

// NewClient creates a crates.io client with the given cache backend.
//
// Parameters:
//   - backend: Cache backend for HTTP response caching (use cache.NewNullCache() for no caching)
//   - cacheTTL: How long responses are cached (typical: 1-24 hours)
//
// crates.io asks crawlers to stay at one request per second, so the client is
// rate limited accordingly.
func NewClient(backend cache.Cache, cacheTTL time.Duration) *Client {
	headers := map[string]string{"User-Agent": userAgent}
	return &Client{
		Client:      integrations.NewClient(backend, "crates:", cacheTTL, headers).WithRateLimit(1, 2),
		baseURL:     "https://crates.io/api/v1",
		downloadURL: "https://static.crates.io/crates",
	}
}

// WithBaseURL points the client at a different API and download host.
// Used by tests and private registries.
func (c *Client) WithBaseURL(api, download string) *Client {
	c.baseURL = api
	if download != "" {
		c.downloadURL = download
	}
	return c
}

// FetchCrate retrieves metadata for the latest version of a Rust crate.
//
// If refresh is true, the cache is bypassed and a fresh API call is made.
// Dependency fetching failures are silently ignored; Dependencies will be
// empty if the secondary API call fails.
//
// Returns [integrations.ErrNotFound] if the crate doesn't exist and
// [integrations.ErrNetwork] for HTTP failures.
func (c *Client) FetchCrate(ctx context.Context, crate string, refresh bool) (*CrateInfo, error) {
	var info CrateInfo
	err := c.Cached(ctx, crate, refresh, &info, func() error {
		return c.fetch(ctx, crate, &info)
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// FetchVersion retrieves metadata for one exact crate version, including its
// archive download URL and normal dependencies.
func (c *Client) FetchVersion(ctx context.Context, crate, version string, refresh bool) (*VersionInfo, error) {
	var info VersionInfo
	err := c.Cached(ctx, crate+"@"+version, refresh, &info, func() error {
		return c.fetchVersion(ctx, crate, version, &info)
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// LatestVersion returns the max_version of a crate.
func (c *Client) LatestVersion(ctx context.Context, crate string, refresh bool) (string, error) {
	info, err := c.FetchCrate(ctx, crate, refresh)
	if err != nil {
		return "", err
	}
	return info.Version, nil
}

// ArchiveURL returns the static download URL of a .crate archive.
func (c *Client) ArchiveURL(crate, version string) string {
	return fmt.Sprintf("%s/%s/%s-%s.crate", c.downloadURL, crate, crate, version)
}

func (c *Client) fetch(ctx context.Context, crate string, info *CrateInfo) error {
	var data crateResponse
	if err := c.Get(ctx, fmt.Sprintf("%s/crates/%s", c.baseURL, crate), &data); err != nil {
		if errors.Is(err, integrations.ErrNotFound) {
			return fmt.Errorf("%w: crate %s", err, crate)
		}
		return err
	}

	deps, _ := c.fetchDeps(ctx, crate, data.Crate.MaxVersion)
	names := make([]string, 0, len(deps))
	for _, d := range deps {
		names = append(names, d.Name)
	}

	*info = CrateInfo{
		Name:         data.Crate.Name,
		Version:      data.Crate.MaxVersion,
		Description:  data.Crate.Description,
		License:      data.Crate.License,
		Repository:   integrations.NormalizeRepoURL(data.Crate.Repository),
		HomePage:     data.Crate.HomePage,
		Downloads:    data.Crate.Downloads,
		Dependencies: names,
	}
	return nil
}

func (c *Client) fetchVersion(ctx context.Context, crate, version string, info *VersionInfo) error {
	var data versionResponse
	if err := c.Get(ctx, fmt.Sprintf("%s/crates/%s/%s", c.baseURL, crate, version), &data); err != nil {
		if errors.Is(err, integrations.ErrNotFound) {
			return fmt.Errorf("%w: crate %s@%s", err, crate, version)
		}
		return err
	}

	deps, err := c.fetchDeps(ctx, crate, version)
	if err != nil {
		return err
	}

	*info = VersionInfo{
		Name:         crate,
		Version:      data.Version.Num,
		DownloadURL:  c.ArchiveURL(crate, data.Version.Num),
		Checksum:     data.Version.Checksum,
		Repository:   integrations.NormalizeRepoURL(data.Version.Repository),
		Yanked:       data.Version.Yanked,
		Dependencies: deps,
	}
	if info.Repository == "" {
		var meta crateResponse
		if c.Get(ctx, fmt.Sprintf("%s/crates/%s", c.baseURL, crate), &meta) == nil {
			info.Repository = integrations.NormalizeRepoURL(meta.Crate.Repository)
		}
	}
	return nil
}

func (c *Client) fetchDeps(ctx context.Context, crate, version string) ([]Dependency, error) {
	url := fmt.Sprintf("%s/crates/%s/%s/dependencies", c.baseURL, crate, version)

	var data depsResponse
	if err := c.Get(ctx, url, &data); err != nil {
		return nil, err
	}

	var deps []Dependency
	for _, d := range data.Dependencies {
		if d.Kind == "normal" && !d.Optional {
			deps = append(deps, Dependency{Name: d.CrateID, Req: d.Req})
		}
	}
	return deps, nil
}

type crateResponse struct {
	Crate struct {
		Name        string `json:"name"`
		MaxVersion  string `json:"max_version"`
		Description string `json:"description"`
		License     string `json:"license"`
		Repository  string `json:"repository"`
		HomePage    string `json:"homepage"`
		Downloads   int    `json:"downloads"`
	} `json:"crate"`
}

type versionResponse struct {
	Version struct {
		Num        string `json:"num"`
		Checksum   string `json:"checksum"`
		Yanked     bool   `json:"yanked"`
		Repository string `json:"repository"`
	} `json:"version"`
}

type depsResponse struct {
	Dependencies []depEntry `json:"dependencies"`
}

type depEntry struct {
	CrateID  string `json:"crate_id"`
	Req      string `json:"req"`
	Kind     string `json:"kind"`
	Optional bool   `json:"optional"`
}
