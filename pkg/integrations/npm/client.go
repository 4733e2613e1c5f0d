package npm

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/matzehuels/symgraph/pkg/cache"
	"github.com/matzehuels/symgraph/pkg/integrations"
)

// PackageInfo describes one version of an npm package.
type PackageInfo struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Latest       string            `json:"latest"`
	Tarball      string            `json:"tarball,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
	Repository   string            `json:"repository,omitempty"`
	HomePage     string            `json:"homepage,omitempty"`
	Description  string            `json:"description,omitempty"`
	License      string            `json:"license,omitempty"`
}

// DependencyNames returns the sorted runtime dependency names.
func (p *PackageInfo) DependencyNames() []string {
	return slices.Sorted(maps.Keys(p.Dependencies))
}

// Client provides access to the npm registry.
// All methods are safe for concurrent use.
type Client struct {
	*integrations.Client
	baseURL string
}

// NewClient creates an npm registry client with the given cache backend.
func NewClient(backend cache.Cache, cacheTTL time.Duration) *Client {
	return &Client{
		Client:  integrations.NewClient(backend, "npm:", cacheTTL, nil),
		baseURL: "https://registry.npmjs.org",
	}
}

// WithBaseURL points the client at a different registry.
func (c *Client) WithBaseURL(u string) *Client {
	c.baseURL = strings.TrimSuffix(u, "/")
	return c
}

// FetchPackage retrieves the version tagged "latest".
func (c *Client) FetchPackage(ctx context.Context, pkg string, refresh bool) (*PackageInfo, error) {
	return c.FetchVersion(ctx, pkg, "", refresh)
}

// FetchVersion retrieves one exact version. An empty version selects the
// "latest" dist-tag.
func (c *Client) FetchVersion(ctx context.Context, pkg, version string, refresh bool) (*PackageInfo, error) {
	pkg = strings.ToLower(strings.TrimSpace(pkg))
	key := pkg + "@" + version

	var info PackageInfo
	err := c.Cached(ctx, key, refresh, &info, func() error {
		return c.fetch(ctx, pkg, version, &info)
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// LatestVersion returns the "latest" dist-tag of a package.
func (c *Client) LatestVersion(ctx context.Context, pkg string, refresh bool) (string, error) {
	info, err := c.FetchPackage(ctx, pkg, refresh)
	if err != nil {
		return "", err
	}
	return info.Latest, nil
}

func (c *Client) fetch(ctx context.Context, pkg, version string, info *PackageInfo) error {
	var data registryResponse
	// Scoped names keep their "@" but the slash must be escaped.
	if err := c.Get(ctx, c.baseURL+"/"+strings.Replace(pkg, "/", "%2F", 1), &data); err != nil {
		if errors.Is(err, integrations.ErrNotFound) {
			return fmt.Errorf("%w: npm package %s", err, pkg)
		}
		return err
	}

	latest := data.DistTags.Latest
	if version == "" {
		version = latest
	}
	v, ok := data.Versions[version]
	if !ok {
		return fmt.Errorf("%w: npm package %s@%s", integrations.ErrNotFound, pkg, version)
	}

	*info = PackageInfo{
		Name:         data.Name,
		Version:      version,
		Latest:       latest,
		Tarball:      v.Dist.Tarball,
		Description:  v.Description,
		License:      extractField(v.License, "type"),
		Repository:   integrations.NormalizeRepoURL(extractField(v.Repository, "url")),
		HomePage:     v.HomePage,
		Dependencies: v.Dependencies,
	}
	return nil
}

func extractField(v any, field string) string {
	switch val := v.(type) {
	case string:
		return val
	case map[string]any:
		if s, ok := val[field].(string); ok {
			return s
		}
	}
	return ""
}

type registryResponse struct {
	Name     string                    `json:"name"`
	DistTags distTags                  `json:"dist-tags"`
	Versions map[string]versionDetails `json:"versions"`
}

type distTags struct {
	Latest string `json:"latest"`
}

type versionDetails struct {
	Description  string            `json:"description"`
	License      any               `json:"license"`
	Repository   any               `json:"repository"`
	HomePage     string            `json:"homepage"`
	Dependencies map[string]string `json:"dependencies"`
	Dist         struct {
		Tarball string `json:"tarball"`
	} `json:"dist"`
}
