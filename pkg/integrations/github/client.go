package github

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/matzehuels/symgraph/pkg/cache"
	"github.com/matzehuels/symgraph/pkg/integrations"
)

// TreeEntry is one blob or directory in a repository tree.
type TreeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"` // "blob" or "tree"
	Size int64  `json:"size"`
}

// Client reads repository trees and raw files from GitHub.
type Client struct {
	*integrations.Client
	baseURL string
	rawURL  string
}

// NewClient creates a GitHub client with optional authentication.
// Pass an empty string for token to use unauthenticated requests.
func NewClient(backend cache.Cache, token string, cacheTTL time.Duration) *Client {
	headers := map[string]string{"Accept": "application/vnd.github.v3+json"}
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	return &Client{
		Client:  integrations.NewClient(backend, "github:", cacheTTL, headers),
		baseURL: "https://api.github.com",
		rawURL:  "https://raw.githubusercontent.com",
	}
}

// WithBaseURL points the client at different API and raw hosts.
func (c *Client) WithBaseURL(api, raw string) *Client {
	c.baseURL = strings.TrimSuffix(api, "/")
	c.rawURL = strings.TrimSuffix(raw, "/")
	return c
}

// Tree lists every entry of the repository at ref. An empty ref means HEAD.
// Truncated trees are returned as-is.
func (c *Client) Tree(ctx context.Context, owner, repo, ref string) ([]TreeEntry, error) {
	if ref == "" {
		ref = "HEAD"
	}
	key := owner + "/" + repo + "@" + ref

	var entries []TreeEntry
	err := c.Cached(ctx, key, false, &entries, func() error {
		var resp treeResponse
		url := fmt.Sprintf("%s/repos/%s/%s/git/trees/%s?recursive=1", c.baseURL, owner, repo, ref)
		if err := c.Get(ctx, url, &resp); err != nil {
			if errors.Is(err, integrations.ErrNotFound) {
				return fmt.Errorf("%w: %s/%s@%s", err, owner, repo, ref)
			}
			return err
		}
		entries = resp.Tree
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// RawFile downloads one file at ref, capped at maxBytes.
func (c *Client) RawFile(ctx context.Context, owner, repo, ref, path string, maxBytes int64) ([]byte, error) {
	if ref == "" {
		ref = "HEAD"
	}
	url := fmt.Sprintf("%s/%s/%s/%s/%s", c.rawURL, owner, repo, ref, strings.TrimPrefix(path, "/"))
	return c.Download(ctx, url, maxBytes)
}

type treeResponse struct {
	Tree      []TreeEntry `json:"tree"`
	Truncated bool        `json:"truncated"`
}
