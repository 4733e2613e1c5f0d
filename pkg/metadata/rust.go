package metadata

import (
	"context"

	"github.com/matzehuels/symgraph/pkg/errors"
	"github.com/matzehuels/symgraph/pkg/graph"
	"github.com/matzehuels/symgraph/pkg/integrations/crates"
	"github.com/matzehuels/symgraph/pkg/pkgkey"
)

// Crates resolves Rust crates against crates.io.
type Crates struct {
	client *crates.Client
}

// NewCrates wraps a crates.io client.
func NewCrates(client *crates.Client) *Crates {
	return &Crates{client: client}
}

// Ecosystem returns "rust".
func (c *Crates) Ecosystem() string { return "rust" }

// Resolve fetches version metadata and the .crate download URL.
func (c *Crates) Resolve(ctx context.Context, key pkgkey.Key) (*Metadata, error) {
	if err := errors.ValidateCratesPackageName(key.Name); err != nil {
		return nil, err
	}
	v, err := c.client.FetchVersion(ctx, key.Name, key.Version, false)
	if err != nil {
		return nil, classify(err, key.String())
	}
	md := &Metadata{
		Key:         key,
		DownloadURL: v.DownloadURL,
		Format:      FormatCrate,
		Repository:  v.Repository,
	}
	for _, d := range v.Dependencies {
		md.Dependencies = append(md.Dependencies, graph.Dependency{
			Ecosystem: key.Ecosystem, Name: d.Name, Version: d.Req,
		})
	}
	return md, nil
}

// LatestVersion returns the crate's max_version.
func (c *Crates) LatestVersion(ctx context.Context, name string) (string, error) {
	v, err := c.client.LatestVersion(ctx, name, false)
	return v, classify(err, "rust:"+name)
}
