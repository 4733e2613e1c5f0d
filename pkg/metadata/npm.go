package metadata

import (
	"context"

	"github.com/matzehuels/symgraph/pkg/errors"
	"github.com/matzehuels/symgraph/pkg/graph"
	"github.com/matzehuels/symgraph/pkg/integrations/npm"
	"github.com/matzehuels/symgraph/pkg/pkgkey"
)

// NPM resolves packages against the npm registry.
type NPM struct {
	client *npm.Client
}

// NewNPM wraps an npm registry client.
func NewNPM(client *npm.Client) *NPM {
	return &NPM{client: client}
}

// Ecosystem returns "npm".
func (n *NPM) Ecosystem() string { return "npm" }

// Resolve fetches the packument entry for the exact version.
func (n *NPM) Resolve(ctx context.Context, key pkgkey.Key) (*Metadata, error) {
	if err := errors.ValidateNpmPackageName(key.Name); err != nil {
		return nil, err
	}
	info, err := n.client.FetchVersion(ctx, key.Name, key.Version, false)
	if err != nil {
		return nil, classify(err, key.String())
	}
	md := &Metadata{
		Key:         key,
		DownloadURL: info.Tarball,
		Format:      FormatTarGz,
		Repository:  info.Repository,
		Description: info.Description,
		License:     info.License,
		Latest:      info.Latest,
	}
	for _, name := range info.DependencyNames() {
		md.Dependencies = append(md.Dependencies, graph.Dependency{
			Ecosystem: key.Ecosystem, Name: name, Version: info.Dependencies[name],
		})
	}
	return md, nil
}

// LatestVersion returns the "latest" dist-tag.
func (n *NPM) LatestVersion(ctx context.Context, name string) (string, error) {
	v, err := n.client.LatestVersion(ctx, name, false)
	return v, classify(err, "npm:"+name)
}
