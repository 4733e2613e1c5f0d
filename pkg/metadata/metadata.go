package metadata

import (
	"context"
	stderrors "errors"

	"github.com/matzehuels/symgraph/pkg/cache"
	"github.com/matzehuels/symgraph/pkg/errors"
	"github.com/matzehuels/symgraph/pkg/graph"
	"github.com/matzehuels/symgraph/pkg/integrations"
	"github.com/matzehuels/symgraph/pkg/pkgkey"
)

// Archive formats reported in [Metadata.Format].
const (
	FormatTarGz = "tar.gz"
	FormatCrate = "crate" // gzip-compressed tar with a {name}-{version}/ prefix
)

// Metadata is what the pipeline needs to know about one package version.
type Metadata struct {
	Key          pkgkey.Key         `json:"key"`
	DownloadURL  string             `json:"download_url"`
	Format       string             `json:"format"`
	Repository   string             `json:"repository,omitempty"`
	Description  string             `json:"description,omitempty"`
	License      string             `json:"license,omitempty"`
	Latest       string             `json:"latest,omitempty"`
	Dependencies []graph.Dependency `json:"dependencies,omitempty"`
}

// Resolver looks up packages in one ecosystem.
type Resolver interface {
	// Ecosystem returns the ecosystem identifier, e.g. "rust".
	Ecosystem() string
	// Resolve returns metadata for the exact key.
	Resolve(ctx context.Context, key pkgkey.Key) (*Metadata, error)
	// LatestVersion returns the newest published version of name.
	LatestVersion(ctx context.Context, name string) (string, error)
}

// classify maps integration errors onto coded errors while keeping the
// retryable marker reachable through the cause chain.
func classify(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, integrations.ErrNotFound):
		return errors.Wrap(errors.ErrCodePackageNotFound, err, "%s not found", what)
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.Wrap(errors.ErrCodeTimeout, err, "resolve %s", what)
	case stderrors.Is(err, integrations.ErrRateLimited):
		return errors.Wrap(errors.ErrCodeRateLimited, err, "resolve %s", what)
	case cache.IsRetryable(err), stderrors.Is(err, integrations.ErrNetwork):
		return errors.Wrap(errors.ErrCodeNetwork, err, "resolve %s", what)
	default:
		return errors.Wrap(errors.ErrCodeInternal, err, "resolve %s", what)
	}
}
