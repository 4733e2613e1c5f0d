package source

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/matzehuels/symgraph/pkg/integrations"
	"github.com/matzehuels/symgraph/pkg/integrations/github"
)

// maxRepoFiles bounds how many raw files one fetch downloads.
const maxRepoFiles = 400

// RefStrategy lists the git refs to try for a request, most specific first.
type RefStrategy func(req Request) []string

// TagRefs tries the tag spellings commonly used for releases.
func TagRefs(req Request) []string {
	v, n := req.Key.Version, req.Key.Name
	return []string{"v" + v, v, n + "-v" + v, n + "-" + v, n + "@" + v}
}

// HeadRefs uses the default branch.
func HeadRefs(Request) []string { return []string{"HEAD"} }

// RepoProvider reads source files straight from a GitHub repository.
type RepoProvider struct {
	client *github.Client
	tier   Tier
	refs   RefStrategy
}

// NewRepoProvider creates a provider for tier that tries refs in order.
func NewRepoProvider(client *github.Client, tier Tier, refs RefStrategy) *RepoProvider {
	return &RepoProvider{client: client, tier: tier, refs: refs}
}

// Name identifies the provider in logs, e.g. "github@tag".
func (p *RepoProvider) Name() string {
	if p.tier == TierMain {
		return "github@tag"
	}
	return "github@head"
}

// Tier returns the configured tier.
func (p *RepoProvider) Tier() Tier { return p.tier }

// Fetch lists the tree at the first existing ref and downloads wanted blobs.
func (p *RepoProvider) Fetch(ctx context.Context, req Request) (Files, error) {
	owner, repo, ok := integrations.ParseRepoURL(req.Repository)
	if !ok {
		return nil, fmt.Errorf("%w: no GitHub repository for %s", ErrNotFound, req.Key)
	}

	ref, entries, err := p.tree(ctx, owner, repo, req)
	if err != nil {
		return nil, err
	}

	prefix, paths := selectSubtree(entries, req)
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: %s/%s@%s has no wanted files", ErrNotFound, owner, repo, ref)
	}

	budget := req.maxBytes()
	files := make(Files, len(paths))
	for _, rel := range paths {
		data, err := p.client.RawFile(ctx, owner, repo, ref, prefix+rel, budget)
		if err != nil {
			if stderrors.Is(err, integrations.ErrTooLarge) {
				return nil, fmt.Errorf("%w: %s", ErrOverLimit, rel)
			}
			return nil, err
		}
		budget -= int64(len(data))
		files[rel] = string(data)
	}
	return files, nil
}

func (p *RepoProvider) tree(ctx context.Context, owner, repo string, req Request) (string, []github.TreeEntry, error) {
	var lastErr error
	for _, ref := range p.refs(req) {
		entries, err := p.client.Tree(ctx, owner, repo, ref)
		if err == nil {
			return ref, entries, nil
		}
		if !stderrors.Is(err, integrations.ErrNotFound) {
			return "", nil, err
		}
		lastErr = err
	}
	return "", nil, fmt.Errorf("%w: %v", ErrNotFound, lastErr)
}

// selectSubtree picks the directory holding the package inside a possibly
// multi-package repository and returns wanted paths relative to it.
func selectSubtree(entries []github.TreeEntry, req Request) (string, []string) {
	name := req.Key.Name
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	prefixes := []string{name + "/", "crates/" + name + "/", "packages/" + name + "/", ""}

	for _, prefix := range prefixes {
		var paths []string
		for _, e := range entries {
			if e.Type != "blob" || !strings.HasPrefix(e.Path, prefix) {
				continue
			}
			rel := strings.TrimPrefix(e.Path, prefix)
			if !req.wants(rel) {
				continue
			}
			paths = append(paths, rel)
			if len(paths) == maxRepoFiles {
				break
			}
		}
		if len(paths) > 0 {
			return prefix, paths
		}
	}
	return "", nil
}
