package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/symgraph/pkg/cache"
	"github.com/matzehuels/symgraph/pkg/integrations/github"
	"github.com/matzehuels/symgraph/pkg/pkgkey"
)

func repoServer(t *testing.T) *github.Client {
	t.Helper()
	mux := http.NewServeMux()
	// Only the bare version tag exists; "v1.0.0" returns 404.
	mux.HandleFunc("/api/repos/o/mono/git/trees/1.0.0", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tree":[
			{"path":"README.md","type":"blob","size":3},
			{"path":"crates/foo/Cargo.toml","type":"blob","size":10},
			{"path":"crates/foo/src/lib.rs","type":"blob","size":9},
			{"path":"crates/bar/src/lib.rs","type":"blob","size":9}]}`))
	})
	mux.HandleFunc("/api/repos/o/mono/git/trees/HEAD", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tree":[{"path":"src/lib.rs","type":"blob","size":4}]}`))
	})
	mux.HandleFunc("/raw/o/mono/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/1.0.0/crates/foo/src/lib.rs"):
			w.Write([]byte("fn foo(){}"))
		case strings.HasSuffix(r.URL.Path, "/1.0.0/crates/foo/Cargo.toml"):
			w.Write([]byte("[package]\n"))
		case strings.HasSuffix(r.URL.Path, "/HEAD/src/lib.rs"):
			w.Write([]byte("head"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return github.NewClient(cache.NewNullCache(), "", time.Hour).WithBaseURL(server.URL+"/api", server.URL+"/raw")
}

func TestRepoProviderTagInSubdir(t *testing.T) {
	p := NewRepoProvider(repoServer(t), TierMain, TagRefs)
	req := Request{
		Key:        pkgkey.Key{Ecosystem: "rust", Name: "foo", Version: "1.0.0"},
		Repository: "https://github.com/o/mono",
		Want:       func(path string) bool { return path == "Cargo.toml" || strings.HasPrefix(path, "src/") },
	}

	files, err := p.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, Files{"Cargo.toml": "[package]\n", "src/lib.rs": "fn foo(){}"}, files)
	assert.Equal(t, "github@tag", p.Name())
}

func TestRepoProviderHead(t *testing.T) {
	p := NewRepoProvider(repoServer(t), TierFallback, HeadRefs)
	req := Request{
		Key:        pkgkey.Key{Ecosystem: "rust", Name: "other", Version: "2.0.0"},
		Repository: "git+https://github.com/o/mono.git",
	}

	files, err := p.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "head", files["src/lib.rs"])
}

func TestRepoProviderNotFound(t *testing.T) {
	client := repoServer(t)
	tests := []struct {
		name string
		repo string
		ver  string
	}{
		{"no repository", "", "1.0.0"},
		{"non-github host", "https://gitlab.com/o/mono", "1.0.0"},
		{"no matching tag", "https://github.com/o/mono", "9.9.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewRepoProvider(client, TierMain, TagRefs)
			req := Request{Key: pkgkey.Key{Ecosystem: "rust", Name: "foo", Version: tt.ver}, Repository: tt.repo}
			_, err := p.Fetch(context.Background(), req)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestRepoProviderOverLimit(t *testing.T) {
	p := NewRepoProvider(repoServer(t), TierMain, TagRefs)
	req := Request{
		Key:        pkgkey.Key{Ecosystem: "rust", Name: "foo", Version: "1.0.0"},
		Repository: "https://github.com/o/mono",
		MaxBytes:   12,
	}

	_, err := p.Fetch(context.Background(), req)
	assert.ErrorIs(t, err, ErrOverLimit)
}
