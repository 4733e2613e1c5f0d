package npm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/matzehuels/symgraph/pkg/cache"
	"github.com/matzehuels/symgraph/pkg/integrations"
)

const packument = `{
  "name": "left-pad",
  "dist-tags": {"latest": "1.3.0"},
  "versions": {
    "1.2.0": {"license": "WTFPL", "dist": {"tarball": "https://r/left-pad-1.2.0.tgz"}},
    "1.3.0": {
      "description": "pad",
      "license": {"type": "WTFPL"},
      "repository": {"type": "git", "url": "git+https://github.com/stevemao/left-pad.git"},
      "dependencies": {"b": "^1", "a": "^2"},
      "dist": {"tarball": "https://r/left-pad-1.3.0.tgz"}
    }
  }
}`

func testClient(t *testing.T) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.EscapedPath() {
		case "/left-pad", "/@scope%2Fleft-pad":
			w.Write([]byte(packument))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return NewClient(cache.NewNullCache(), time.Hour).WithBaseURL(server.URL), server
}

func TestFetchPackageLatest(t *testing.T) {
	c, _ := testClient(t)

	info, err := c.FetchPackage(context.Background(), "left-pad", true)
	if err != nil {
		t.Fatalf("FetchPackage() error: %v", err)
	}
	if info.Version != "1.3.0" || info.Latest != "1.3.0" {
		t.Errorf("version = %s latest = %s, want 1.3.0", info.Version, info.Latest)
	}
	if info.Repository != "https://github.com/stevemao/left-pad" {
		t.Errorf("Repository = %q", info.Repository)
	}
	if info.License != "WTFPL" {
		t.Errorf("License = %q", info.License)
	}
	names := info.DependencyNames()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("DependencyNames() = %v, want [a b]", names)
	}
}

func TestFetchVersionPinned(t *testing.T) {
	c, _ := testClient(t)

	info, err := c.FetchVersion(context.Background(), "left-pad", "1.2.0", true)
	if err != nil {
		t.Fatalf("FetchVersion() error: %v", err)
	}
	if info.Tarball != "https://r/left-pad-1.2.0.tgz" {
		t.Errorf("Tarball = %q", info.Tarball)
	}
	if info.Latest != "1.3.0" {
		t.Errorf("Latest = %q, want 1.3.0", info.Latest)
	}
}

func TestFetchVersionScoped(t *testing.T) {
	c, _ := testClient(t)

	if _, err := c.FetchVersion(context.Background(), "@scope/left-pad", "1.3.0", true); err != nil {
		t.Fatalf("FetchVersion() error: %v", err)
	}
}

func TestFetchVersionNotFound(t *testing.T) {
	c, _ := testClient(t)

	tests := []struct{ pkg, version string }{
		{"missing", ""},
		{"left-pad", "9.9.9"},
	}
	for _, tt := range tests {
		_, err := c.FetchVersion(context.Background(), tt.pkg, tt.version, true)
		if !errors.Is(err, integrations.ErrNotFound) {
			t.Errorf("FetchVersion(%s, %s) error = %v, want ErrNotFound", tt.pkg, tt.version, err)
		}
	}
}
