package crates

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/matzehuels/symgraph/pkg/cache"
	"github.com/matzehuels/symgraph/pkg/integrations"
)

func TestNewClient(t *testing.T) {
	c := NewClient(cache.NewNullCache(), time.Hour)
	if c.Client == nil {
		t.Error("expected client to be initialized")
	}
	if got := c.ArchiveURL("serde", "1.0.0"); got != "https://static.crates.io/crates/serde/serde-1.0.0.crate" {
		t.Errorf("ArchiveURL() = %q", got)
	}
}

func testServer(t *testing.T) *httptest.Server {
	t.Helper()

	crateResp := crateResponse{}
	crateResp.Crate.Name = "serde"
	crateResp.Crate.MaxVersion = "1.0.0"
	crateResp.Crate.Description = "A serialization framework"
	crateResp.Crate.License = "MIT"
	crateResp.Crate.Repository = "https://github.com/serde-rs/serde"
	crateResp.Crate.Downloads = 1000000

	versionResp := versionResponse{}
	versionResp.Version.Num = "1.0.0"
	versionResp.Version.Checksum = "abc"

	depsResp := depsResponse{
		Dependencies: []depEntry{
			{CrateID: "serde_derive", Req: "^1", Kind: "normal"},
			{CrateID: "test_dep", Req: "^0.1", Kind: "dev"},
			{CrateID: "optional_dep", Req: "^2", Kind: "normal", Optional: true},
		},
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Error("missing User-Agent header")
		}
		switch r.URL.Path {
		case "/crates/serde":
			json.NewEncoder(w).Encode(crateResp)
		case "/crates/serde/1.0.0":
			json.NewEncoder(w).Encode(versionResp)
		case "/crates/serde/1.0.0/dependencies":
			json.NewEncoder(w).Encode(depsResp)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestClient_FetchCrate(t *testing.T) {
	server := testServer(t)
	defer server.Close()

	c := testClient(t, server.URL)

	info, err := c.FetchCrate(context.Background(), "serde", true)
	if err != nil {
		t.Fatalf("FetchCrate failed: %v", err)
	}

	if info.Name != "serde" {
		t.Errorf("expected name serde, got %s", info.Name)
	}
	if info.Version != "1.0.0" {
		t.Errorf("expected version 1.0.0, got %s", info.Version)
	}
	if len(info.Dependencies) != 1 {
		t.Errorf("expected 1 dependency, got %d", len(info.Dependencies))
	}
	if len(info.Dependencies) > 0 && info.Dependencies[0] != "serde_derive" {
		t.Errorf("expected serde_derive, got %s", info.Dependencies[0])
	}
}

func TestClient_FetchVersion(t *testing.T) {
	server := testServer(t)
	defer server.Close()

	c := testClient(t, server.URL)

	v, err := c.FetchVersion(context.Background(), "serde", "1.0.0", true)
	if err != nil {
		t.Fatalf("FetchVersion failed: %v", err)
	}
	if v.DownloadURL != server.URL+"/dl/serde/serde-1.0.0.crate" {
		t.Errorf("DownloadURL = %q", v.DownloadURL)
	}
	if v.Repository != "https://github.com/serde-rs/serde" {
		t.Errorf("Repository = %q, want crate-level fallback", v.Repository)
	}
	if len(v.Dependencies) != 1 || v.Dependencies[0].Req != "^1" {
		t.Errorf("Dependencies = %+v", v.Dependencies)
	}
}

func TestClient_LatestVersion(t *testing.T) {
	server := testServer(t)
	defer server.Close()

	got, err := testClient(t, server.URL).LatestVersion(context.Background(), "serde", true)
	if err != nil {
		t.Fatalf("LatestVersion failed: %v", err)
	}
	if got != "1.0.0" {
		t.Errorf("LatestVersion() = %q, want 1.0.0", got)
	}
}

func TestClient_FetchCrate_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := testClient(t, server.URL)

	_, err := c.FetchCrate(context.Background(), "nonexistent", true)
	if !errors.Is(err, integrations.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	_, err = c.FetchVersion(context.Background(), "nonexistent", "0.1.0", true)
	if !errors.Is(err, integrations.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func testClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	headers := map[string]string{"User-Agent": userAgent}
	return &Client{
		Client:      integrations.NewClient(cache.NewNullCache(), "crates:", time.Hour, headers),
		baseURL:     serverURL,
		downloadURL: serverURL + "/dl",
	}
}
