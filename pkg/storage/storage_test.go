package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/matzehuels/symgraph/pkg/pkgkey"
)

func testStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	ok, err := s.Exists(ctx, "rust/foo/1.0.0/graph.json")
	if err != nil || ok {
		t.Fatalf("Exists on empty store = %v, %v", ok, err)
	}
	if _, err := s.Get(ctx, "rust/foo/1.0.0/graph.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing: got %v, want ErrNotFound", err)
	}

	paths := []string{
		"rust/foo/1.0.0/graph.json",
		"rust/foo/1.0.0/index.json",
		"rust/bar/2.0.0/graph.json",
		"npm/left-pad/1.3.0/graph.json",
	}
	for _, p := range paths {
		if err := s.Put(ctx, p, []byte(p), ContentTypeJSON); err != nil {
			t.Fatalf("Put(%s): %v", p, err)
		}
	}

	got, err := s.Get(ctx, "rust/foo/1.0.0/graph.json")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "rust/foo/1.0.0/graph.json" {
		t.Errorf("Get = %q", got)
	}

	if err := s.Put(ctx, "rust/foo/1.0.0/graph.json", []byte("v2"), ContentTypeJSON); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _ = s.Get(ctx, "rust/foo/1.0.0/graph.json")
	if string(got) != "v2" {
		t.Errorf("after overwrite Get = %q", got)
	}

	list, err := s.List(ctx, "rust")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"rust/bar/2.0.0/graph.json", "rust/foo/1.0.0/graph.json", "rust/foo/1.0.0/index.json"}
	if len(list) != len(want) {
		t.Fatalf("List = %v, want %v", list, want)
	}
	for i := range want {
		if list[i] != want[i] {
			t.Errorf("List[%d] = %s, want %s", i, list[i], want[i])
		}
	}

	if err := s.Delete(ctx, "rust/foo/1.0.0/index.json"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "rust/foo/1.0.0/index.json"); err != nil {
		t.Fatalf("Delete missing: %v", err)
	}
	ok, _ = s.Exists(ctx, "rust/foo/1.0.0/index.json")
	if ok {
		t.Error("Exists after delete")
	}

	for _, bad := range []string{"", "/", "a/../b", "a//b"} {
		if err := s.Put(ctx, bad, nil, ""); err == nil {
			t.Errorf("Put(%q) should fail", bad)
		}
	}
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestFSStore(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	testStore(t, s)
}

func TestMemoryStorePuts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	k := pkgkey.Key{Ecosystem: "rust", Name: "foo", Version: "1.0.0"}
	_ = s.Put(ctx, GraphPath(k), []byte("{}"), ContentTypeJSON)
	_ = s.Put(ctx, GraphPath(k), []byte("{}"), ContentTypeJSON)
	if n := s.Puts(GraphPath(k)); n != 2 {
		t.Errorf("Puts = %d, want 2", n)
	}
	if n := s.TotalPuts(); n != 2 {
		t.Errorf("TotalPuts = %d, want 2", n)
	}
}

func TestMemoryStoreCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	buf := []byte("abc")
	_ = s.Put(ctx, "a/b", buf, "")
	buf[0] = 'x'
	got, _ := s.Get(ctx, "a/b")
	if string(got) != "abc" {
		t.Errorf("stored data aliased caller buffer: %q", got)
	}
}

func TestPaths(t *testing.T) {
	k := pkgkey.Key{Ecosystem: "rust", Name: "serde", Version: "1.0.193"}
	tests := []struct {
		got, want string
	}{
		{GraphPath(k), "rust/serde/1.0.193/graph.json"},
		{IndexPath(k), "rust/serde/1.0.193/index.json"},
		{CrossEdgesPath(k), "rust/serde/1.0.193/_cross-edges.json"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %s, want %s", tt.got, tt.want)
		}
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Config{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("default backend = %T", s)
	}
	if _, err := Open(ctx, Config{Backend: BackendFS}); err == nil {
		t.Error("fs without dir should fail")
	}
	if _, err := Open(ctx, Config{Backend: "tape"}); err == nil {
		t.Error("unknown backend should fail")
	}
	if _, err := Open(ctx, Config{Backend: BackendS3}); err == nil {
		t.Error("s3 without endpoint should fail")
	}
}
