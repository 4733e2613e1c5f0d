package archive

import (
	"archive/tar"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
)

type entry struct {
	name string
	body string
	dir  bool
}

func buildTar(t *testing.T, compress bool, entries ...entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	var tw *tar.Writer
	var zw *gzip.Writer
	if compress {
		zw = gzip.NewWriter(&buf)
		tw = tar.NewWriter(zw)
	} else {
		tw = tar.NewWriter(&buf)
	}
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o644, Size: int64(len(e.body)), Typeflag: tar.TypeReg}
		if e.dir {
			hdr = &tar.Header{Name: e.name, Mode: 0o755, Typeflag: tar.TypeDir}
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if !e.dir {
			if _, err := tw.Write([]byte(e.body)); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			t.Fatal(err)
		}
	}
	return buf.Bytes()
}

func TestExtract(t *testing.T) {
	data := buildTar(t, true,
		entry{name: "foo-1.0.0/", dir: true},
		entry{name: "foo-1.0.0/Cargo.toml", body: "[package]\nname = \"foo\"\n"},
		entry{name: "foo-1.0.0/src/lib.rs", body: "pub fn a() {}\n"},
		entry{name: "foo-1.0.0/README.md", body: "hi"},
	)

	files, err := Extract(data, Options{Keep: func(name string) bool { return !strings.HasSuffix(name, ".md") }})
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("Extract() kept %d files: %v", len(files), keys(files))
	}
	if string(files["src/lib.rs"]) != "pub fn a() {}\n" {
		t.Errorf("src/lib.rs = %q", files["src/lib.rs"])
	}
	if _, ok := files["Cargo.toml"]; !ok {
		t.Error("Cargo.toml missing")
	}
}

func TestExtractUncompressedKeepPrefix(t *testing.T) {
	data := buildTar(t, false, entry{name: "package/package.json", body: "{}"})

	files, err := Extract(data, Options{KeepPrefix: true})
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if _, ok := files["package/package.json"]; !ok {
		t.Errorf("Extract() = %v, want package/package.json", keys(files))
	}
}

func TestExtractLimit(t *testing.T) {
	data := buildTar(t, true,
		entry{name: "p/a.rs", body: strings.Repeat("a", 60)},
		entry{name: "p/b.rs", body: strings.Repeat("b", 60)},
	)

	_, err := Extract(data, Options{MaxBytes: 100})
	if !errors.Is(err, ErrLimit) {
		t.Errorf("Extract() error = %v, want ErrLimit", err)
	}
}

func TestDecompress(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte("hello world"))
	zw.Close()

	tests := []struct {
		name    string
		in      []byte
		max     int64
		want    string
		wantErr error
	}{
		{"plain passthrough", []byte("plain"), 0, "plain", nil},
		{"gzip", buf.Bytes(), 0, "hello world", nil},
		{"gzip within cap", buf.Bytes(), 11, "hello world", nil},
		{"gzip over cap", buf.Bytes(), 5, "", ErrLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Decompress(tt.in, tt.max)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Decompress() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decompress() error: %v", err)
			}
			if string(out) != tt.want {
				t.Errorf("Decompress() = %q, want %q", out, tt.want)
			}
		})
	}
}

func TestCleanName(t *testing.T) {
	tests := []struct {
		in    string
		strip bool
		want  string
	}{
		{"foo-1.0.0/src/lib.rs", true, "src/lib.rs"},
		{"foo-1.0.0/../../evil.rs", true, ""},
		{"package\\index.js", true, "index.js"},
		{"top-level-file", true, ""},
		{"./a/b", false, "a/b"},
		{"a/\x01b", false, ""},
	}
	for _, tt := range tests {
		if got := cleanName(tt.in, tt.strip); got != tt.want {
			t.Errorf("cleanName(%q, %v) = %q, want %q", tt.in, tt.strip, got, tt.want)
		}
	}
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
