// Package archive unpacks published package archives.
//
// Registries ship packages as gzip-compressed tarballs whose entries share a
// single top-level directory ("package/" for npm, "{name}-{version}/" for
// crates). [Extract] strips that prefix, keeps only entries accepted by a
// filter and enforces a total byte budget so a pathological archive cannot
// exhaust memory.
package archive

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"

	symerrors "github.com/matzehuels/symgraph/pkg/errors"
)

// ErrLimit is returned when extracted content exceeds the byte budget.
var ErrLimit = errors.New("archive exceeds size limit")

// IsGzip reports whether data starts with the gzip magic bytes.
func IsGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

// Decompress gunzips data when it is gzip-compressed and returns it unchanged
// otherwise. At most maxBytes of output are produced; a non-positive maxBytes
// disables the cap.
func Decompress(data []byte, maxBytes int64) ([]byte, error) {
	if !IsGzip(data) {
		return data, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer zr.Close()

	var r io.Reader = zr
	if maxBytes > 0 {
		r = io.LimitReader(zr, maxBytes+1)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	if maxBytes > 0 && int64(len(out)) > maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes decompressed", ErrLimit, maxBytes)
	}
	return out, nil
}

// Options controls [Extract].
type Options struct {
	// MaxBytes caps the total size of kept entries. Zero disables the cap.
	MaxBytes int64
	// Keep selects entries by their prefix-stripped path. Nil keeps all.
	Keep func(name string) bool
	// KeepPrefix disables stripping of the shared top-level directory.
	KeepPrefix bool
}

// Extract reads a tar stream, gunzipping it first when needed, and returns
// the regular files it contains keyed by slash-separated relative path.
// Entries with unsafe paths are skipped.
func Extract(data []byte, opts Options) (map[string][]byte, error) {
	var r io.Reader = bytes.NewReader(data)
	if IsGzip(data) {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer zr.Close()
		r = zr
	}

	files := make(map[string][]byte)
	var total int64
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return files, nil
		}
		if err != nil {
			return nil, fmt.Errorf("tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := cleanName(hdr.Name, !opts.KeepPrefix)
		if name == "" {
			continue
		}
		if opts.Keep != nil && !opts.Keep(name) {
			continue
		}
		if opts.MaxBytes > 0 && total+hdr.Size > opts.MaxBytes {
			return nil, fmt.Errorf("%w: %s would bring total past %d bytes", ErrLimit, name, opts.MaxBytes)
		}
		body, err := io.ReadAll(io.LimitReader(tr, hdr.Size))
		if err != nil {
			return nil, fmt.Errorf("tar: read %s: %w", name, err)
		}
		total += int64(len(body))
		files[name] = body
	}
}

// cleanName normalizes an entry path and rejects anything that could escape
// the extraction root.
func cleanName(name string, stripPrefix bool) string {
	name = strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(name, "\\", "/")), "/")
	if stripPrefix {
		_, rest, ok := strings.Cut(name, "/")
		if !ok {
			return ""
		}
		name = rest
	}
	if name == "" || name == "." || symerrors.ValidatePath(name) != nil {
		return ""
	}
	return name
}
