package storage

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FSStore keeps objects as files under a root directory. Writes go through
// a temporary file and rename so readers never see partial objects.
type FSStore struct {
	root string
}

// NewFSStore creates a store rooted at dir, creating it if needed.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FSStore{root: dir}, nil
}

func (s *FSStore) file(path string) (string, error) {
	p, err := cleanPath(path)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(p)), nil
}

func (s *FSStore) Exists(_ context.Context, path string) (bool, error) {
	f, err := s.file(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(f)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

func (s *FSStore) Get(_ context.Context, path string) ([]byte, error) {
	f, err := s.file(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *FSStore) Put(_ context.Context, path string, data []byte, _ string) error {
	f, err := s.file(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f)
}

func (s *FSStore) Delete(_ context.Context, path string) error {
	f, err := s.file(path)
	if err != nil {
		return err
	}
	err = os.Remove(f)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *FSStore) List(_ context.Context, prefix string) ([]string, error) {
	prefix = cleanPrefix(prefix)
	var out []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			out = append(out, rel)
		}
		return nil
	})
	sort.Strings(out)
	return out, err
}

func (s *FSStore) Close() error { return nil }

var _ Store = (*FSStore)(nil)
