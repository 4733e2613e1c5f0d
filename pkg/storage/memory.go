package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore keeps objects in a map.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
	puts map[string]int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
		puts: make(map[string]int),
	}
}

func (s *MemoryStore) Exists(_ context.Context, path string) (bool, error) {
	p, err := cleanPath(path)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[p]
	return ok, nil
}

func (s *MemoryStore) Get(_ context.Context, path string) ([]byte, error) {
	p, err := cleanPath(path)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[p]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStore) Put(_ context.Context, path string, data []byte, _ string) error {
	p, err := cleanPath(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[p] = append([]byte(nil), data...)
	s.puts[p]++
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, path string) error {
	p, err := cleanPath(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, p)
	return nil
}

func (s *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	prefix = cleanPrefix(prefix)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for p := range s.data {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

// Puts returns how many times path was written. Used to assert idempotency.
func (s *MemoryStore) Puts(path string) int {
	p, _ := cleanPath(path)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts[p]
}

// TotalPuts returns the number of writes across all paths.
func (s *MemoryStore) TotalPuts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.puts {
		n += c
	}
	return n
}

var _ Store = (*MemoryStore)(nil)
