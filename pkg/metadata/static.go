package metadata

import (
	"context"
	"sync"

	"github.com/matzehuels/symgraph/pkg/errors"
	"github.com/matzehuels/symgraph/pkg/pkgkey"
)

// Static is an in-memory resolver for offline use and tests.
type Static struct {
	ecosystem string

	mu       sync.Mutex
	packages map[pkgkey.Key]*Metadata
	latest   map[string]string
	calls    map[string]int
}

// NewStatic creates an empty resolver for ecosystem.
func NewStatic(ecosystem string) *Static {
	return &Static{
		ecosystem: ecosystem,
		packages:  make(map[pkgkey.Key]*Metadata),
		latest:    make(map[string]string),
		calls:     make(map[string]int),
	}
}

// Add registers md; the first added version of a name becomes its latest
// unless SetLatest says otherwise.
func (s *Static) Add(md *Metadata) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packages[md.Key] = md
	if _, ok := s.latest[md.Key.Name]; !ok {
		s.latest[md.Key.Name] = md.Key.Version
	}
	return s
}

// SetLatest overrides the latest version reported for name.
func (s *Static) SetLatest(name, version string) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest[name] = version
	return s
}

// Calls returns how many times op ("resolve" or "latest") was invoked.
func (s *Static) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Ecosystem returns the configured ecosystem.
func (s *Static) Ecosystem() string { return s.ecosystem }

// Resolve returns the registered metadata for key.
func (s *Static) Resolve(_ context.Context, key pkgkey.Key) (*Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["resolve"]++
	md, ok := s.packages[key]
	if !ok {
		return nil, errors.New(errors.ErrCodePackageNotFound, "%s not found", key)
	}
	cp := *md
	return &cp, nil
}

// LatestVersion returns the latest registered version of name.
func (s *Static) LatestVersion(_ context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["latest"]++
	v, ok := s.latest[name]
	if !ok {
		return "", errors.New(errors.ErrCodePackageNotFound, "%s:%s not found", s.ecosystem, name)
	}
	return v, nil
}
