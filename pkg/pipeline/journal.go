package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/matzehuels/symgraph/pkg/pkgkey"
)

// Journal records which steps of an attempt have completed, together with
// each step's output, so an interrupted run can resume where it stopped.
//
// An attempt stays open until Finish is called. Begin returns the open
// attempt for a key when there is one, otherwise it starts a new attempt.
type Journal interface {
	Begin(ctx context.Context, key pkgkey.Key) (attempt string, resumed bool, err error)
	Completed(ctx context.Context, key pkgkey.Key, attempt string) (map[string][]byte, error)
	MarkDone(ctx context.Context, key pkgkey.Key, attempt, step string, output []byte) error
	Finish(ctx context.Context, key pkgkey.Key, attempt, status string) error
	Close() error
}

// NewAttemptID returns a new time-ordered attempt id. Later attempts sort
// after earlier ones, which the registry relies on to discard stale
// cross-edge replaces.
func NewAttemptID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// MemoryJournal is an in-process Journal. It survives retries within one
// process but not restarts.
type MemoryJournal struct {
	mu       sync.Mutex
	open     map[pkgkey.Key]string
	steps    map[string]map[string][]byte
	finished map[string]string
}

// NewMemoryJournal creates an empty journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{
		open:     make(map[pkgkey.Key]string),
		steps:    make(map[string]map[string][]byte),
		finished: make(map[string]string),
	}
}

func (j *MemoryJournal) Begin(_ context.Context, key pkgkey.Key) (string, bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if a, ok := j.open[key]; ok {
		return a, true, nil
	}
	a := NewAttemptID()
	j.open[key] = a
	j.steps[a] = make(map[string][]byte)
	return a, false, nil
}

func (j *MemoryJournal) Completed(_ context.Context, _ pkgkey.Key, attempt string) (map[string][]byte, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make(map[string][]byte, len(j.steps[attempt]))
	for k, v := range j.steps[attempt] {
		out[k] = v
	}
	return out, nil
}

func (j *MemoryJournal) MarkDone(_ context.Context, _ pkgkey.Key, attempt, step string, output []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	steps, ok := j.steps[attempt]
	if !ok {
		steps = make(map[string][]byte)
		j.steps[attempt] = steps
	}
	steps[step] = append([]byte(nil), output...)
	return nil
}

func (j *MemoryJournal) Finish(_ context.Context, key pkgkey.Key, attempt, status string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.open[key] == attempt {
		delete(j.open, key)
	}
	delete(j.steps, attempt)
	j.finished[attempt] = status
	return nil
}

func (j *MemoryJournal) Close() error { return nil }

// Status returns how attempt finished, or "" while it is open.
func (j *MemoryJournal) Status(attempt string) string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.finished[attempt]
}

var _ Journal = (*MemoryJournal)(nil)
