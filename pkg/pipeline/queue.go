package pipeline

import (
	"context"
	"io"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/symgraph/pkg/errors"
	"github.com/matzehuels/symgraph/pkg/pkgkey"
)

// Queue errors.
var (
	ErrQueueFull   = errors.New(errors.ErrCodeResourceLimit, "pipeline queue is full")
	ErrQueueClosed = errors.New(errors.ErrCodeInternal, "pipeline queue is closed")
)

// Queue runs a handler for enqueued keys on a fixed number of workers. A key
// that is already queued or running is accepted without being queued twice.
type Queue struct {
	handler func(ctx context.Context, key pkgkey.Key)
	onDrop  func(key pkgkey.Key)
	logger  *log.Logger
	workers int
	ch      chan pkgkey.Key

	mu      sync.Mutex
	pending map[pkgkey.Key]bool
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewQueue creates a queue holding up to size pending keys.
func NewQueue(workers, size int, handler func(ctx context.Context, key pkgkey.Key), logger *log.Logger) *Queue {
	if logger == nil {
		logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	return &Queue{
		handler: handler,
		logger:  logger,
		workers: max(workers, 1),
		ch:      make(chan pkgkey.Key, max(size, 1)),
		pending: make(map[pkgkey.Key]bool),
	}
}

// OnDrop sets fn to be called by Close for every key still queued. It must
// be set before Start.
func (q *Queue) OnDrop(fn func(key pkgkey.Key)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onDrop = fn
}

// Start launches the workers. Calling Start more than once has no effect.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true
	ctx, q.cancel = context.WithCancel(ctx)
	for i := range q.workers {
		q.wg.Add(1)
		go q.work(ctx, i)
	}
}

func (q *Queue) work(ctx context.Context, id int) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case key := <-q.ch:
			q.logger.Debug("worker picked up key", "worker", id, "key", key)
			q.handler(ctx, key)
			q.mu.Lock()
			delete(q.pending, key)
			q.mu.Unlock()
		}
	}
}

// Enqueue schedules key. It never blocks: a full queue returns
// [ErrQueueFull].
func (q *Queue) Enqueue(ctx context.Context, key pkgkey.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if q.pending[key] {
		return nil
	}
	select {
	case q.ch <- key:
		q.pending[key] = true
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending returns the number of keys queued or running.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops the workers after their current run. Keys that were queued
// but never picked up are handed to the OnDrop callback.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	cancel := q.cancel
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	q.wg.Wait()

	q.mu.Lock()
	var dropped []pkgkey.Key
drain:
	for {
		select {
		case key := <-q.ch:
			delete(q.pending, key)
			dropped = append(dropped, key)
		default:
			break drain
		}
	}
	onDrop := q.onDrop
	q.mu.Unlock()

	if len(dropped) > 0 {
		q.logger.Info("dropping queued keys", "count", len(dropped))
	}
	if onDrop != nil {
		for _, key := range dropped {
			onDrop(key)
		}
	}
}
