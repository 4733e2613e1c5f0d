package registry

import (
	"context"
	"sync"
	"time"
)

// Reasons a stream ended, reported to observability hooks.
const (
	reasonCancel   = "cancel"
	reasonTTL      = "ttl"
	reasonShutdown = "shutdown"
)

// stream is one subscriber's delivery queue. Actors push without blocking;
// a dedicated goroutine forwards values to out in push order.
type stream[T any] struct {
	mu     sync.Mutex
	queue  []T
	notify chan struct{}
	out    chan T
}

func newStream[T any]() *stream[T] {
	return &stream[T]{
		notify: make(chan struct{}, 1),
		out:    make(chan T),
	}
}

func (s *stream[T]) push(v T) {
	s.mu.Lock()
	s.queue = append(s.queue, v)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *stream[T]) pop() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	if len(s.queue) == 0 {
		return zero, false
	}
	v := s.queue[0]
	s.queue[0] = zero
	s.queue = s.queue[1:]
	return v, true
}

// run forwards queued values until ctx is done, ttl elapses or quit closes.
// release is called before out is closed, so once a reader sees the channel
// close the subscription is already gone.
func (s *stream[T]) run(ctx context.Context, ttl time.Duration, quit <-chan struct{}, release func(reason string)) {
	defer close(s.out)

	var expire <-chan time.Time
	if ttl > 0 {
		t := time.NewTimer(ttl)
		defer t.Stop()
		expire = t.C
	}

	reason := s.deliver(ctx, expire, quit)
	release(reason)
}

func (s *stream[T]) deliver(ctx context.Context, expire <-chan time.Time, quit <-chan struct{}) string {
	for {
		select {
		case <-ctx.Done():
			return reasonCancel
		case <-expire:
			return reasonTTL
		case <-quit:
			return reasonShutdown
		case <-s.notify:
		}
		for {
			v, ok := s.pop()
			if !ok {
				break
			}
			select {
			case s.out <- v:
			case <-ctx.Done():
				return reasonCancel
			case <-expire:
				return reasonTTL
			case <-quit:
				return reasonShutdown
			}
		}
	}
}
