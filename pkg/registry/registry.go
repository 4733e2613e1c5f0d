package registry

import (
	"context"
	"hash/fnv"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/symgraph/pkg/errors"
	"github.com/matzehuels/symgraph/pkg/observability"
	"github.com/matzehuels/symgraph/pkg/pkgkey"
)

// Defaults applied by [New].
const (
	DefaultShards    = 16
	DefaultStreamTTL = 5 * time.Minute
	mailboxSize      = 64
)

// Stream kinds reported to observability hooks.
const (
	StreamStatusKind = "status"
	StreamEdgesKind  = "edges"
)

// ErrClosed is returned by every operation after [Registry.Close].
var ErrClosed = errors.New(errors.ErrCodeInternal, "registry closed")

// Options configures a [Registry].
type Options struct {
	// Shards is the number of status partitions. Default 16.
	Shards int
	// StreamTTL caps the lifetime of every stream. Default 5m; negative
	// disables the cap.
	StreamTTL time.Duration
	Logger    *log.Logger
}

// Registry is the process-wide status and cross-edge registry.
type Registry struct {
	shards []*shard
	edges  *edgeIndex
	ttl    time.Duration
	logger *log.Logger

	quit      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type entry struct {
	rec  Record
	set  bool
	subs map[*stream[Record]]struct{}
}

type shard struct {
	mailbox chan func()
	entries map[pkgkey.Key]*entry
}

// New starts a registry. Call Close to stop its goroutines.
func New(opts Options) *Registry {
	if opts.Shards <= 0 {
		opts.Shards = DefaultShards
	}
	if opts.StreamTTL == 0 {
		opts.StreamTTL = DefaultStreamTTL
	}
	if opts.Logger == nil {
		opts.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	r := &Registry{
		shards: make([]*shard, opts.Shards),
		ttl:    opts.StreamTTL,
		logger: opts.Logger,
		quit:   make(chan struct{}),
	}
	for i := range r.shards {
		r.shards[i] = &shard{
			mailbox: make(chan func(), mailboxSize),
			entries: make(map[pkgkey.Key]*entry),
		}
		r.spawn(r.shards[i].mailbox)
	}
	r.edges = newEdgeIndex()
	r.spawn(r.edges.mailbox)
	return r
}

func (r *Registry) spawn(mailbox chan func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case fn := <-mailbox:
				fn()
			case <-r.quit:
				return
			}
		}
	}()
}

// Close stops all actors and ends every open stream.
func (r *Registry) Close() error {
	r.closeOnce.Do(func() {
		close(r.quit)
		r.wg.Wait()
	})
	return nil
}

// do runs fn on the actor owning mailbox and waits for it to finish.
func (r *Registry) do(ctx context.Context, mailbox chan func(), fn func()) error {
	done := make(chan struct{})
	select {
	case mailbox <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.quit:
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-r.quit:
		return ErrClosed
	}
}

func (r *Registry) shardFor(key pkgkey.Key) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.String()))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

func (s *shard) entry(key pkgkey.Key) *entry {
	e, ok := s.entries[key]
	if !ok {
		e = &entry{subs: make(map[*stream[Record]]struct{})}
		s.entries[key] = e
	}
	return e
}

func (e *entry) current() Record {
	if !e.set {
		return Record{Status: StatusUnknown}
	}
	return e.rec
}

func (e *entry) publish(rec Record) {
	e.rec, e.set = rec, true
	for sub := range e.subs {
		sub.push(rec)
	}
}

// SetStatus overwrites the record for key and delivers it to every
// subscriber of key. Records are normalized before they are stored.
func (r *Registry) SetStatus(ctx context.Context, key pkgkey.Key, rec Record) error {
	if err := key.Validate(); err != nil {
		return err
	}
	rec = rec.Normalize()
	if err := rec.validate(); err != nil {
		return err
	}
	sh := r.shardFor(key)
	err := r.do(ctx, sh.mailbox, func() {
		sh.entry(key).publish(rec)
	})
	if err == nil {
		observability.Registry().OnStatusSet(ctx, string(rec.Status))
		r.logger.Debug("status", "key", key, "record", rec)
	}
	return err
}

// GetStatus returns the record for key, or an unknown record.
func (r *Registry) GetStatus(ctx context.Context, key pkgkey.Key) (Record, error) {
	if err := key.Validate(); err != nil {
		return Record{}, err
	}
	sh := r.shardFor(key)
	var rec Record
	err := r.do(ctx, sh.mailbox, func() {
		if e, ok := sh.entries[key]; ok {
			rec = e.current()
			return
		}
		rec = Record{Status: StatusUnknown}
	})
	return rec, err
}

// MarkProcessingIfUnknown sets key to processing at step only if it has no
// record yet. It reports whether the record was changed.
func (r *Registry) MarkProcessingIfUnknown(ctx context.Context, key pkgkey.Key, step string) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}
	sh := r.shardFor(key)
	var changed bool
	err := r.do(ctx, sh.mailbox, func() {
		e := sh.entry(key)
		if e.current().Status != StatusUnknown {
			return
		}
		e.publish(Processing(step))
		changed = true
	})
	if err == nil && changed {
		observability.Registry().OnStatusSet(ctx, string(StatusProcessing))
	}
	return changed, err
}

// StreamStatus subscribes to key. The returned channel yields the current
// record and then every subsequent update. It is closed when ctx is done,
// the stream TTL elapses, or the registry closes.
func (r *Registry) StreamStatus(ctx context.Context, key pkgkey.Key) (<-chan Record, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	sh := r.shardFor(key)
	sub := newStream[Record]()
	err := r.do(ctx, sh.mailbox, func() {
		e := sh.entry(key)
		e.subs[sub] = struct{}{}
		sub.push(e.current())
	})
	if err != nil {
		return nil, err
	}
	observability.Registry().OnSubscribe(ctx, StreamStatusKind)

	go sub.run(ctx, r.ttl, r.quit, func(reason string) {
		_ = r.do(context.Background(), sh.mailbox, func() {
			e, ok := sh.entries[key]
			if !ok {
				return
			}
			delete(e.subs, sub)
			if len(e.subs) == 0 && !e.set {
				delete(sh.entries, key)
			}
		})
		observability.Registry().OnUnsubscribe(context.Background(), StreamStatusKind, reason)
		r.logger.Debug("status stream closed", "key", key, "reason", reason)
	})
	return sub.out, nil
}

// Stats summarizes registry contents.
type Stats struct {
	Keys              int `json:"keys"`
	StatusSubscribers int `json:"status_subscribers"`
	EdgePackages      int `json:"edge_packages"`
	Edges             int `json:"edges"`
	EdgeSubscribers   int `json:"edge_subscribers"`
}

// Stats counts keys with a record, live subscriptions and indexed edges.
func (r *Registry) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	for _, sh := range r.shards {
		err := r.do(ctx, sh.mailbox, func() {
			for _, e := range sh.entries {
				if e.set {
					st.Keys++
				}
				st.StatusSubscribers += len(e.subs)
			}
		})
		if err != nil {
			return Stats{}, err
		}
	}
	err := r.do(ctx, r.edges.mailbox, func() {
		st.EdgePackages = len(r.edges.packages)
		for _, c := range r.edges.packages {
			st.Edges += len(c.edges)
		}
		for _, subs := range r.edges.subs {
			st.EdgeSubscribers += len(subs)
		}
	})
	return st, err
}
