package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/matzehuels/symgraph/pkg/errors"
	"github.com/matzehuels/symgraph/pkg/graph"
	"github.com/matzehuels/symgraph/pkg/pkgkey"
)

var fooKey = pkgkey.Key{Ecosystem: "rust", Name: "foo", Version: "1.0.0"}

func newTestRegistry(t *testing.T, opts Options) *Registry {
	t.Helper()
	r := New(opts)
	t.Cleanup(func() { r.Close() })
	return r
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func waitClosed[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed")
		}
	}
}

func TestGetStatusUnknown(t *testing.T) {
	r := newTestRegistry(t, Options{})
	rec, err := r.GetStatus(context.Background(), fooKey)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != StatusUnknown {
		t.Errorf("status = %s, want unknown", rec.Status)
	}
}

func TestSetStatusNormalizes(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Options{})

	tests := []struct {
		name string
		in   Record
		want Record
	}{
		{"processing keeps step", Record{Status: StatusProcessing, Step: "parsing", Error: "x"}, Record{Status: StatusProcessing, Step: "parsing"}},
		{"ready drops step and error", Record{Status: StatusReady, Step: "storing", Error: "x", Action: ActionRetry}, Record{Status: StatusReady}},
		{"failed keeps error", Record{Status: StatusFailed, Step: "fetching", Error: "boom", Action: ActionRetry}, Record{Status: StatusFailed, Error: "boom", Action: ActionRetry}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := r.SetStatus(ctx, fooKey, tt.in); err != nil {
				t.Fatal(err)
			}
			got, _ := r.GetStatus(ctx, fooKey)
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSetStatusRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Options{})
	if err := r.SetStatus(ctx, fooKey, Record{Status: "done"}); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("invalid status: got %v", err)
	}
	if err := r.SetStatus(ctx, pkgkey.Key{Ecosystem: "rust", Name: "foo"}, Ready("")); err == nil {
		t.Error("key without version should be rejected")
	}
}

func TestStreamStatusCurrentFirstThenUpdates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := newTestRegistry(t, Options{})

	_ = r.SetStatus(ctx, fooKey, Processing(StepResolving))
	ch, err := r.StreamStatus(ctx, fooKey)
	if err != nil {
		t.Fatal(err)
	}
	if got := recv(t, ch); got.Step != StepResolving {
		t.Fatalf("first record = %+v, want current", got)
	}

	steps := []string{StepFetching, StepParsing, StepStoring, StepIndexing}
	for _, s := range steps {
		_ = r.SetStatus(ctx, fooKey, Processing(s))
	}
	_ = r.SetStatus(ctx, fooKey, Ready("1.0.0"))

	for _, s := range steps {
		if got := recv(t, ch); got.Status != StatusProcessing || got.Step != s {
			t.Fatalf("got %+v, want processing(%s)", got, s)
		}
	}
	if got := recv(t, ch); got.Status != StatusReady || got.InstalledVersion != "1.0.0" {
		t.Fatalf("got %+v, want ready", got)
	}
}

func TestStreamStatusUnknownInitial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := newTestRegistry(t, Options{})
	ch, err := r.StreamStatus(ctx, fooKey)
	if err != nil {
		t.Fatal(err)
	}
	if got := recv(t, ch); got.Status != StatusUnknown {
		t.Errorf("first record = %+v, want unknown", got)
	}
}

func TestStreamStatusOrderingUnderConcurrency(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := newTestRegistry(t, Options{})
	ch, _ := r.StreamStatus(ctx, fooKey)
	recv(t, ch)

	const n = 200
	go func() {
		for i := range n {
			_ = r.SetStatus(ctx, fooKey, Processing(fmt.Sprintf("step-%d", i)))
		}
		_ = r.SetStatus(ctx, fooKey, Ready(""))
	}()

	for i := range n {
		got := recv(t, ch)
		if want := fmt.Sprintf("step-%d", i); got.Step != want {
			t.Fatalf("event %d = %+v, want %s", i, got, want)
		}
	}
	if got := recv(t, ch); got.Status != StatusReady {
		t.Fatalf("last = %+v, want ready", got)
	}
	select {
	case v := <-ch:
		t.Fatalf("unexpected event after ready: %+v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStreamStatusTTL(t *testing.T) {
	r := newTestRegistry(t, Options{StreamTTL: 50 * time.Millisecond})
	ch, err := r.StreamStatus(context.Background(), fooKey)
	if err != nil {
		t.Fatal(err)
	}
	waitClosed(t, ch)

	st, err := r.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.StatusSubscribers != 0 {
		t.Errorf("subscribers after ttl = %d, want 0", st.StatusSubscribers)
	}
}

func TestStreamStatusCancelReleasesSubscription(t *testing.T) {
	r := newTestRegistry(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())

	var chans []<-chan Record
	for range 3 {
		ch, err := r.StreamStatus(ctx, fooKey)
		if err != nil {
			t.Fatal(err)
		}
		chans = append(chans, ch)
	}
	st, _ := r.Stats(context.Background())
	if st.StatusSubscribers != 3 {
		t.Fatalf("subscribers = %d, want 3", st.StatusSubscribers)
	}

	cancel()
	for _, ch := range chans {
		waitClosed(t, ch)
	}
	st, _ = r.Stats(context.Background())
	if st.StatusSubscribers != 0 {
		t.Errorf("subscribers after cancel = %d, want 0", st.StatusSubscribers)
	}
	if st.Keys != 0 {
		t.Errorf("keys = %d, want 0 (no record was ever set)", st.Keys)
	}
}

func TestCloseEndsStreams(t *testing.T) {
	r := New(Options{})
	ch, _ := r.StreamStatus(context.Background(), fooKey)
	recv(t, ch)
	r.Close()
	waitClosed(t, ch)

	if err := r.SetStatus(context.Background(), fooKey, Ready("")); err != ErrClosed {
		t.Errorf("SetStatus after close = %v, want ErrClosed", err)
	}
}

func TestMarkProcessingIfUnknown(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Options{})

	ok, err := r.MarkProcessingIfUnknown(ctx, fooKey, StepQueued)
	if err != nil || !ok {
		t.Fatalf("first mark = %v, %v", ok, err)
	}
	ok, _ = r.MarkProcessingIfUnknown(ctx, fooKey, StepQueued)
	if ok {
		t.Error("second mark should not change the record")
	}
	rec, _ := r.GetStatus(ctx, fooKey)
	if rec.Status != StatusProcessing || rec.Step != StepQueued {
		t.Errorf("record = %+v", rec)
	}
}

func TestMarkProcessingIfUnknownRace(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Options{})

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := r.MarkProcessingIfUnknown(ctx, fooKey, StepQueued); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("wins = %d, want exactly 1", wins)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Options{Shards: 4})

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k := pkgkey.Key{Ecosystem: "rust", Name: fmt.Sprintf("crate%d", i), Version: "0.1.0"}
			_ = r.SetStatus(ctx, k, Ready("0.1.0"))
		}()
	}
	wg.Wait()
	st, _ := r.Stats(ctx)
	if st.Keys != 50 {
		t.Errorf("keys = %d, want 50", st.Keys)
	}
}

func TestActionFor(t *testing.T) {
	tests := []struct {
		err  error
		want Action
	}{
		{errors.New(errors.ErrCodePackageNotFound, "nope"), ActionCheckName},
		{errors.New(errors.ErrCodeNetwork, "down"), ActionRetry},
		{errors.New(errors.ErrCodeUnsupported, "cobol"), ActionNone},
		{fmt.Errorf("plain"), ActionRetry},
	}
	for _, tt := range tests {
		if got := ActionFor(tt.err); got != tt.want {
			t.Errorf("ActionFor(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
	rec := Failed(errors.New(errors.ErrCodePackageNotFound, "crate %q not found", "foo"))
	if rec.Status != StatusFailed || rec.Action != ActionCheckName || rec.Error != `crate "foo" not found` {
		t.Errorf("Failed() = %+v", rec)
	}
}

// =============================================================================
// Cross edges
// =============================================================================

func edge(from, to string) graph.CrossEdge {
	return graph.CrossEdge{From: from, To: to, Kind: graph.EdgeUses, Confidence: 1}
}

func TestReplaceCrossEdges(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Options{})
	barKey := pkgkey.Key{Ecosystem: "rust", Name: "bar", Version: "2.0.0"}

	target := "rust:serde::Serialize"
	_, err := r.ReplaceCrossEdges(ctx, fooKey, "a1", []graph.CrossEdge{
		edge("rust:foo::Thing", target),
		edge("rust:foo::Other", "rust:log"),
	}, []graph.NodeStub{
		{ID: "rust:foo::Thing", Name: "Thing", Kind: graph.KindStruct},
		{ID: target, Name: "Serialize", Kind: graph.KindTrait},
	})
	if err != nil {
		t.Fatal(err)
	}
	_, _ = r.ReplaceCrossEdges(ctx, barKey, "b1", []graph.CrossEdge{edge("rust:bar::run", target)}, nil)

	set, _ := r.EdgesFor(ctx, target)
	if len(set.Edges) != 2 {
		t.Fatalf("edges for %s = %v", target, set.Edges)
	}
	if set.Edges[0].From != "rust:bar::run" {
		t.Errorf("edges not sorted: %v", set.Edges)
	}
	if len(set.Nodes) != 2 {
		t.Errorf("nodes = %v", set.Nodes)
	}

	// A replace swaps the whole contribution.
	_, _ = r.ReplaceCrossEdges(ctx, fooKey, "a2", []graph.CrossEdge{edge("rust:foo::Other", "rust:log")}, nil)
	set, _ = r.EdgesFor(ctx, target)
	if len(set.Edges) != 1 || set.Edges[0].From != "rust:bar::run" {
		t.Errorf("after replace edges = %v", set.Edges)
	}

	st, _ := r.Stats(ctx)
	if st.EdgePackages != 2 || st.Edges != 2 {
		t.Errorf("stats = %+v", st)
	}
}

func TestReplaceCrossEdgesDiscardsStaleAttempt(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Options{})

	applied, _ := r.ReplaceCrossEdges(ctx, fooKey, "0002", []graph.CrossEdge{edge("rust:foo::a", "rust:x")}, nil)
	if !applied {
		t.Fatal("first replace not applied")
	}
	applied, _ = r.ReplaceCrossEdges(ctx, fooKey, "0001", []graph.CrossEdge{edge("rust:foo::b", "rust:y")}, nil)
	if applied {
		t.Error("older attempt should be discarded")
	}
	applied, _ = r.ReplaceCrossEdges(ctx, fooKey, "0002", []graph.CrossEdge{edge("rust:foo::a", "rust:z")}, nil)
	if !applied {
		t.Error("same attempt should be applied")
	}

	if set, _ := r.EdgesFor(ctx, "rust:y"); len(set.Edges) != 0 {
		t.Errorf("stale edges leaked: %v", set.Edges)
	}
	if set, _ := r.EdgesFor(ctx, "rust:z"); len(set.Edges) != 1 {
		t.Errorf("edges for rust:z = %v", set.Edges)
	}
}

func TestStreamCrossEdgeUpdates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := newTestRegistry(t, Options{})

	ch, err := r.StreamCrossEdgeUpdates(ctx, "rust:serde::Serialize")
	if err != nil {
		t.Fatal(err)
	}

	// Unrelated symbol: no notification.
	_, _ = r.ReplaceCrossEdges(ctx, fooKey, "a1", []graph.CrossEdge{edge("rust:foo::a", "rust:log")}, nil)
	// Touching symbol: notification.
	_, _ = r.ReplaceCrossEdges(ctx, fooKey, "a2", []graph.CrossEdge{edge("rust:foo::a", "rust:serde::Serialize")}, nil)
	u := recv(t, ch)
	if u.Package != fooKey.String() || u.Edges != 1 || u.Attempt != "a2" {
		t.Errorf("update = %+v", u)
	}

	// Removing the edge also touches the symbol.
	_, _ = r.ReplaceCrossEdges(ctx, fooKey, "a3", nil, nil)
	if u := recv(t, ch); u.Edges != 0 {
		t.Errorf("removal update = %+v", u)
	}

	cancel()
	waitClosed(t, ch)
	st, _ := r.Stats(context.Background())
	if st.EdgeSubscribers != 0 {
		t.Errorf("edge subscribers = %d, want 0", st.EdgeSubscribers)
	}
}

func TestEdgesForRequiresSymbol(t *testing.T) {
	r := newTestRegistry(t, Options{})
	if _, err := r.EdgesFor(context.Background(), " "); !errors.Is(err, errors.ErrCodeInvalidKey) {
		t.Errorf("got %v", err)
	}
	if _, err := r.StreamCrossEdgeUpdates(context.Background(), ""); !errors.Is(err, errors.ErrCodeInvalidKey) {
		t.Errorf("got %v", err)
	}
}
