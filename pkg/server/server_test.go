package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matzehuels/symgraph/pkg/errors"
	"github.com/matzehuels/symgraph/pkg/graph"
	"github.com/matzehuels/symgraph/pkg/liveupdate"
	"github.com/matzehuels/symgraph/pkg/observability"
	"github.com/matzehuels/symgraph/pkg/pkgkey"
	"github.com/matzehuels/symgraph/pkg/registry"
	"github.com/matzehuels/symgraph/pkg/storage"
)

type fakeTrigger struct {
	mu   sync.Mutex
	keys []pkgkey.Key
	err  error
}

func (f *fakeTrigger) Trigger(_ context.Context, key pkgkey.Key) (registry.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return registry.Record{}, f.err
	}
	f.keys = append(f.keys, key)
	return registry.Processing(registry.StepQueued), nil
}

type fixture struct {
	reg     *registry.Registry
	store   *storage.MemoryStore
	trigger *fakeTrigger
	srv     *Server
}

func newFixture(t *testing.T, ttl time.Duration) *fixture {
	t.Helper()
	reg := registry.New(registry.Options{StreamTTL: ttl})
	t.Cleanup(func() { reg.Close() })
	f := &fixture{reg: reg, store: storage.NewMemoryStore(), trigger: &fakeTrigger{}}
	f.srv = New(Config{
		Registry:  reg,
		Pipeline:  f.trigger,
		Store:     f.store,
		Metrics:   observability.NewPrometheus().Handler(),
		KeepAlive: time.Hour,
	})
	return f
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestKeyValidation(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)

	tests := []struct {
		target string
		want   int
	}{
		{"/status/stream?key=bad", http.StatusBadRequest},
		{"/status/stream?key=rust:serde:", http.StatusBadRequest},
		{"/status/stream?key=rust::1.0.0", http.StatusBadRequest},
		{"/status/stream", http.StatusBadRequest},
		{"/status/stream?key=rust:codeview_core:0.1.0", http.StatusOK},
		{"/status?key=bad", http.StatusBadRequest},
		{"/status?key=rust:serde:", http.StatusBadRequest},
		{"/status?key=rust:codeview_core:0.1.0", http.StatusOK},
		{"/updates/stream?key=bad", http.StatusBadRequest},
		{"/updates/stream?key=edge:", http.StatusBadRequest},
		{"/updates/stream?key=edge:rust", http.StatusBadRequest},
		{"/updates/stream?key=rust:serde::Serialize", http.StatusBadRequest},
		{"/updates/stream?key=edge:rust:serde::Serialize", http.StatusOK},
		{"/edges?symbol=", http.StatusBadRequest},
		{"/edges?symbol=rust:serde", http.StatusOK},
		{"/graph?key=rust:serde", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := f.do(http.MethodGet, tt.target, "")
			if rec.Code != tt.want {
				t.Errorf("GET %s = %d, want %d (body %s)", tt.target, rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t, time.Second)
	key := pkgkey.Key{Ecosystem: "rust", Name: "foo", Version: "1.0.0"}
	if err := f.reg.SetStatus(context.Background(), key, registry.Processing(registry.StepParsing)); err != nil {
		t.Fatal(err)
	}

	rec := f.do(http.MethodGet, "/status?key=rust:foo:1.0.0", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got registry.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Status != registry.StatusProcessing || got.Step != registry.StepParsing {
		t.Errorf("record = %+v", got)
	}
}

func TestStatusStreamEndsAtTTL(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond)

	rec := f.do(http.MethodGet, "/status/stream?key=rust:foo:1.0.0", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	if body := rec.Body.String(); body != "data: {\"status\":\"unknown\"}\n\n" {
		t.Errorf("body = %q", body)
	}
}

func TestStatusStreamDeliversUpdates(t *testing.T) {
	f := newFixture(t, 5*time.Second)
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	key := pkgkey.Key{Ecosystem: "rust", Name: "foo", Version: "1.0.0"}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s, err := liveupdate.NewHTTPDialer(ts.URL).Dial(ctx, key.String())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	next := func() registry.Record {
		t.Helper()
		data, err := s.Next()
		if err != nil {
			t.Fatal(err)
		}
		var rec registry.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			t.Fatal(err)
		}
		return rec
	}

	if got := next(); got.Status != registry.StatusUnknown {
		t.Fatalf("first = %+v", got)
	}
	_ = f.reg.SetStatus(ctx, key, registry.Processing(registry.StepResolving))
	_ = f.reg.SetStatus(ctx, key, registry.Ready(""))
	if got := next(); got.Step != registry.StepResolving {
		t.Errorf("second = %+v", got)
	}
	if got := next(); got.Status != registry.StatusReady {
		t.Errorf("third = %+v", got)
	}
}

func TestUpdatesStreamNotifiesSymbol(t *testing.T) {
	f := newFixture(t, 5*time.Second)
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	const symbol = "rust:serde::Serialize"
	s, err := liveupdate.NewHTTPDialer(ts.URL).Dial(ctx, EdgeKeyPrefix+symbol)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	key := pkgkey.Key{Ecosystem: "rust", Name: "foo", Version: "1.0.0"}
	edges := []graph.CrossEdge{{From: "rust:foo::codec", To: symbol, Kind: graph.EdgeUses, Confidence: 1}}
	if _, err := f.reg.ReplaceCrossEdges(ctx, key, "a1", edges, nil); err != nil {
		t.Fatal(err)
	}

	data, err := s.Next()
	if err != nil {
		t.Fatal(err)
	}
	var upd registry.EdgeUpdate
	if err := json.Unmarshal(data, &upd); err != nil {
		t.Fatal(err)
	}
	if upd.Symbol != symbol || upd.Package != key.String() || upd.Edges != 1 {
		t.Errorf("update = %+v", upd)
	}

	rec := f.do(http.MethodGet, "/edges?symbol="+symbol, "")
	var set registry.EdgeSet
	if err := json.Unmarshal(rec.Body.Bytes(), &set); err != nil {
		t.Fatal(err)
	}
	if len(set.Edges) != 1 || set.Edges[0].From != "rust:foo::codec" {
		t.Errorf("edges = %+v", set)
	}
}

func TestTrigger(t *testing.T) {
	f := newFixture(t, time.Second)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"valid", `{"ecosystem":"rust","name":"foo","version":"1.0.0"}`, http.StatusAccepted},
		{"missing version", `{"ecosystem":"rust","name":"foo"}`, http.StatusBadRequest},
		{"not json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/trigger", tt.body)
			if rec.Code != tt.want {
				t.Errorf("POST /trigger = %d, want %d (body %s)", rec.Code, tt.want, rec.Body)
			}
		})
	}
	if len(f.trigger.keys) != 1 || f.trigger.keys[0].String() != "rust:foo:1.0.0" {
		t.Errorf("triggered = %v", f.trigger.keys)
	}

	f.trigger.err = errors.New(errors.ErrCodeResourceLimit, "pipeline queue is full")
	if rec := f.do(http.MethodPost, "/trigger", tests[0].body); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("full queue = %d", rec.Code)
	}
}

func TestTriggerWithoutPipeline(t *testing.T) {
	reg := registry.New(registry.Options{})
	defer reg.Close()
	srv := New(Config{Registry: reg})

	req := httptest.NewRequest(http.MethodPost, "/trigger", strings.NewReader(`{"ecosystem":"rust","name":"foo","version":"1"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestArtifacts(t *testing.T) {
	f := newFixture(t, time.Second)
	key := pkgkey.Key{Ecosystem: "rust", Name: "foo", Version: "1.0.0"}
	graphJSON := []byte(`{"package":"rust:foo","version":"1.0.0","nodes":[],"edges":[]}`)
	_ = f.store.Put(context.Background(), storage.GraphPath(key), graphJSON, storage.ContentTypeJSON)

	rec := f.do(http.MethodGet, "/graph?key=rust:foo:1.0.0", "")
	if rec.Code != http.StatusOK || rec.Body.String() != string(graphJSON) {
		t.Errorf("graph = %d %s", rec.Code, rec.Body)
	}
	if rec := f.do(http.MethodGet, "/index?key=rust:foo:1.0.0", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing index = %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/graph?key=rust:bar:1.0.0", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing graph = %d", rec.Code)
	}
}

func TestOperationalRoutes(t *testing.T) {
	f := newFixture(t, time.Second)
	for _, target := range []string{"/healthz", "/metrics", "/stats"} {
		if rec := f.do(http.MethodGet, target, ""); rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d", target, rec.Code)
		}
	}
	if rec := f.do(http.MethodGet, "/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown route = %d", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.New(errors.ErrCodeInvalidKey, "x"), http.StatusBadRequest},
		{errors.New(errors.ErrCodeInvalidVersion, "x"), http.StatusBadRequest},
		{errors.New(errors.ErrCodeArtifactNotFound, "x"), http.StatusNotFound},
		{errors.New(errors.ErrCodeResourceLimit, "x"), http.StatusServiceUnavailable},
		{registry.ErrClosed, http.StatusServiceUnavailable},
		{errors.New(errors.ErrCodeInternal, "x"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
