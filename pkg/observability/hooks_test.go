package observability

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNoopHooksDoNotPanic(t *testing.T) {
	ctx := context.Background()

	// Pipeline hooks
	p := NoopPipelineHooks{}
	p.OnStepStart(ctx, "resolve-metadata", "rust:serde:1.0.0")
	p.OnStepComplete(ctx, "resolve-metadata", "rust:serde:1.0.0", time.Second, nil)
	p.OnRunComplete(ctx, "rust:serde:1.0.0", "ready", time.Second)
	p.OnFanout(ctx, "rust:serde:1.0.0", 3, 2)

	// Registry hooks
	r := NoopRegistryHooks{}
	r.OnStatusSet(ctx, "ready")
	r.OnSubscribe(ctx, "status")
	r.OnUnsubscribe(ctx, "status", "ttl")
	r.OnCrossEdgesReplaced(ctx, 10, false)

	// Source hooks
	s := NoopSourceHooks{}
	s.OnAttempt(ctx, "github@tag", "main", time.Second, nil)
	s.OnOutcome(ctx, "success", time.Second)

	// Cache hooks
	c := NoopCacheHooks{}
	c.OnCacheHit(ctx, "http")
	c.OnCacheMiss(ctx, "latest")
	c.OnCacheSet(ctx, "http", 1024)

	// HTTP hooks
	h := NoopHTTPHooks{}
	h.OnRequest(ctx, "GET", "crates.io", "/api/v1/crates/serde")
	h.OnResponse(ctx, "GET", "crates.io", "/api/v1/crates/serde", 200, time.Second)
	h.OnError(ctx, "GET", "crates.io", "/api/v1/crates/serde", nil)
}

func TestGlobalHooksRegistry(t *testing.T) {
	// Reset to known state
	Reset()

	// Verify defaults are noop
	if _, ok := Pipeline().(NoopPipelineHooks); !ok {
		t.Error("Pipeline() should return NoopPipelineHooks by default")
	}
	if _, ok := Registry().(NoopRegistryHooks); !ok {
		t.Error("Registry() should return NoopRegistryHooks by default")
	}
	if _, ok := Source().(NoopSourceHooks); !ok {
		t.Error("Source() should return NoopSourceHooks by default")
	}
	if _, ok := Cache().(NoopCacheHooks); !ok {
		t.Error("Cache() should return NoopCacheHooks by default")
	}
	if _, ok := HTTP().(NoopHTTPHooks); !ok {
		t.Error("HTTP() should return NoopHTTPHooks by default")
	}

	// Set custom hooks
	customPipeline := &testPipelineHooks{}
	SetPipelineHooks(customPipeline)
	if Pipeline() != customPipeline {
		t.Error("SetPipelineHooks should set custom hooks")
	}

	customRegistry := &testRegistryHooks{}
	SetRegistryHooks(customRegistry)
	if Registry() != customRegistry {
		t.Error("SetRegistryHooks should set custom hooks")
	}

	customCache := &testCacheHooks{}
	SetCacheHooks(customCache)
	if Cache() != customCache {
		t.Error("SetCacheHooks should set custom hooks")
	}

	customHTTP := &testHTTPHooks{}
	SetHTTPHooks(customHTTP)
	if HTTP() != customHTTP {
		t.Error("SetHTTPHooks should set custom hooks")
	}

	// Reset and verify
	Reset()
	if _, ok := Pipeline().(NoopPipelineHooks); !ok {
		t.Error("Reset() should restore NoopPipelineHooks")
	}
	if _, ok := Registry().(NoopRegistryHooks); !ok {
		t.Error("Reset() should restore NoopRegistryHooks")
	}
}

func TestSetNilHooksIsIgnored(t *testing.T) {
	Reset()

	custom := &testPipelineHooks{}
	SetPipelineHooks(custom)

	// Setting nil should be ignored
	SetPipelineHooks(nil)

	if Pipeline() != custom {
		t.Error("SetPipelineHooks(nil) should be ignored")
	}

	Reset()
}

func TestPrometheusHandler(t *testing.T) {
	ctx := context.Background()
	p := NewPrometheus()
	p.OnStepComplete(ctx, "fetch-parse-store", "rust:foo:1.0.0", 2*time.Second, errors.New("boom"))
	p.OnRunComplete(ctx, "rust:foo:1.0.0", "ready", time.Second)
	p.OnSubscribe(ctx, "status")
	p.OnUnsubscribe(ctx, "status", "ttl")
	p.OnCrossEdgesReplaced(ctx, 4, false)
	p.OnCrossEdgesReplaced(ctx, 4, true)
	p.OnOutcome(ctx, "success", time.Second)
	p.OnResponse(ctx, "GET", "crates.io", "/", 200, time.Millisecond)

	srv := httptest.NewServer(p.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)

	for _, want := range []string{
		`symgraph_pipeline_step_errors_total{step="fetch-parse-store"} 1`,
		`symgraph_pipeline_runs_total{status="ready"} 1`,
		`symgraph_registry_streams_open{kind="status"} 0`,
		`symgraph_registry_streams_closed_total{kind="status",reason="ttl"} 1`,
		`symgraph_registry_cross_edge_replaces_total{result="stale"} 1`,
		`symgraph_source_outcomes_total{outcome="success"} 1`,
		`symgraph_upstream_requests_total{code="200",host="crates.io"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestPrometheusInstall(t *testing.T) {
	defer Reset()
	p := NewPrometheus()
	p.Install()
	if Pipeline() != PipelineHooks(p) || Registry() != RegistryHooks(p) || HTTP() != HTTPHooks(p) {
		t.Error("Install should register every hook category")
	}
}

// Test implementations
type testPipelineHooks struct{ NoopPipelineHooks }
type testRegistryHooks struct{ NoopRegistryHooks }
type testCacheHooks struct{ NoopCacheHooks }
type testHTTPHooks struct{ NoopHTTPHooks }
