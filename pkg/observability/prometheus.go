package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "symgraph"

// Prometheus implements every hook interface with prometheus collectors.
// Each instance owns its own registry so tests can create several.
type Prometheus struct {
	reg *prometheus.Registry

	stepDuration  *prometheus.HistogramVec
	stepErrors    *prometheus.CounterVec
	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	fanoutQueued  prometheus.Counter
	statusWrites  *prometheus.CounterVec
	streamsOpen   *prometheus.GaugeVec
	streamsClosed *prometheus.CounterVec
	edgeReplaces  *prometheus.CounterVec
	edgesIndexed  prometheus.Histogram
	sourceFetch   *prometheus.HistogramVec
	sourceOutcome *prometheus.CounterVec
	cacheOps      *prometheus.CounterVec
	cacheBytes    prometheus.Counter
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	httpErrors    *prometheus.CounterVec
}

// NewPrometheus creates collectors registered on a fresh registry, together
// with the standard Go and process collectors.
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Prometheus{
		reg: reg,
		stepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_step_seconds",
			Help:      "Time spent in one pipeline step.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"step"}),
		stepErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_step_errors_total",
			Help:      "Pipeline steps that returned an error.",
		}, []string{"step"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Pipeline runs by terminal status.",
		}, []string{"status"}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_run_seconds",
			Help:      "Wall time of a whole pipeline run.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		fanoutQueued: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_fanout_enqueued_total",
			Help:      "Dependency packages enqueued by fan-out.",
		}),
		statusWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_status_writes_total",
			Help:      "Status records written, by status.",
		}, []string{"status"}),
		streamsOpen: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_streams_open",
			Help:      "Currently open registry streams.",
		}, []string{"kind"}),
		streamsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_streams_closed_total",
			Help:      "Registry streams closed, by reason.",
		}, []string{"kind", "reason"}),
		edgeReplaces: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_cross_edge_replaces_total",
			Help:      "Cross-edge replaces, split by whether they were stale.",
		}, []string{"result"}),
		edgesIndexed: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "registry_cross_edges_per_package",
			Help:      "Cross edges contributed by one package.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		sourceFetch: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_fetch_seconds",
			Help:      "Time spent in one provider fetch.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "tier", "result"}),
		sourceOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_outcomes_total",
			Help:      "Source acquisitions by outcome.",
		}, []string{"outcome"}),
		cacheOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_operations_total",
			Help:      "Cache lookups and writes.",
		}, []string{"type", "op"}),
		cacheBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_written_bytes_total",
			Help:      "Bytes written to the cache.",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Upstream HTTP responses by host and status code.",
		}, []string{"host", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_seconds",
			Help:      "Upstream HTTP latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"host"}),
		httpErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Upstream HTTP transport failures.",
		}, []string{"host"}),
	}
}

// Install registers p as the global hooks for every category.
func (p *Prometheus) Install() {
	SetPipelineHooks(p)
	SetRegistryHooks(p)
	SetSourceHooks(p)
	SetCacheHooks(p)
	SetHTTPHooks(p)
}

// Handler serves the registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry.
func (p *Prometheus) Gatherer() prometheus.Gatherer { return p.reg }

func (p *Prometheus) OnStepStart(context.Context, string, string) {}

func (p *Prometheus) OnStepComplete(_ context.Context, step, _ string, d time.Duration, err error) {
	p.stepDuration.WithLabelValues(step).Observe(d.Seconds())
	if err != nil {
		p.stepErrors.WithLabelValues(step).Inc()
	}
}

func (p *Prometheus) OnRunComplete(_ context.Context, _ string, status string, d time.Duration) {
	p.runs.WithLabelValues(status).Inc()
	p.runDuration.Observe(d.Seconds())
}

func (p *Prometheus) OnFanout(_ context.Context, _ string, _, enqueued int) {
	p.fanoutQueued.Add(float64(enqueued))
}

func (p *Prometheus) OnStatusSet(_ context.Context, status string) {
	p.statusWrites.WithLabelValues(status).Inc()
}

func (p *Prometheus) OnSubscribe(_ context.Context, kind string) {
	p.streamsOpen.WithLabelValues(kind).Inc()
}

func (p *Prometheus) OnUnsubscribe(_ context.Context, kind, reason string) {
	p.streamsOpen.WithLabelValues(kind).Dec()
	p.streamsClosed.WithLabelValues(kind, reason).Inc()
}

func (p *Prometheus) OnCrossEdgesReplaced(_ context.Context, edges int, stale bool) {
	if stale {
		p.edgeReplaces.WithLabelValues("stale").Inc()
		return
	}
	p.edgeReplaces.WithLabelValues("applied").Inc()
	p.edgesIndexed.Observe(float64(edges))
}

func (p *Prometheus) OnAttempt(_ context.Context, provider, tier string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.sourceFetch.WithLabelValues(provider, tier, result).Observe(d.Seconds())
}

func (p *Prometheus) OnOutcome(_ context.Context, outcome string, _ time.Duration) {
	p.sourceOutcome.WithLabelValues(outcome).Inc()
}

func (p *Prometheus) OnCacheHit(_ context.Context, keyType string) {
	p.cacheOps.WithLabelValues(keyType, "hit").Inc()
}

func (p *Prometheus) OnCacheMiss(_ context.Context, keyType string) {
	p.cacheOps.WithLabelValues(keyType, "miss").Inc()
}

func (p *Prometheus) OnCacheSet(_ context.Context, keyType string, size int) {
	p.cacheOps.WithLabelValues(keyType, "set").Inc()
	p.cacheBytes.Add(float64(size))
}

func (p *Prometheus) OnRequest(context.Context, string, string, string) {}

func (p *Prometheus) OnResponse(_ context.Context, _, host, _ string, code int, d time.Duration) {
	p.httpRequests.WithLabelValues(host, strconv.Itoa(code)).Inc()
	p.httpDuration.WithLabelValues(host).Observe(d.Seconds())
}

func (p *Prometheus) OnError(_ context.Context, _, host, _ string, _ error) {
	p.httpErrors.WithLabelValues(host).Inc()
}

var (
	_ PipelineHooks = (*Prometheus)(nil)
	_ RegistryHooks = (*Prometheus)(nil)
	_ SourceHooks   = (*Prometheus)(nil)
	_ CacheHooks    = (*Prometheus)(nil)
	_ HTTPHooks     = (*Prometheus)(nil)
)
