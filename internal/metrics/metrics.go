// Package metrics exposes Prometheus counters and histograms for runs,
// chunks, cleanup, post-processing and the HTTP API.
package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Chunk outcomes.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metrics owns its registry so separate instances never collide. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	runs            *prometheus.CounterVec
	chunks          *prometheus.CounterVec
	chunkSeconds    *prometheus.HistogramVec
	cleanupFailures prometheus.Counter
	postprocess     *prometheus.CounterVec
	jobs            *prometheus.CounterVec
	apiTime         *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scribe",
			Name:      "runs_total",
			Help:      "Transcription runs started, by engine.",
		}, []string{"engine"}),
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scribe",
			Name:      "chunks_total",
			Help:      "Chunk or window results, by engine and outcome.",
		}, []string{"engine", "outcome"}),
		chunkSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scribe",
			Name:      "chunk_transcription_seconds",
			Help:      "Wall time spent transcribing one chunk or window.",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 40, 80, 160, 320},
		}, []string{"engine"}),
		cleanupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scribe",
			Name:      "cleanup_failures_total",
			Help:      "Temporary artifacts that could not be removed.",
		}),
		postprocess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scribe",
			Name:      "postprocess_total",
			Help:      "Post-processing calls, by provider, mode and outcome.",
		}, []string{"provider", "mode", "outcome"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scribe",
			Name:      "jobs_total",
			Help:      "Finished background jobs, by type and status.",
		}, []string{"type", "status"}),
		apiTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scribe",
			Name:      "api_call_seconds",
			Help:      "HTTP API latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(
		m.runs, m.chunks, m.chunkSeconds, m.cleanupFailures, m.postprocess, m.jobs, m.apiTime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveRun(engine string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(engine).Inc()
}

func (m *Metrics) ObserveChunk(engine, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.chunks.WithLabelValues(engine, outcome).Inc()
	m.chunkSeconds.WithLabelValues(engine).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveCleanupFailure(path string, err error) {
	if m == nil {
		return
	}
	m.cleanupFailures.Inc()
}

func (m *Metrics) ObservePostprocess(provider, mode string, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	m.postprocess.WithLabelValues(provider, mode, outcome).Inc()
}

func (m *Metrics) ObserveJob(jobType, status string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(jobType, status).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// APIMiddleware records request latency labelled with the chi route pattern.
// The /metrics endpoint itself is not observed.
func (m *Metrics) APIMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.apiTime.WithLabelValues(r.Method, route, http.StatusText(status)).Observe(time.Since(start).Seconds())
	})
}
