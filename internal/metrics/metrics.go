// Package metrics collects Prometheus metrics for HTTP traffic and the
// marketplace workflows.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/erazemk/bazaar/internal/upload"
)

// Metrics owns a private registry.
type Metrics struct {
	registry *prometheus.Registry

	reqTotal    *prometheus.CounterVec
	reqLatency  *prometheus.HistogramVec
	uploads     *prometheus.CounterVec
	transitions *prometheus.CounterVec
	watchAdds   *prometheus.CounterVec
}

// New registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bazaar_http_requests_total",
			Help: "Total HTTP requests.",
		}, []string{"method", "path", "status"}),
		reqLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bazaar_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bazaar_uploads_total",
			Help: "Finished upload submissions by outcome.",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bazaar_upload_transitions_total",
			Help: "Upload workflow phase transitions by target phase.",
		}, []string{"phase"}),
		watchAdds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bazaar_watchlist_adds_total",
			Help: "Watch-add attempts by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(m.reqTotal, m.reqLatency, m.uploads, m.transitions, m.watchAdds)
	return m
}

// Gauge exposes fn as a gauge, e.g. live subscriptions or sessions.
func (m *Metrics) Gauge(name, help string, fn func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: name,
		Help: help,
	}, func() float64 { return float64(fn()) }))
}

// ObserveUpload records one workflow transition. It is meant for
// upload.WithObserver.
func (m *Metrics) ObserveUpload(tr upload.Transition) {
	m.transitions.WithLabelValues(tr.To.String()).Inc()

	switch {
	case tr.To == upload.Idle && tr.From == upload.Done:
		m.uploads.WithLabelValues("success").Inc()
	case tr.To == upload.Idle && tr.Err != nil:
		m.uploads.WithLabelValues("rejected").Inc()
	case tr.To == upload.Error:
		var f *upload.Failure
		if errors.As(tr.Err, &f) {
			m.uploads.WithLabelValues("failed_" + strings.ReplaceAll(f.Step, " ", "_")).Inc()
		} else {
			m.uploads.WithLabelValues("failed").Inc()
		}
	}
}

// ObserveWatch records the result of a watch-add.
func (m *Metrics) ObserveWatch(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.watchAdds.WithLabelValues(result).Inc()
}

// Middleware records request counts and latency labelled with the chi
// route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}

		next.ServeHTTP(rec, r)

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}

		m.reqTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.code)).Inc()
		m.reqLatency.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// statusRecorder captures the status code. It keeps Flush reachable so
// event streams work through it.
type statusRecorder struct {
	http.ResponseWriter
	code        int
	wroteHeader bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.wroteHeader {
		sr.code = code
		sr.wroteHeader = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}
