// Package metrics exposes the service's Prometheus metrics. A Metrics value
// owns its own registry so binaries and tests never collide on global
// registration.
//
// Metrics:
//   - asylum_rag_stage_duration_seconds{stage}
//   - asylum_rag_answers_total{outcome}
//   - asylum_rag_safety_flags_total{flag}
//   - asylum_retrieval_cache_lookups_total{result}
//   - asylum_retrieval_cache_write_failures_total
//   - asylum_provider_calls_total{op,outcome}
//   - asylum_provider_breaker_state
//   - asylum_http_requests_total{method,route,status}
//   - asylum_http_request_duration_seconds{method,route}
//   - asylum_http_rate_limited_total
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "asylum"

// Metrics holds every collector the service reports.
type Metrics struct {
	reg *prometheus.Registry

	stageDuration *prometheus.HistogramVec
	answers       *prometheus.CounterVec
	safetyFlags   *prometheus.CounterVec

	cacheLookups       *prometheus.CounterVec
	cacheWriteFailures prometheus.Counter

	providerCalls *prometheus.CounterVec
	breakerState  prometheus.Gauge

	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	httpRateLimited prometheus.Counter
}

// New creates and registers all collectors on a fresh registry, together
// with the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "stage_duration_seconds",
			Help:      "Duration of answer pipeline stages.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"stage"}),
		answers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "answers_total",
			Help:      "Answers returned, by outcome (answered or fallback).",
		}, []string{"outcome"}),
		safetyFlags: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "safety_flags_total",
			Help:      "Safety flags raised on answers.",
		}, []string{"flag"}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "cache_lookups_total",
			Help:      "Retrieval cache lookups, by result (hit or miss).",
		}, []string{"result"}),
		cacheWriteFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "cache_write_failures_total",
			Help:      "Retrieval cache writes that failed and were skipped.",
		}),
		providerCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "calls_total",
			Help:      "Model provider calls, by operation and outcome.",
		}, []string{"op", "outcome"}),
		breakerState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "breaker_state",
			Help:      "Provider circuit breaker state (0 closed, 1 open, 2 half-open).",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served.",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		httpRateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "HTTP requests rejected by the per-client rate limit.",
		}),
	}
}

// ObserveStage records a pipeline stage latency.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveAnswer counts an answer and the safety flags it raised.
func (m *Metrics) ObserveAnswer(fallback bool, flags []string) {
	outcome := "answered"
	if fallback {
		outcome = "fallback"
	}
	m.answers.WithLabelValues(outcome).Inc()
	for _, f := range flags {
		m.safetyFlags.WithLabelValues(f).Inc()
	}
}

// CacheLookup counts a retrieval cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// CacheWriteFailed counts a skipped cache write.
func (m *Metrics) CacheWriteFailed() { m.cacheWriteFailures.Inc() }

// ProviderCall counts a model provider call by operation and outcome.
func (m *Metrics) ProviderCall(op string, outcome string) {
	m.providerCalls.WithLabelValues(op, outcome).Inc()
}

// BreakerState records the provider breaker state as a number.
func (m *Metrics) BreakerState(state int) { m.breakerState.Set(float64(state)) }

// HTTPRequest records one served request.
func (m *Metrics) HTTPRequest(method, route string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RateLimited counts a request rejected by the rate limiter.
func (m *Metrics) RateLimited() { m.httpRateLimited.Inc() }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
