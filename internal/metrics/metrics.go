// Package metrics defines the Prometheus collectors used across paperqa and exposes
// an HTTP handler for scraping. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	QueriesTotal         *prometheus.CounterVec
	StageDuration        *prometheus.HistogramVec
	AnswerConfidence     prometheus.Histogram
	EvidenceCount        prometheus.Histogram
	LLMCallsTotal        *prometheus.CounterVec
	LLMCallDuration      *prometheus.HistogramVec
	LLMCacheTotal        *prometheus.CounterVec
	DocumentsIngested    *prometheus.CounterVec
	PassagesIndexed      prometheus.Counter
	IndexRows            *prometheus.GaugeVec
}

// New creates all collectors and registers them on a fresh registry together with
// the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paperqa_http_requests_total",
				Help: "Total number of HTTP requests by method, route, and status.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "paperqa_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"method", "route"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "paperqa_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paperqa_queries_total",
				Help: "Total questions answered by outcome (answered, no_evidence, error).",
			},
			[]string{"outcome"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "paperqa_pipeline_stage_duration_seconds",
				Help:    "Answer pipeline stage latency in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"stage"},
		),
		AnswerConfidence: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "paperqa_answer_confidence",
				Help:    "Grounding confidence of returned answers.",
				Buckets: []float64{0, 0.2, 0.4, 0.5, 0.6, 0.8, 1},
			},
		),
		EvidenceCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "paperqa_evidence_passages",
				Help:    "Number of evidence passages supplied to the draft stage.",
				Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 20},
			},
		),
		LLMCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paperqa_llm_calls_total",
				Help: "Generation provider calls by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		),
		LLMCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "paperqa_llm_call_duration_seconds",
				Help:    "Generation provider call latency in seconds.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"provider"},
		),
		LLMCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paperqa_llm_cache_requests_total",
				Help: "Completion cache lookups by result (hit, miss).",
			},
			[]string{"result"},
		),
		DocumentsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paperqa_documents_ingested_total",
				Help: "Documents processed by ingestion status (indexed, skipped, failed, empty).",
			},
			[]string{"status"},
		),
		PassagesIndexed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "paperqa_passages_indexed_total",
				Help: "Total passages added to the index.",
			},
		),
		IndexRows: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "paperqa_index_rows",
				Help: "Index rows by state (live, tombstoned).",
			},
			[]string{"state"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.QueriesTotal,
		m.StageDuration,
		m.AnswerConfidence,
		m.EvidenceCount,
		m.LLMCallsTotal,
		m.LLMCallDuration,
		m.LLMCacheTotal,
		m.DocumentsIngested,
		m.PassagesIndexed,
		m.IndexRows,
	)

	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus scrape HTTP handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// TrackInFlight increments the in-flight gauge and returns the matching decrement.
func (m *Metrics) TrackInFlight() func() {
	if m == nil {
		return func() {}
	}
	m.HTTPRequestsInFlight.Inc()
	return m.HTTPRequestsInFlight.Dec
}

func (m *Metrics) ObserveQuery(outcome string, confidence float64, evidence int) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(outcome).Inc()
	m.AnswerConfidence.Observe(confidence)
	m.EvidenceCount.Observe(float64(evidence))
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) ObserveLLMCall(provider, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.LLMCallsTotal.WithLabelValues(provider, outcome).Inc()
	m.LLMCallDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.LLMCacheTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveIngest(status string, passages int) {
	if m == nil {
		return
	}
	m.DocumentsIngested.WithLabelValues(status).Inc()
	if passages > 0 {
		m.PassagesIndexed.Add(float64(passages))
	}
}

func (m *Metrics) SetIndexRows(live, tombstoned int) {
	if m == nil {
		return
	}
	m.IndexRows.WithLabelValues("live").Set(float64(live))
	m.IndexRows.WithLabelValues("tombstoned").Set(float64(tombstoned))
}
