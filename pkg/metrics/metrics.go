package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the ingestion collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	documents     *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	ocrPages      *prometheus.CounterVec
	conversions   *prometheus.CounterVec
	embeddings    *prometheus.CounterVec
	inFlight      prometheus.Gauge
}

// New registers the collectors on a fresh registry that also carries the Go
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		documents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_documents_total",
				Help: "Documents that reached a terminal state",
			},
			[]string{"family", "status", "reason"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_stage_duration_seconds",
				Help:    "Time spent in each pipeline stage",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"stage", "family"},
		),
		ocrPages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_ocr_pages_total",
				Help: "Pages or images sent to the OCR engine",
			},
			[]string{"engine"},
		),
		conversions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_cad_conversions_total",
				Help: "External drawing conversions by result",
			},
			[]string{"result"},
		),
		embeddings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_embedding_requests_total",
				Help: "Embedding provider calls by result",
			},
			[]string{"provider", "result"},
		),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_documents_in_flight",
			Help: "Documents currently inside a pipeline",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.documents,
		m.stageDuration,
		m.ocrPages,
		m.conversions,
		m.embeddings,
		m.inFlight,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) DocumentDone(family, status, reason string) {
	if m == nil {
		return
	}
	m.documents.WithLabelValues(family, status, reason).Inc()
}

func (m *Metrics) ObserveStage(stage, family string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage, family).Observe(d.Seconds())
}

func (m *Metrics) OCRPages(engine string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ocrPages.WithLabelValues(engine).Add(float64(n))
}

func (m *Metrics) Conversion(result string) {
	if m == nil {
		return
	}
	m.conversions.WithLabelValues(result).Inc()
}

func (m *Metrics) EmbeddingRequest(provider string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.embeddings.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) Begin() func() {
	if m == nil {
		return func() {}
	}
	m.inFlight.Inc()
	return m.inFlight.Dec
}
