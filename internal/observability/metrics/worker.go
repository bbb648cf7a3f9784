package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type PipelineMetrics struct {
	registry *prometheus.Registry

	ingestTotal    *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	ingestInFlight prometheus.Gauge
	embedTokens    *prometheus.CounterVec
	recoveryTotal  *prometheus.CounterVec
}

func NewPipelineMetrics(service string) *PipelineMetrics {
	registry := prometheus.NewRegistry()

	ingestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kp",
			Subsystem: "pipeline",
			Name:      "ingest_total",
			Help:      "Total pipeline runs by terminal status.",
		},
		[]string{"service", "status"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kp",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Stage duration in seconds by stage and outcome.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "stage", "outcome"},
	)
	ingestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kp",
			Subsystem: "pipeline",
			Name:      "ingest_in_flight",
			Help:      "Number of documents currently in the pipeline.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	embedTokens := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kp",
			Subsystem: "embedding",
			Name:      "tokens_total",
			Help:      "Embedded tokens by tenant and provider.",
		},
		[]string{"tenant", "provider"},
	)
	recoveryTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kp",
			Subsystem: "recovery",
			Name:      "documents_total",
			Help:      "Stale documents reconciled at startup by outcome.",
		},
		[]string{"service", "outcome"},
	)

	registry.MustRegister(ingestTotal, stageDuration, ingestInFlight, embedTokens, recoveryTotal)

	return &PipelineMetrics{
		registry:       registry,
		ingestTotal:    ingestTotal,
		stageDuration:  stageDuration,
		ingestInFlight: ingestInFlight,
		embedTokens:    embedTokens,
		recoveryTotal:  recoveryTotal,
	}
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PipelineMetrics) StartIngest() {
	m.ingestInFlight.Inc()
}

func (m *PipelineMetrics) FinishIngest(service string, err error) {
	m.ingestInFlight.Dec()

	status := "ready"
	if err != nil {
		status = "failed"
	}
	m.ingestTotal.WithLabelValues(service, status).Inc()
}

func (m *PipelineMetrics) ObserveStage(service, stage string, duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.stageDuration.WithLabelValues(service, stage, outcome).Observe(duration.Seconds())
}

func (m *PipelineMetrics) AddEmbeddedTokens(tenant, provider string, tokens int) {
	if tokens <= 0 {
		return
	}
	m.embedTokens.WithLabelValues(tenant, provider).Add(float64(tokens))
}

func (m *PipelineMetrics) ObserveRecovery(service, outcome string, count int) {
	if count <= 0 {
		return
	}
	m.recoveryTotal.WithLabelValues(service, outcome).Add(float64(count))
}
