// Package observability provides Prometheus metrics for the pipeline engine
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics contains Prometheus metrics for pipeline engine operations
type EngineMetrics struct {
	registry *prometheus.Registry

	// Job metrics
	jobResults  *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec

	// Pipeline metrics
	pipelineState      *prometheus.GaugeVec
	pipelinePasses     *prometheus.CounterVec
	pipelineTruncates  *prometheus.CounterVec
	pipelineFailures   *prometheus.CounterVec

	// Data bus metrics
	payloadsAcquired *prometheus.CounterVec
	payloadsReleased *prometheus.CounterVec
	payloadLeaks     *prometheus.GaugeVec
	busBytes         *prometheus.CounterVec

	collectors []prometheus.Collector
}

// NewEngineMetrics creates and registers engine metrics on registry.
func NewEngineMetrics(registry *prometheus.Registry) (*EngineMetrics, error) {
	m := &EngineMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *EngineMetrics) initMetrics() {
	m.jobResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaflow_job_results_total",
			Help: "Job executions by pipeline, element, job kind and result",
		},
		[]string{"pipeline", "element", "job", "result"},
	)

	m.jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediaflow_job_duration_seconds",
			Help:    "Job execution duration",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		},
		[]string{"pipeline", "element", "job"},
	)

	m.pipelineState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mediaflow_pipeline_state",
			Help: "Current pipeline lifecycle state as an enum value",
		},
		[]string{"pipeline"},
	)

	m.pipelinePasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaflow_pipeline_passes_total",
			Help: "Completed running-phase scheduling passes",
		},
		[]string{"pipeline"},
	)

	m.pipelineTruncates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaflow_pipeline_truncates_total",
			Help: "Partial (truncated) payloads reported by elements",
		},
		[]string{"pipeline", "element"},
	)

	m.pipelineFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaflow_pipeline_failures_total",
			Help: "Fatal job failures that forced pipeline cleanup",
		},
		[]string{"pipeline", "element"},
	)

	m.payloadsAcquired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaflow_bus_payloads_acquired_total",
			Help: "Payloads handed out by data buses",
		},
		[]string{"strategy", "side"},
	)

	m.payloadsReleased = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaflow_bus_payloads_released_total",
			Help: "Payloads returned to data buses",
		},
		[]string{"strategy"},
	)

	m.payloadLeaks = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mediaflow_bus_payload_leaks",
			Help: "Payloads still outstanding when a bus closed",
		},
		[]string{"strategy"},
	)

	m.busBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaflow_bus_bytes_total",
			Help: "Bytes committed through data buses",
		},
		[]string{"strategy"},
	)

	m.collectors = []prometheus.Collector{
		m.jobResults,
		m.jobDuration,
		m.pipelineState,
		m.pipelinePasses,
		m.pipelineTruncates,
		m.pipelineFailures,
		m.payloadsAcquired,
		m.payloadsReleased,
		m.payloadLeaks,
		m.busBytes,
	}
}

// Describe implements prometheus.Collector
func (m *EngineMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements prometheus.Collector
func (m *EngineMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordJobResult records one job execution outcome.
func (m *EngineMetrics) RecordJobResult(pipeline, element, job, result string) {
	m.jobResults.WithLabelValues(pipeline, element, job, result).Inc()
}

// RecordJobDuration records one job execution duration in seconds.
func (m *EngineMetrics) RecordJobDuration(pipeline, element, job string, seconds float64) {
	m.jobDuration.WithLabelValues(pipeline, element, job).Observe(seconds)
}

// UpdatePipelineState records the pipeline lifecycle state enum.
func (m *EngineMetrics) UpdatePipelineState(pipeline string, state int) {
	m.pipelineState.WithLabelValues(pipeline).Set(float64(state))
}

// RecordPass records a completed running-phase pass.
func (m *EngineMetrics) RecordPass(pipeline string) {
	m.pipelinePasses.WithLabelValues(pipeline).Inc()
}

// RecordTruncate records a partial payload report.
func (m *EngineMetrics) RecordTruncate(pipeline, element string) {
	m.pipelineTruncates.WithLabelValues(pipeline, element).Inc()
}

// RecordFailure records a fatal job failure.
func (m *EngineMetrics) RecordFailure(pipeline, element string) {
	m.pipelineFailures.WithLabelValues(pipeline, element).Inc()
}

// RecordPayloadAcquired records a payload acquire on the given bus side.
func (m *EngineMetrics) RecordPayloadAcquired(strategy, side string) {
	m.payloadsAcquired.WithLabelValues(strategy, side).Inc()
}

// RecordPayloadReleased records a payload release.
func (m *EngineMetrics) RecordPayloadReleased(strategy string) {
	m.payloadsReleased.WithLabelValues(strategy).Inc()
}

// UpdatePayloadLeaks records payloads left outstanding at bus close.
func (m *EngineMetrics) UpdatePayloadLeaks(strategy string, leaks int) {
	m.payloadLeaks.WithLabelValues(strategy).Set(float64(leaks))
}

// RecordBusBytes records bytes committed through a bus.
func (m *EngineMetrics) RecordBusBytes(strategy string, n int) {
	m.busBytes.WithLabelValues(strategy).Add(float64(n))
}
