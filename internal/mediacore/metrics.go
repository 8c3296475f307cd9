package mediacore

import (
	"time"

	"github.com/tphakala/mediaflow/internal/observability"
)

// MetricsCollector provides nil-safe metrics recording for engine
// components. A zero-value collector is a no-op, so callers never need to
// guard call sites.
type MetricsCollector struct {
	metrics *observability.EngineMetrics
	enabled bool
}

// NewMetricsCollector wraps the given metrics instance; nil disables
// recording.
func NewMetricsCollector(metrics *observability.EngineMetrics) *MetricsCollector {
	return &MetricsCollector{
		metrics: metrics,
		enabled: metrics != nil,
	}
}

// Engine returns the underlying metrics instance, nil when disabled.
// Buses receive it directly since they live below this package.
func (mc *MetricsCollector) Engine() *observability.EngineMetrics {
	if mc == nil {
		return nil
	}
	return mc.metrics
}

// RecordJob records one job execution outcome and duration.
func (mc *MetricsCollector) RecordJob(pipeline, element, job string, result JobResult, duration time.Duration) {
	if mc == nil || !mc.enabled {
		return
	}
	mc.metrics.RecordJobResult(pipeline, element, job, result.String())
	if duration > 0 {
		mc.metrics.RecordJobDuration(pipeline, element, job, duration.Seconds())
	}
}

// UpdatePipelineState records a pipeline lifecycle state change.
func (mc *MetricsCollector) UpdatePipelineState(pipeline string, state PipelineState) {
	if mc == nil || !mc.enabled {
		return
	}
	mc.metrics.UpdatePipelineState(pipeline, int(state))
}

// RecordPass records a completed running-phase pass.
func (mc *MetricsCollector) RecordPass(pipeline string) {
	if mc == nil || !mc.enabled {
		return
	}
	mc.metrics.RecordPass(pipeline)
}

// RecordTruncate records a partial payload report.
func (mc *MetricsCollector) RecordTruncate(pipeline, element string) {
	if mc == nil || !mc.enabled {
		return
	}
	mc.metrics.RecordTruncate(pipeline, element)
}

// RecordFailure records a fatal job failure.
func (mc *MetricsCollector) RecordFailure(pipeline, element string) {
	if mc == nil || !mc.enabled {
		return
	}
	mc.metrics.RecordFailure(pipeline, element)
}
