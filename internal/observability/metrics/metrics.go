// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "audiomate"

// Metrics holds all Prometheus metrics for the process. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Asset metrics
	AssetsTotal   *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	AudioSeconds  prometheus.Counter

	// Run metrics
	RunsTotal    *prometheus.CounterVec
	RunsDegraded prometheus.Counter
	Segments     prometheus.Counter

	// Resource metrics
	CPUPercent         prometheus.Gauge
	MemoryPercent      prometheus.Gauge
	AcceleratorPercent prometheus.Gauge

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// New creates all metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AssetsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assets_total",
			Help:      "Total number of processed audio assets by final status",
		}, []string{"status"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of asset pipeline stages in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 900, 1800},
		}, []string{"stage"}),
		AudioSeconds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_seconds_total",
			Help:      "Total seconds of normalized audio transcribed",
		}),

		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of transcription runs by final target and status",
		}, []string{"target", "status"}),
		RunsDegraded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_degraded_total",
			Help:      "Total number of runs restarted on the fallback target",
		}),
		Segments: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_total",
			Help:      "Total number of transcript segments yielded",
		}),

		CPUPercent: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cpu_percent",
			Help:      "Last sampled host CPU utilization",
		}),
		MemoryPercent: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_percent",
			Help:      "Last sampled host memory utilization",
		}),
		AcceleratorPercent: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "accelerator_percent",
			Help:      "Last sampled accelerator utilization, -1 when unavailable",
		}),

		KafkaPublishTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// RecordAsset records the final status of one asset.
func (m *Metrics) RecordAsset(status string) {
	if m == nil {
		return
	}
	m.AssetsTotal.WithLabelValues(status).Inc()
}

// RecordStage records how long a pipeline stage took.
func (m *Metrics) RecordStage(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordAudio records transcribed audio length.
func (m *Metrics) RecordAudio(seconds float64) {
	if m == nil || seconds <= 0 {
		return
	}
	m.AudioSeconds.Add(seconds)
}

// RecordRun records a finished transcription run.
func (m *Metrics) RecordRun(target, status string, degraded bool) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(target, status).Inc()
	if degraded {
		m.RunsDegraded.Inc()
	}
}

// RecordSegment records one yielded segment.
func (m *Metrics) RecordSegment() {
	if m == nil {
		return
	}
	m.Segments.Inc()
}

// RecordResources stores the last resource sample. A negative accelerator
// value means the reading was unavailable.
func (m *Metrics) RecordResources(cpu, memory, accelerator float64) {
	if m == nil {
		return
	}
	m.CPUPercent.Set(cpu)
	m.MemoryPercent.Set(memory)
	m.AcceleratorPercent.Set(accelerator)
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	if m == nil {
		return
	}
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}
