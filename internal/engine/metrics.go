package engine

import "github.com/prometheus/client_golang/prometheus"

// Metrics collects the Prometheus instrumentation for ring/queue health,
// stage latency, recovery attempts, and plugin reconciliation, registered
// directly against a prometheus.Registerer the way the teacher wired
// AudioCoreMetrics, minus the dependency on a metrics sub-package that never
// shipped an implementation in this corpus.
type Metrics struct {
	RingUnderruns      prometheus.Counter
	RingBufferedSamples prometheus.Gauge
	StageStepDuration  *prometheus.HistogramVec
	RecoveryAttempts   prometheus.Counter
	RecoveryExhausted  prometheus.Counter
	PluginReconciles   prometheus.Counter
	SinkQueueDepth     prometheus.Gauge
}

// NewMetrics constructs and registers all collectors against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RingUnderruns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sonora",
			Subsystem: "engine",
			Name:      "ring_underrun_callbacks_total",
			Help:      "Gated output consumer callbacks where fewer samples were provided than requested while the gate was enabled.",
		}),
		RingBufferedSamples: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sonora",
			Subsystem: "engine",
			Name:      "ring_buffered_samples",
			Help:      "Samples currently buffered in the SPSC ring.",
		}),
		StageStepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sonora",
			Subsystem: "engine",
			Name:      "stage_step_duration_seconds",
			Help:      "Duration of a single stage's prepare/process/write call.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}, []string{"stage"}),
		RecoveryAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sonora",
			Subsystem: "engine",
			Name:      "sink_recovery_attempts_total",
			Help:      "Sink-disconnect recovery attempts made by the decode worker.",
		}),
		RecoveryExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sonora",
			Subsystem: "engine",
			Name:      "sink_recovery_exhausted_total",
			Help:      "Sink-disconnect recovery sequences that exhausted max_attempts.",
		}),
		PluginReconciles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sonora",
			Subsystem: "plugin",
			Name:      "reconciliations_total",
			Help:      "Plugin-registry reconciliation passes completed.",
		}),
		SinkQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sonora",
			Subsystem: "engine",
			Name:      "sink_queue_depth",
			Help:      "Blocks currently queued for the active sink worker.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.RingUnderruns,
			m.RingBufferedSamples,
			m.StageStepDuration,
			m.RecoveryAttempts,
			m.RecoveryExhausted,
			m.PluginReconciles,
			m.SinkQueueDepth,
		)
	}
	return m
}
