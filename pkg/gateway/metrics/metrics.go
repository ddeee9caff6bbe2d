// Package metrics exposes the gateway's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway counters. One instance lives for the
// process; every session loop shares it.
type Metrics struct {
	registry *prometheus.Registry

	SessionsStarted   prometheus.Counter
	SessionsCompleted *prometheus.CounterVec
	ActiveSessions    prometheus.Gauge
	Utterances        prometheus.Counter
	BargeIns          prometheus.Counter
	ToolExecutions    *prometheus.CounterVec
	EngineLatency     prometheus.Histogram
	TranscribeLatency prometheus.Histogram
	SynthesizeLatency prometheus.Histogram
}

// New creates and registers the gateway metric set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loftcall_sessions_started_total",
			Help: "Voice sessions accepted.",
		}),
		SessionsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loftcall_sessions_completed_total",
			Help: "Voice sessions ended, by reason.",
		}, []string{"reason"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loftcall_active_sessions",
			Help: "Voice sessions currently running.",
		}),
		Utterances: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loftcall_utterances_total",
			Help: "Caller utterances endpointed.",
		}),
		BargeIns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loftcall_barge_ins_total",
			Help: "Playback runs interrupted by the caller.",
		}),
		ToolExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loftcall_tool_executions_total",
			Help: "Tool step executions, by tool and outcome.",
		}, []string{"tool", "outcome"}),
		EngineLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "loftcall_engine_latency_seconds",
			Help:    "Model completion latency.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		TranscribeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "loftcall_transcribe_latency_seconds",
			Help:    "Speech-to-text latency.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		SynthesizeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "loftcall_synthesize_latency_seconds",
			Help:    "Text-to-speech latency.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}

	reg.MustRegister(
		m.SessionsStarted,
		m.SessionsCompleted,
		m.ActiveSessions,
		m.Utterances,
		m.BargeIns,
		m.ToolExecutions,
		m.EngineLatency,
		m.TranscribeLatency,
		m.SynthesizeLatency,
	)
	return m
}

// Handler serves the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
