// Package observability centralizes Prometheus instrumentation and the
// rolling turn-stage window consumed by the health endpoint.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Metrics groups every Prometheus instrument the service exposes.
type Metrics struct {
	ActiveSessions     prometheus.Gauge
	DisconnectedSessions prometheus.Gauge
	SessionsCreatedTotal prometheus.Counter
	SessionsExpiredTotal prometheus.Counter
	SessionEvents      *prometheus.CounterVec

	WSMessages     *prometheus.CounterVec
	WSWriteErrors  *prometheus.CounterVec
	ProviderErrors *prometheus.CounterVec

	FirstAudioLatency prometheus.Histogram
	TurnStageLatency  *prometheus.HistogramVec
	TurnsTotal        prometheus.Counter
	Interruptions     prometheus.Counter
	AudioFramesDropped prometheus.Counter
	STTRestarts       prometheus.Counter
	LLMErrors         prometheus.Counter
	TTSErrors         prometheus.Counter

	ThermalCurrentC       prometheus.Gauge
	ThermalProtectionActive prometheus.Gauge
	ThermalTriggerCount   prometheus.Counter

	WorkersAlive prometheus.Gauge

	turnStageWindow *turnStageWindow
}

// NewMetrics registers every instrument under namespace and returns the
// grouping struct used throughout the pipeline.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of sessions currently CONNECTED.",
		}),
		DisconnectedSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "disconnected_sessions",
			Help:      "Number of sessions currently DISCONNECTED but not yet swept.",
		}),
		SessionsCreatedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Sessions created since process start.",
		}),
		SessionsExpiredTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_expired_total",
			Help:      "Sessions removed by TTL sweep since process start.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		WSWriteErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_write_errors_total",
			Help:      "WebSocket write errors by reason.",
		}, []string{"reason"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "External provider errors by provider and code.",
		}, []string{"provider", "code"}),
		FirstAudioLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_audio_latency_ms",
			Help:      "Time-to-first-audio per turn, in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000},
		}),
		TurnStageLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_stage_latency_ms",
			Help:      "Turn-stage latency in milliseconds.",
			Buckets:   []float64{20, 50, 100, 150, 250, 400, 700, 1200, 2000, 4000, 7000, 10000},
		}, []string{"stage"}),
		TurnsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "User turns committed since process start.",
		}),
		Interruptions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interruptions_total",
			Help:      "Barge-ins that cancelled an in-progress assistant turn.",
		}),
		AudioFramesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_dropped_total",
			Help:      "Ingress audio frames dropped under backpressure.",
		}),
		STTRestarts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_restarts_total",
			Help:      "Times the STT worker was restarted after dying mid-turn.",
		}),
		LLMErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_errors_total",
			Help:      "LLM streaming failures.",
		}),
		TTSErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_errors_total",
			Help:      "TTS streaming failures.",
		}),
		ThermalCurrentC: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "thermal_current_c",
			Help:      "Last observed temperature in Celsius, or -1 if unsupported.",
		}),
		ThermalProtectionActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "thermal_protection_active",
			Help:      "1 if thermal protection is currently engaged, else 0.",
		}),
		ThermalTriggerCount: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "thermal_trigger_total",
			Help:      "Times thermal protection has activated since process start.",
		}),
		WorkersAlive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_alive",
			Help:      "Number of background workers currently running.",
		}),
		turnStageWindow: newTurnStageWindow(256),
	}
}

// ObserveFirstAudioLatency records the headline TTFA metric for one turn,
// both as a Prometheus histogram and in the rolling window the health
// endpoint's ttfa_p50_ms/ttfa_p95_ms fields read back from.
func (m *Metrics) ObserveFirstAudioLatency(d time.Duration) {
	ms := float64(d.Milliseconds())
	m.FirstAudioLatency.Observe(ms)
	if m.turnStageWindow != nil {
		m.turnStageWindow.Observe("first_audio", ms)
	}
}

// ObserveTurnStage records both the Prometheus histogram and the rolling
// window used for the health endpoint's p50/p95 readout.
func (m *Metrics) ObserveTurnStage(stage string, d time.Duration) {
	ms := float64(d.Milliseconds())
	m.TurnStageLatency.WithLabelValues(stage).Observe(ms)
	m.turnStageWindow.Observe(stage, ms)
}

// SnapshotTurnStages returns the current rolling-window percentiles, for the
// §6.4 pipeline health readout.
func (m *Metrics) SnapshotTurnStages() TurnStageSnapshot {
	if m.turnStageWindow == nil {
		return TurnStageSnapshot{}
	}
	return m.turnStageWindow.Snapshot()
}

// MetricsHandler exposes the Prometheus exposition format.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// counterValue reads a Counter's current total back out. The Prometheus
// client has no direct getter; Write into a dto.Metric is the documented way
// an exporter other than the HTTP handler reads a collector's value.
func counterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(g prometheus.Gauge) float64 {
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

// PipelineTotals reads back the process-wide pipeline counters for the
// health endpoint. ttfa_p50_ms/ttfa_p95_ms come from the rolling window
// rather than the histogram, since a histogram's quantiles require external
// aggregation (Prometheus itself, not this process) to compute correctly.
func (m *Metrics) PipelineTotals() PipelineSnapshot {
	snap := PipelineSnapshot{
		Interruptions:      int64(counterValue(m.Interruptions)),
		STTRestarts:        int64(counterValue(m.STTRestarts)),
		LLMErrors:          int64(counterValue(m.LLMErrors)),
		TTSErrors:          int64(counterValue(m.TTSErrors)),
		AudioFramesDropped: int64(counterValue(m.AudioFramesDropped)),
	}
	snap.TurnsTotal = int64(counterValue(m.TurnsTotal))
	if m.turnStageWindow != nil {
		for _, st := range m.turnStageWindow.Snapshot().Stages {
			if st.Stage == "first_audio" {
				snap.TTFAP50MS = st.P50MS
				snap.TTFAP95MS = st.P95MS
			}
		}
	}
	return snap
}

// SessionTotals reads back the cumulative session counters for the health
// endpoint; CountByState on the session Store supplies the live active and
// disconnected counts.
func (m *Metrics) SessionTotals() (created, expired int) {
	return int(counterValue(m.SessionsCreatedTotal)), int(counterValue(m.SessionsExpiredTotal))
}

// ThermalSnapshotFrom builds the health endpoint's thermal shape from a
// thermal.Controller's state. current_c reports -1 on an unsupported
// platform, the sentinel a client should treat as "no reading".
func ThermalSnapshotFrom(enabled, supported bool, currentC float64, protectionActive bool, triggerCount int, maxObservedC float64) ThermalSnapshot {
	if !supported {
		currentC = -1
	}
	return ThermalSnapshot{
		Enabled:          enabled,
		Supported:        supported,
		CurrentC:         currentC,
		ProtectionActive: protectionActive,
		TriggerCount:     triggerCount,
		MaxObservedC:     maxObservedC,
	}
}
