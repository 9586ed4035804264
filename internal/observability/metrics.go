package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveConversations   prometheus.Gauge
	EventSubscribers      prometheus.Gauge
	TurnsTotal            *prometheus.CounterVec
	StageOutcomes         *prometheus.CounterVec
	TranscriptionAttempts *prometheus.CounterVec
	ProviderFailures      *prometheus.CounterVec
	StageDuration         *prometheus.HistogramVec
	AudioPayloadBytes     prometheus.Histogram

	window *turnStageWindow
}

func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the instruments on an explicit registerer. Tests
// use a throwaway registry to avoid duplicate registration panics.
func NewMetricsWith(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveConversations: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_conversations",
			Help:      "Number of conversations currently registered.",
		}),
		EventSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_subscribers",
			Help:      "Number of open turn-event websocket subscribers.",
		}),
		TurnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed turns by outcome.",
		}, []string{"outcome"}),
		StageOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_outcomes_total",
			Help:      "Turn stage completions by stage and status.",
		}, []string{"stage", "status"}),
		TranscriptionAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_attempts_total",
			Help:      "Transcription attempts by format candidate and result.",
		}, []string{"format", "result"}),
		ProviderFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_failures_total",
			Help:      "Collaborator failures by provider and failure class.",
		}, []string{"provider", "class"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_ms",
			Help:      "Turn stage duration in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2000, 4000, 8000, 15000},
		}, []string{"stage"}),
		AudioPayloadBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "audio_payload_bytes",
			Help:      "Decoded size of submitted audio payloads.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 9),
		}),
		window: newTurnStageWindow(256),
	}
}

// ObserveStage records one stage completion in both the histogram and the
// in-process latency window.
func (m *Metrics) ObserveStage(stage string, status string, d time.Duration) {
	ms := float64(d.Microseconds()) / 1000.0
	m.StageDuration.WithLabelValues(stage).Observe(ms)
	m.StageOutcomes.WithLabelValues(stage, status).Inc()
	m.window.Observe(stage, ms)
}

// ObserveTurn records one completed turn.
func (m *Metrics) ObserveTurn(outcome string, total time.Duration) {
	m.TurnsTotal.WithLabelValues(outcome).Inc()
	m.window.Observe("turn_total", float64(total.Microseconds())/1000.0)
}

// ObserveIndicator bumps a named counter in the latency window snapshot.
func (m *Metrics) ObserveIndicator(name string) {
	m.window.ObserveIndicator(name)
}

// StageSnapshot returns the current latency window contents.
func (m *Metrics) StageSnapshot() TurnStageSnapshot {
	return m.window.Snapshot()
}

// ResetStageWindow clears the latency window without touching Prometheus
// counters.
func (m *Metrics) ResetStageWindow() {
	m.window.Reset()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
