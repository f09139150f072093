package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/yegors/sttstream/internal/session"
	"github.com/yegors/sttstream/internal/stt"
)

// Metrics contains the Prometheus metrics of recognition sessions. It
// implements session.Recorder.
type Metrics struct {
	registry *prometheus.Registry
	state    atomic.Int32

	// Session metrics
	SessionState     prometheus.Gauge
	Transitions      *prometheus.CounterVec
	SessionsFinished *prometheus.CounterVec
	SessionDuration  prometheus.Histogram

	// Outbound metrics
	UnitsSent *prometheus.CounterVec
	BytesSent *prometheus.CounterVec

	// Inbound metrics
	Decisions *prometheus.CounterVec
}

// NewMetrics creates the metrics on a private registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		SessionState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sttstream_session_state",
			Help: "Current session state (0 idle, 1 token issued, 2 stream open, 3 streaming, 4 closed, 5 failed)",
		}),
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sttstream_session_transitions_total",
			Help: "Total number of session state transitions",
		}, []string{"from", "to"}),
		SessionsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sttstream_sessions_finished_total",
			Help: "Total number of finished sessions by final state and reason",
		}, []string{"state", "reason"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sttstream_session_duration_seconds",
			Help:    "Duration of recognition sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4 minutes
		}),

		UnitsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sttstream_units_sent_total",
			Help: "Total number of request units sent by kind",
		}, []string{"kind"}),
		BytesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sttstream_audio_bytes_sent_total",
			Help: "Total number of audio bytes sent",
		}, []string{"kind"}),

		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sttstream_event_decisions_total",
			Help: "Total number of inbound events by consumer decision",
		}, []string{"decision"}),
	}
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// State returns the most recent session state
func (m *Metrics) State() session.State {
	return session.State(m.state.Load())
}

// Transition records a state change
func (m *Metrics) Transition(from, to session.State) {
	m.state.Store(int32(to))
	m.SessionState.Set(float64(to))
	m.Transitions.WithLabelValues(from.String(), to.String()).Inc()
}

// UnitSent records an outbound request unit
func (m *Metrics) UnitSent(unit stt.RequestUnit) {
	switch u := unit.(type) {
	case stt.ConfigUnit:
		m.UnitsSent.WithLabelValues("config").Inc()
	case stt.AudioUnit:
		kind := "audio"
		if u.Synthetic {
			kind = "silence"
		}
		m.UnitsSent.WithLabelValues(kind).Inc()
		m.BytesSent.WithLabelValues(kind).Add(float64(len(u.Data)))
	}
}

// EventDecided records the consumer's decision for an inbound event
func (m *Metrics) EventDecided(_ *stt.RecognitionEvent, d session.Decision) {
	m.Decisions.WithLabelValues(d.String()).Inc()
}

// Finished records the outcome of a session
func (m *Metrics) Finished(outcome *session.Outcome) {
	m.SessionsFinished.WithLabelValues(outcome.State.String(), string(outcome.Reason)).Inc()
	m.SessionDuration.Observe(outcome.Duration.Seconds())
}
