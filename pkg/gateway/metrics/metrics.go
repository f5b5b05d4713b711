// Package metrics exposes the gateway's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-go/vai-interview/pkg/core/types"
)

// Metrics holds all Prometheus metrics for the interview gateway.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsActive   prometheus.Gauge
	SessionsTotal    *prometheus.CounterVec
	SessionDuration  *prometheus.HistogramVec
	SessionsRejected *prometheus.CounterVec
	DegradedSessions prometheus.Counter

	// Turn metrics
	TurnsTotal        *prometheus.CounterVec
	BargeInsTotal     prometheus.Counter
	AudioDroppedTotal *prometheus.CounterVec
	EvaluationsTotal  *prometheus.CounterVec

	// Error metrics
	EngineFallbacks *prometheus.CounterVec
	UpstreamErrors  *prometheus.CounterVec
}

// New creates a Metrics instance with all collectors registered on a private
// registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "vai_interview"
	}

	registry := prometheus.NewRegistry()

	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of connected interview sessions",
		},
	)

	sessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of interview connections",
		},
		[]string{"mode"},
	)

	sessionDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Interview connection duration in seconds",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		},
		[]string{"mode"},
	)

	sessionsRejected := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_rejected_total",
			Help:      "Interview connections refused before upgrade",
		},
		[]string{"reason"},
	)

	degradedSessions := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_sessions_total",
			Help:      "Sessions started without backend metadata",
		},
	)

	turnsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Committed candidate answers",
		},
		[]string{"source"},
	)

	bargeIns := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barge_ins_total",
			Help:      "Question playback interrupted by candidate speech",
		},
	)

	audioDropped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_dropped_total",
			Help:      "Inbound audio frames discarded",
		},
		[]string{"reason"},
	)

	evaluations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Completed evaluations by recommendation",
		},
		[]string{"recommendation"},
	)

	engineFallbacks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_fallbacks_total",
			Help:      "Fixed texts used in place of a model reply",
		},
		[]string{"op", "reason"},
	)

	upstreamErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Failed calls to the interview backend",
		},
		[]string{"op"},
	)

	// Register all metrics
	registry.MustRegister(
		sessionsActive,
		sessionsTotal,
		sessionDuration,
		sessionsRejected,
		degradedSessions,
		turnsTotal,
		bargeIns,
		audioDropped,
		evaluations,
		engineFallbacks,
		upstreamErrors,
	)

	return &Metrics{
		registry:          registry,
		SessionsActive:    sessionsActive,
		SessionsTotal:     sessionsTotal,
		SessionDuration:   sessionDuration,
		SessionsRejected:  sessionsRejected,
		DegradedSessions:  degradedSessions,
		TurnsTotal:        turnsTotal,
		BargeInsTotal:     bargeIns,
		AudioDroppedTotal: audioDropped,
		EvaluationsTotal:  evaluations,
		EngineFallbacks:   engineFallbacks,
		UpstreamErrors:    upstreamErrors,
	}
}

// Registry returns the registry backing Handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SessionStarted records a connection that passed the upgrade.
func (m *Metrics) SessionStarted() {
	m.SessionsActive.Inc()
}

// SessionEnded records a closed connection. The mode is only known once the
// session has opened, so totals are counted here.
func (m *Metrics) SessionEnded(mode types.Mode, duration time.Duration) {
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(modeLabel(mode)).Inc()
	m.SessionDuration.WithLabelValues(modeLabel(mode)).Observe(duration.Seconds())
}

// SessionRejected records a connection refused before upgrade.
func (m *Metrics) SessionRejected(reason string) {
	m.SessionsRejected.WithLabelValues(reason).Inc()
}

// SessionDegraded records a session built without backend metadata.
func (m *Metrics) SessionDegraded() {
	m.DegradedSessions.Inc()
}

// EngineFallback records a fixed text served in place of a model reply.
func (m *Metrics) EngineFallback(op, reason string) {
	m.EngineFallbacks.WithLabelValues(op, reason).Inc()
}

func (m *Metrics) TurnCommitted(source string) {
	m.TurnsTotal.WithLabelValues(source).Inc()
}

func (m *Metrics) BargeIn() {
	m.BargeInsTotal.Inc()
}

func (m *Metrics) Evaluation(rec types.Recommendation) {
	m.EvaluationsTotal.WithLabelValues(string(rec)).Inc()
}

func (m *Metrics) UpstreamError(op string) {
	m.UpstreamErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) AudioDropped(reason string) {
	m.AudioDroppedTotal.WithLabelValues(reason).Inc()
}

func modeLabel(mode types.Mode) string {
	if mode == "" {
		return string(types.ModeText)
	}
	return string(mode)
}
