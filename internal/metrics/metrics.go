// Package metrics owns the Prometheus collectors of the messaging core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chaats"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing,
// so components can be built without a registry in tests.
type Metrics struct {
	Sessions        prometheus.Gauge
	AuthFailures    prometheus.Counter
	Frames          *prometheus.CounterVec
	FrameErrors     *prometheus.CounterVec
	MessagesStored  prometheus.Counter
	Deliveries      *prometheus.CounterVec
	HistoryRequests prometheus.Counter
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Sessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Authenticated sessions currently open.",
		}),
		AuthFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Connections rejected by the identity provider.",
		}),
		Frames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Inbound frames by action.",
		}, []string{"action"}),
		FrameErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_errors_total",
			Help:      "Inbound frames that failed, by error kind.",
		}, []string{"kind"}),
		MessagesStored: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_stored_total",
			Help:      "Direct messages persisted.",
		}),
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Fan-out attempts by event and outcome.",
		}, []string{"event", "outcome"}),
		HistoryRequests: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_requests_total",
			Help:      "Message history queries served.",
		}),
	}
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.Sessions.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.Sessions.Dec()
	}
}

func (m *Metrics) AuthFailed() {
	if m != nil {
		m.AuthFailures.Inc()
	}
}

func (m *Metrics) Frame(action string) {
	if m != nil {
		m.Frames.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) FrameError(kind string) {
	if m != nil {
		m.FrameErrors.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) MessageStored() {
	if m != nil {
		m.MessagesStored.Inc()
	}
}

// Delivered records the outcome of one fan-out.
func (m *Metrics) Delivered(event string, delivered, failed int) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(event, "delivered").Add(float64(delivered))
	m.Deliveries.WithLabelValues(event, "failed").Add(float64(failed))
}

func (m *Metrics) HistoryServed() {
	if m != nil {
		m.HistoryRequests.Inc()
	}
}
