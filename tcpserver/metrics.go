package tcpserver

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cyberinferno/go-tcpsession/handler"
	"github.com/cyberinferno/go-tcpsession/protocol"
)

// Metrics are the Prometheus collectors of a TCPServer. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	activeSessions  prometheus.Gauge
	openConnections prometheus.Gauge
	handshakes      *prometheus.CounterVec
	messages        *prometheus.CounterVec
	handleDuration  *prometheus.HistogramVec
	sessionsEnded   *prometheus.CounterVec
}

// NewMetrics registers the server collectors with reg.
//
// Parameters:
//   - reg: The registerer to use, e.g. prometheus.NewRegistry()
//   - namespace: Metric name prefix
//
// Returns:
//   - The metrics; registration panics on duplicate collectors
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of confirmed sessions in the session map.",
		}),
		openConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_connections",
			Help:      "Number of accepted connections, including those still handshaking.",
		}),
		handshakes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_total",
			Help:      "Handshakes by result code.",
		}, []string{"result"}),
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Inbound frames by body type.",
		}, []string{"body_type"}),
		handleDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handle_duration_seconds",
			Help:      "Time spent dispatching one inbound frame.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 8),
		}, []string{"body_type"}),
		sessionsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Ended receive loops by outcome kind.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) connectionOpened() {
	if m == nil {
		return
	}

	m.openConnections.Inc()
}

func (m *Metrics) connectionClosed() {
	if m == nil {
		return
	}

	m.openConnections.Dec()
}

func (m *Metrics) sessionAdded() {
	if m == nil {
		return
	}

	m.activeSessions.Inc()
}

func (m *Metrics) sessionRemoved() {
	if m == nil {
		return
	}

	m.activeSessions.Dec()
}

func (m *Metrics) handshake(err error) {
	if m == nil {
		return
	}

	result := "accepted"
	if err != nil {
		result = protocol.CodeOf(err).String()
	}

	m.handshakes.WithLabelValues(result).Inc()
}

func (m *Metrics) message(bodyType protocol.BodyType, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.messages.WithLabelValues(bodyType.String()).Inc()
	m.handleDuration.WithLabelValues(bodyType.String()).Observe(elapsed.Seconds())
}

func (m *Metrics) sessionEnded(outcome handler.Outcome) {
	if m == nil {
		return
	}

	m.sessionsEnded.WithLabelValues(outcome.Kind.String()).Inc()
}
