// Package metrics wires the agreement protocol into Prometheus
// collectors. Each replica and client owns a private registry rather
// than registering into the global DefaultRegisterer, since a single
// process hosts many instances (see cmd/pbftd) and promauto's
// package-level constructors would otherwise panic on the second
// registration.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors for one node (replica or client).
type Metrics struct {
	registry *prometheus.Registry

	messagesReceived *prometheus.CounterVec
	messagesSent     *prometheus.CounterVec
	quorumReached    *prometheus.CounterVec
	phase            *prometheus.GaugeVec
	repliesTotal     *prometheus.CounterVec
}

// New creates a Metrics instance backed by its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	return &Metrics{
		registry: reg,

		messagesReceived: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "pbft_messages_received_total",
			Help: "Messages received by kind",
		}, []string{"kind"}),

		messagesSent: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "pbft_messages_sent_total",
			Help: "Messages sent by kind",
		}, []string{"kind"}),

		quorumReached: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "pbft_quorum_reached_total",
			Help: "Number of times a 2f+1 quorum was reached, by vote kind",
		}, []string{"kind"}),

		phase: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "pbft_phase",
			Help: "Current phase of a node (0=Idle,1=PrePrepare,2=Prepare,3=Commit)",
		}, []string{"node_id"}),

		repliesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "pbft_replies_total",
			Help: "Replies received by a client",
		}, []string{"client_id"}),
	}
}

// RecordReceived records an inbound message of the given kind.
func (m *Metrics) RecordReceived(kind string) {
	m.messagesReceived.WithLabelValues(kind).Inc()
}

// RecordSent records an outbound message of the given kind.
func (m *Metrics) RecordSent(kind string) {
	m.messagesSent.WithLabelValues(kind).Inc()
}

// RecordQuorum records a 2f+1 threshold crossing for the given vote kind.
func (m *Metrics) RecordQuorum(kind string) {
	m.quorumReached.WithLabelValues(kind).Inc()
}

// SetPhase reports a node's current phase.
func (m *Metrics) SetPhase(nodeID string, phase int) {
	m.phase.WithLabelValues(nodeID).Set(float64(phase))
}

// RecordReply records a reply delivered to a client.
func (m *Metrics) RecordReply(clientID string) {
	m.repliesTotal.WithLabelValues(clientID).Inc()
}

// Handler serves this instance's collectors on /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
