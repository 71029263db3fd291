// Package metrics holds the Prometheus collectors of the realtime server.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "roomchat"

// Fan-out delivery results.
const (
	ResultDelivered = "delivered"
	ResultFailed    = "failed"
	ResultMissing   = "missing"
)

// Event outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeLimited  = "limited"
)

type Metrics struct {
	Connections      prometheus.Gauge
	Rooms            prometheus.Gauge
	MessagesIngested *prometheus.CounterVec
	ReceiptsApplied  prometheus.Counter
	FanoutDeliveries *prometheus.CounterVec
	Events           *prometheus.CounterVec
	AuthFailures     prometheus.Counter
	PresenceFailures prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Authenticated realtime connections.",
		}),
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_active",
			Help:      "Rooms with at least one joined connection.",
		}),
		MessagesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_ingested_total",
			Help:      "Messages persisted, by message type.",
		}, []string{"type"}),
		ReceiptsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_receipts_total",
			Help:      "Messages newly marked read.",
		}),
		FanoutDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_deliveries_total",
			Help:      "Per-connection fan-out attempts, by result.",
		}, []string{"result"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_events_total",
			Help:      "Inbound client events, by name and outcome.",
		}, []string{"event", "outcome"}),
		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Connections rejected at the handshake.",
		}),
		PresenceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_write_failures_total",
			Help:      "Presence writes that failed and were dropped.",
		}),
	}
	reg.MustRegister(
		m.Connections,
		m.Rooms,
		m.MessagesIngested,
		m.ReceiptsApplied,
		m.FanoutDeliveries,
		m.Events,
		m.AuthFailures,
		m.PresenceFailures,
	)
	return m
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.Connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.Connections.Dec()
	}
}

func (m *Metrics) SetRooms(n int) {
	if m != nil {
		m.Rooms.Set(float64(n))
	}
}

func (m *Metrics) MessageIngested(messageType string) {
	if m != nil {
		m.MessagesIngested.WithLabelValues(messageType).Inc()
	}
}

func (m *Metrics) ReceiptsMarked(n int) {
	if m != nil && n > 0 {
		m.ReceiptsApplied.Add(float64(n))
	}
}

func (m *Metrics) Delivery(result string) {
	if m != nil {
		m.FanoutDeliveries.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Event(name, outcome string) {
	if m != nil {
		m.Events.WithLabelValues(name, outcome).Inc()
	}
}

func (m *Metrics) AuthFailed() {
	if m != nil {
		m.AuthFailures.Inc()
	}
}

func (m *Metrics) PresenceFailed() {
	if m != nil {
		m.PresenceFailures.Inc()
	}
}
