package realtime

import (
	"log/slog"

	"github.com/PaulBabatuyi/roomchat/internal/metrics"
)

// Dispatcher fans an event out to every connection joined to a room.
type Dispatcher struct {
	registry *Registry
	hub      *Hub
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewDispatcher(registry *Registry, hub *Hub, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{registry: registry, hub: hub, logger: logger, metrics: m}
}

// Dispatch queues ev for every connection in the room and returns how many
// accepted it. It never waits on a connection's transport: a connection whose
// queue is full misses the event and the rest still receive it.
func (d *Dispatcher) Dispatch(conversationID string, ev Event) int {
	delivered := 0
	for _, connID := range d.registry.MembersOf(conversationID) {
		s, ok := d.hub.Get(connID)
		if !ok {
			d.metrics.Delivery(metrics.ResultMissing)
			continue
		}
		if err := s.send(ev); err != nil {
			d.logger.Debug("fan-out delivery failed",
				"conn_id", connID, "room", conversationID, "event", ev.Name, "error", err)
			d.metrics.Delivery(metrics.ResultFailed)
			continue
		}
		d.metrics.Delivery(metrics.ResultDelivered)
		delivered++
	}
	return delivered
}
