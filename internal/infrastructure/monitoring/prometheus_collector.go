package monitoring

import (
	"time"

	"roomcast/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RelayCollector holds the relay server's metrics.
type RelayCollector struct {
	roomsActive        prometheus.Gauge
	participantsActive *prometheus.GaugeVec
	connectionsTotal   prometheus.Counter

	messagesRelayed *prometheus.CounterVec
	messagesDropped *prometheus.CounterVec
	bytesRelayed    prometheus.Counter

	sessionTransitions *prometheus.CounterVec
	connectionDuration prometheus.Histogram
}

// NewRelayCollector registers the relay metrics with reg; nil uses the default registry.
func NewRelayCollector(reg prometheus.Registerer) *RelayCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &RelayCollector{
		roomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "roomcast_relay_rooms_active",
			Help: "Number of rooms with at least one connected participant",
		}),

		participantsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roomcast_relay_participants_active",
			Help: "Connected participants by role",
		}, []string{"role"}),

		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomcast_relay_connections_total",
			Help: "Total number of websocket connections accepted",
		}),

		messagesRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roomcast_relay_messages_total",
			Help: "Messages routed by the relay, by type",
		}, []string{"type"}),

		messagesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roomcast_relay_messages_dropped_total",
			Help: "Messages rejected by the relay, by reason",
		}, []string{"reason"}),

		bytesRelayed: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomcast_relay_bytes_total",
			Help: "Total frame bytes received by the relay",
		}),

		sessionTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roomcast_relay_session_transitions_total",
			Help: "Room status transitions applied, by target status",
		}, []string{"status"}),

		connectionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "roomcast_relay_connection_duration_seconds",
			Help:    "Lifetime of websocket connections",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}
}

func (p *RelayCollector) RecordConnected(role domain.Role) {
	p.connectionsTotal.Inc()
	p.participantsActive.WithLabelValues(string(role)).Inc()
}

func (p *RelayCollector) RecordDisconnected(role domain.Role, lifetime time.Duration) {
	p.participantsActive.WithLabelValues(string(role)).Dec()
	p.connectionDuration.Observe(lifetime.Seconds())
}

func (p *RelayCollector) SetRooms(n int) {
	p.roomsActive.Set(float64(n))
}

func (p *RelayCollector) RecordMessage(t domain.MessageType, bytes int) {
	p.messagesRelayed.WithLabelValues(string(t)).Inc()
	p.bytesRelayed.Add(float64(bytes))
}

func (p *RelayCollector) RecordDropped(reason string) {
	p.messagesDropped.WithLabelValues(reason).Inc()
}

func (p *RelayCollector) RecordTransition(status domain.RoomStatus) {
	p.sessionTransitions.WithLabelValues(string(status)).Inc()
}
