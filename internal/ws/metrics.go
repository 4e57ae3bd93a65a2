package ws

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Relay outcomes recorded on Metrics.RelayFrames.
const (
	RelayDelivered = "delivered"
	RelayAbsent    = "absent"
	RelayMalformed = "malformed"
)

// Rejection reasons recorded on Metrics.Rejections.
const (
	RejectInvalidParams   = "invalid_params"
	RejectAuthFailed      = "auth_failed"
	RejectForbidden       = "forbidden"
	RejectInvalidRelayKey = "invalid_relay_key"
	RejectInternal        = "internal"
)

// Metrics holds the hub's Prometheus collectors.
type Metrics struct {
	Connections *prometheus.GaugeVec
	Rooms       prometheus.Gauge
	Broadcasts  prometheus.Counter
	RelayFrames *prometheus.CounterVec
	Rejections  *prometheus.CounterVec
}

// NewMetrics creates the hub collectors and registers them with reg. A nil
// registerer leaves them unregistered, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Connections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "flowboard",
			Subsystem: "hub",
			Name:      "connections",
			Help:      "Open WebSocket connections by channel.",
		}, []string{"channel"}),
		Rooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowboard",
			Subsystem: "hub",
			Name:      "rooms",
			Help:      "Chatrooms with at least one member.",
		}),
		Broadcasts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "flowboard",
			Subsystem: "hub",
			Name:      "broadcasts_total",
			Help:      "Envelopes broadcast to chatrooms.",
		}),
		RelayFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowboard",
			Subsystem: "hub",
			Name:      "relay_frames_total",
			Help:      "Backend relay frames by outcome.",
		}, []string{"result"}),
		Rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowboard",
			Subsystem: "hub",
			Name:      "rejected_connections_total",
			Help:      "Connections closed during the handshake, by reason.",
		}, []string{"reason"}),
	}
}
