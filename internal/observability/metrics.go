package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the centralized collection of server metrics.
type Metrics struct {
	// ConnectionsActive tracks currently open transport connections.
	ConnectionsActive prometheus.Gauge

	// ConnectionsAuthenticated tracks connections with an attached user.
	ConnectionsAuthenticated prometheus.Gauge

	// PresenceEntries tracks presence memberships currently registered.
	PresenceEntries prometheus.Gauge

	// MessagesTotal counts inbound requests.
	// Labels: type (request type), status (ok|error)
	MessagesTotal *prometheus.CounterVec

	// BroadcastsTotal counts fanout calls.
	// Labels: target (all|board|user|connection)
	BroadcastsTotal *prometheus.CounterVec

	// BroadcastRecipients counts frames actually enqueued by fanout.
	BroadcastRecipients prometheus.Counter

	// PresenceSweeps counts entries removed by the periodic sweep.
	PresenceSweeps prometheus.Counter

	// RequestDuration measures request handling latency in seconds.
	// Labels: type
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics registers all metrics on reg. A nil registerer uses the default
// global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "syncboard_connections_active",
			Help: "Number of open websocket connections.",
		}),
		ConnectionsAuthenticated: factory.NewGauge(prometheus.GaugeOpts{
			Name: "syncboard_connections_authenticated",
			Help: "Number of connections with an attached user.",
		}),
		PresenceEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "syncboard_presence_entries",
			Help: "Number of presence memberships currently tracked.",
		}),
		MessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "syncboard_messages_total",
			Help: "Inbound requests by type and outcome.",
		}, []string{"type", "status"}),
		BroadcastsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "syncboard_broadcasts_total",
			Help: "Fanout dispatches by target kind.",
		}, []string{"target"}),
		BroadcastRecipients: factory.NewCounter(prometheus.CounterOpts{
			Name: "syncboard_broadcast_recipients_total",
			Help: "Frames enqueued to connections by fanout.",
		}),
		PresenceSweeps: factory.NewCounter(prometheus.CounterOpts{
			Name: "syncboard_presence_swept_total",
			Help: "Presence entries removed by the periodic sweep.",
		}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "syncboard_request_duration_seconds",
			Help:    "Request handling latency.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"type"}),
	}
}
