package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the services.
type Metrics struct {
	StateTransitions   *prometheus.CounterVec
	ReconnectAttempts  *prometheus.CounterVec
	ConnectionFailures *prometheus.CounterVec
	ActiveRooms        prometheus.Gauge
	ReserveQuotes      *prometheus.CounterVec
	BidsPlaced         *prometheus.CounterVec
}

// NewMetrics registers the instruments on reg. A nil reg uses the default registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_state_transitions_total",
			Help:      "Realtime feed connection state transitions by target state.",
		}, []string{"state"}),
		ReconnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_reconnect_attempts_total",
			Help:      "Scheduled reconnect attempts by outcome.",
		}, []string{"outcome"}),
		ConnectionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_connection_failures_total",
			Help:      "Feed subscriptions that exhausted their retries.",
		}, []string{"backend"}),
		ActiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_bid_rooms",
			Help:      "Listings with at least one live watcher.",
		}),
		ReserveQuotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reserve_price_quotes_total",
			Help:      "Reserve price calculations by result.",
		}, []string{"result"}),
		BidsPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bids_placed_total",
			Help:      "Dealer bids by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(
		m.StateTransitions,
		m.ReconnectAttempts,
		m.ConnectionFailures,
		m.ActiveRooms,
		m.ReserveQuotes,
		m.BidsPlaced,
	)
	return m
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
