package relay

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	prometheusGaugeClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "meetmesh_relay_clients",
			Help: "Number of currently connected signaling clients on this node",
		},
	)

	prometheusGaugeRooms = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "meetmesh_relay_rooms",
			Help: "Number of currently open rooms on this node",
		},
	)

	prometheusCounterForwarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meetmesh_relay_envelopes_forwarded_total",
			Help: "Total number of handshake envelopes forwarded between peers",
		},
	)
)

func init() {
	prometheus.MustRegister(prometheusGaugeClients)
	prometheus.MustRegister(prometheusGaugeRooms)
	prometheus.MustRegister(prometheusCounterForwarded)
	prometheus.MustRegister(prometheus.NewBuildInfoCollector())
}

func metricsHandler() http.Handler {
	return promhttp.HandlerFor(
		prometheus.DefaultGatherer,
		promhttp.HandlerOpts{
			// Opt into OpenMetrics to support exemplars.
			EnableOpenMetrics: true,
		},
	)
}
