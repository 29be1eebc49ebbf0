package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the endpoint's operational counters on /metrics.
type Metrics struct {
	LaserRX      prometheus.Counter
	LaserRejects prometheus.Counter
	ShotsFired   prometheus.Counter
	HitsTaken    prometheus.Counter
	PeerTX       prometheus.Counter
	PeerRX       prometheus.Counter
	PeerDups     prometheus.Counter
	WSClients    prometheus.Gauge
	Reconnects   prometheus.Counter
}

// NewMetrics registers the endpoint metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LaserRX: factory.NewCounter(prometheus.CounterOpts{
			Name: "rayz_laser_rx_total",
			Help: "Accepted inbound laser frames.",
		}),
		LaserRejects: factory.NewCounter(prometheus.CounterOpts{
			Name: "rayz_laser_rejected_total",
			Help: "Laser frames dropped on hash mismatch.",
		}),
		ShotsFired: factory.NewCounter(prometheus.CounterOpts{
			Name: "rayz_shots_fired_total",
			Help: "Accepted trigger pulls.",
		}),
		HitsTaken: factory.NewCounter(prometheus.CounterOpts{
			Name: "rayz_hits_taken_total",
			Help: "Hits applied to this endpoint.",
		}),
		PeerTX: factory.NewCounter(prometheus.CounterOpts{
			Name: "rayz_peer_tx_total",
			Help: "Peer datagrams transmitted.",
		}),
		PeerRX: factory.NewCounter(prometheus.CounterOpts{
			Name: "rayz_peer_rx_total",
			Help: "Peer datagrams received and accepted.",
		}),
		PeerDups: factory.NewCounter(prometheus.CounterOpts{
			Name: "rayz_peer_duplicates_total",
			Help: "Peer datagrams dropped as rolling-sequence duplicates.",
		}),
		WSClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rayz_ws_clients",
			Help: "Connected admin WebSocket clients.",
		}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "rayz_station_reconnects_total",
			Help: "Station link reconnect attempts.",
		}),
	}
}

// NewNopMetrics builds metrics bound to a throwaway registry, for tests.
func NewNopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
