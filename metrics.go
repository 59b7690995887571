package main

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bcistream/pkg/session"
)

// promMetrics holds the Prometheus collectors for one server on a
// dedicated registry, so independent server values (tests included)
// never read each other's state. The JSON snapshot at /metrics stays
// the primary metrics API; the registry exists for fleet dashboards
// that only speak the exposition format.
type promMetrics struct {
	registry          *prometheus.Registry
	packetsSent       prometheus.Counter
	droppedPackets    prometheus.Counter
	connectionsActive prometheus.Gauge
}

func newPromMetrics(manager *session.Manager) *promMetrics {
	m := &promMetrics{
		registry: prometheus.NewRegistry(),
		packetsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bci_packets_sent_total",
			Help: "Stream packets written to websocket clients.",
		}),
		droppedPackets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bci_dropped_packets_total",
			Help: "Stream packets lost on the send path.",
		}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bci_connections_active",
			Help: "Live websocket streaming connections.",
		}),
	}
	m.registry.MustRegister(m.packetsSent, m.droppedPackets, m.connectionsActive,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "bci_sessions_active",
			Help: "Live playback sessions.",
		}, func() float64 {
			return float64(manager.SessionCount())
		}))
	return m
}

// handleMetrics serves the JSON metrics snapshot: per-session counters
// and ring summaries plus process identity.
func (s *server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}
	writeJSON(w, map[string]interface{}{
		"timestamp": float64(time.Now().UnixNano()) / 1e9,
		"service":   serviceName,
		"version":   serviceVersion,
		"metrics":   s.manager.Metrics(),
	})
}
