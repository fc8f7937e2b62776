// ABOUTME: Prometheus collectors for session and dispatch activity
// ABOUTME: Exposed on /metrics when enabled in config

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	SessionsLive  prometheus.Gauge
	SessionEvents *prometheus.CounterVec
	MessagesSent  *prometheus.CounterVec
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		SessionsLive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wagate_sessions_live",
			Help: "Number of live client sessions.",
		}),
		SessionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wagate_session_events_total",
			Help: "Lifecycle events observed from clients, by event type.",
		}, []string{"event"}),
		MessagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wagate_messages_sent_total",
			Help: "Outbound send attempts, by outcome.",
		}, []string{"outcome"}),
	}
}

// Handler returns the scrape handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
