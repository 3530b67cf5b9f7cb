// Package system provides host-level services: metrics and health reporting.
package system

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the plugin host.
type Metrics struct {
	pluginsLoaded   prometheus.Gauge
	searchDuration  *prometheus.HistogramVec
	searchTotal     *prometheus.CounterVec
	playbackEvents  *prometheus.CounterVec
	playbackFailed  prometheus.Counter
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	wsConnections   prometheus.Gauge
}

// NewMetrics creates and registers the collectors on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		pluginsLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pluginhost_plugins_loaded",
			Help: "Number of plugins currently loaded in the registry.",
		}),
		searchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pluginhost_provider_search_duration_seconds",
			Help:    "Duration of individual provider search calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"plugin"}),
		searchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pluginhost_provider_search_total",
			Help: "Provider search calls by outcome.",
		}, []string{"plugin", "status"}),
		playbackEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pluginhost_playback_events_total",
			Help: "Playback events broadcast to providers, by event type.",
		}, []string{"event"}),
		playbackFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "pluginhost_playback_callback_failures_total",
			Help: "Provider playback callbacks that failed.",
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pluginhost_http_requests_total",
			Help: "HTTP requests by route and status class.",
		}, []string{"route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pluginhost_http_request_duration_seconds",
			Help:    "HTTP request duration by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		wsConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pluginhost_websocket_connections",
			Help: "Currently connected playback WebSocket clients.",
		}),
	}
}

// SetPluginsLoaded records the current registry size.
func (m *Metrics) SetPluginsLoaded(n int) {
	m.pluginsLoaded.Set(float64(n))
}

// ObserveProviderSearch records one provider search call.
func (m *Metrics) ObserveProviderSearch(pluginID string, elapsed time.Duration, ok bool) {
	m.searchDuration.WithLabelValues(pluginID).Observe(elapsed.Seconds())
	status := "ok"
	if !ok {
		status = "error"
	}
	m.searchTotal.WithLabelValues(pluginID, status).Inc()
}

// CountPlaybackEvent records one broadcast fan-out.
func (m *Metrics) CountPlaybackEvent(event string, failures int) {
	m.playbackEvents.WithLabelValues(event).Inc()
	if failures > 0 {
		m.playbackFailed.Add(float64(failures))
	}
}

// ObserveHTTPRequest records one served HTTP request.
func (m *Metrics) ObserveHTTPRequest(route, status string, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(route, status).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// WSConnected tracks a WebSocket client connect.
func (m *Metrics) WSConnected() { m.wsConnections.Inc() }

// WSDisconnected tracks a WebSocket client disconnect.
func (m *Metrics) WSDisconnected() { m.wsConnections.Dec() }
