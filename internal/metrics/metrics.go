// Package metrics exposes Prometheus metrics for the HTTP API, the realtime
// hub and background jobs.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "psicoconnect"

// Realtime directions
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

type Collector struct {
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	liveConnections  prometheus.Gauge
	realtimeEvents   *prometheus.CounterVec
	realtimeDropped  *prometheus.CounterVec
	handshakeFailure prometheus.Counter
	notificationsDel prometheus.Counter
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		liveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_connections",
			Help:      "Live realtime connections on this instance.",
		}),
		realtimeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_events_total",
			Help:      "Realtime events by name and direction.",
		}, []string{"event", "direction"}),
		realtimeDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_events_dropped_total",
			Help:      "Realtime events dropped, by reason.",
		}, []string{"reason"}),
		handshakeFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_handshake_failures_total",
			Help:      "Realtime connection attempts refused at the handshake.",
		}),
		notificationsDel: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_pruned_total",
			Help:      "Read notifications removed by the retention job.",
		}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpDuration,
		c.liveConnections,
		c.realtimeEvents,
		c.realtimeDropped,
		c.handshakeFailure,
		c.notificationsDel,
	)
	return c
}

func (c *Collector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (c *Collector) ConnectionOpened() {
	c.liveConnections.Inc()
}

func (c *Collector) ConnectionClosed() {
	c.liveConnections.Dec()
}

func (c *Collector) RecordEvent(event, direction string) {
	c.realtimeEvents.WithLabelValues(event, direction).Inc()
}

func (c *Collector) RecordDropped(reason string) {
	c.realtimeDropped.WithLabelValues(reason).Inc()
}

func (c *Collector) RecordHandshakeFailure() {
	c.handshakeFailure.Inc()
}

func (c *Collector) RecordNotificationsPruned(n int64) {
	c.notificationsDel.Add(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
