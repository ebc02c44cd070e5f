package obs

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"campusmarket/internal/domain/shared/errs"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusmarket_http_requests_total",
			Help: "Total number of HTTP requests processed.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "campusmarket_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	busDispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusmarket_bus_dispatch_total",
			Help: "Commands and queries dispatched, by outcome kind.",
		},
		[]string{"kind", "key", "outcome"},
	)
	busDispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "campusmarket_bus_dispatch_duration_seconds",
			Help:    "Command and query handling latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind", "key"},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "campusmarket_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusmarket_ws_events_total",
			Help: "Total number of websocket frames by kind and event.",
		},
		[]string{"kind", "event"},
	)
	outboxPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusmarket_outbox_published_total",
			Help: "Outbox records handed to the broker, by result.",
		},
		[]string{"result"},
	)
	eventsConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusmarket_events_consumed_total",
			Help: "Broker events consumed, by type and result.",
		},
		[]string{"type", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		busDispatchTotal,
		busDispatchDuration,
		wsActiveConnections,
		wsEventsTotal,
		outboxPublishedTotal,
		eventsConsumedTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// BusMetrics records command and query outcomes.
type BusMetrics struct{}

func (BusMetrics) Observe(kind, key string, outcome errs.Kind, elapsed time.Duration) {
	label := string(outcome)
	if label == "" {
		label = "OK"
	}
	busDispatchTotal.WithLabelValues(kind, key, label).Inc()
	busDispatchDuration.WithLabelValues(kind, key).Observe(elapsed.Seconds())
}

func IncWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Inc()
}

func DecWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Dec()
}

func IncWSEvent(kind, event string) {
	wsEventsTotal.WithLabelValues(kind, event).Inc()
}

func IncOutboxPublished(ok bool) {
	result := "sent"
	if !ok {
		result = "failed"
	}
	outboxPublishedTotal.WithLabelValues(result).Inc()
}

func IncEventConsumed(eventType, result string) {
	eventsConsumedTotal.WithLabelValues(eventType, result).Inc()
}
