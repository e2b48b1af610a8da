package metrics

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "HTTP requests by path, method and status"},
		[]string{"path", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request latency in seconds", Buckets: prometheus.DefBuckets},
		[]string{"path", "method"},
	)
	QueueOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "queue_operations_total", Help: "Queue operations by kind and outcome"},
		[]string{"operation", "status"},
	)
	QueueLength = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "queue_length", Help: "Last observed queue length per provider"},
		[]string{"provider_id"},
	)
	Appointments = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "appointment_operations_total", Help: "Appointment operations by kind and outcome"},
		[]string{"operation", "status"},
	)
	StaleEntriesRemoved = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "queue_stale_entries_removed_total", Help: "Queue entries removed by the retention sweep"},
	)
	LiveFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "live_fallbacks_total", Help: "Search results served without live status"},
	)
	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "notifications_total", Help: "Notification outcomes by kind"},
		[]string{"kind", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(HTTPRequests, HTTPLatency, QueueOperations, QueueLength,
		Appointments, StaleEntriesRemoved, LiveFallbacks, Notifications)
}

// Handler returns middleware recording request counts and latency.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		dur := time.Since(start).Seconds()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		HTTPLatency.WithLabelValues(path, c.Request.Method).Observe(dur)
		HTTPRequests.WithLabelValues(path, c.Request.Method, fmt.Sprintf("%d", c.Writer.Status())).Inc()
	}
}

// Exposer serves the Prometheus registry.
func Exposer() gin.HandlerFunc { return gin.WrapH(promhttp.Handler()) }
