package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2},
		},
		[]string{"method", "endpoint"},
	)

	RoomsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "live_rooms_created_total",
		Help: "Rooms created",
	})

	PlayersJoined = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "live_room_joins_total",
		Help: "New room memberships",
	})

	AnswersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "live_room_answers_total",
			Help: "Recorded answers by outcome",
		},
		[]string{"outcome"},
	)

	QuestionsEnded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "live_room_questions_ended_total",
			Help: "Questions closed, by trigger",
		},
		[]string{"trigger"},
	)

	WSConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "live_ws_connections",
		Help: "Open websocket connections",
	})
)

var registerOnce sync.Once

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RequestCounter,
			RequestDuration,
			RoomsCreated,
			PlayersJoined,
			AnswersSubmitted,
			QuestionsEnded,
			WSConnections,
		)
	})
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
