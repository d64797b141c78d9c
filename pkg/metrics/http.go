package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Latency of optimizer HTTP handlers by route template
	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "optimizer_http_request_duration_seconds",
		Help:    "Latency of optimizer HTTP handlers",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	// Real-time triggers rejected inside the cool-down window
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "optimizer_rate_limited_total",
		Help: "Real-time optimize requests rejected by the cool-down",
	})

	IngestThrottledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "optimizer_ingest_throttled_total",
		Help: "Observation pushes rejected by the ingestion throttle",
	})
)

func Init() {
	prometheus.MustRegister(
		RequestDuration,
		RateLimitedTotal,
		IngestThrottledTotal,
	)
}

// Middleware records RequestDuration for every route.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			RequestDuration.
				WithLabelValues(c.Request().Method, c.Path(), strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}
