package metrics

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// REST API Metrics
var (
	// APIRequestDuration tracks back-office API latency by route template
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Back-office API request duration by method, route and status",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "route", "status_code"},
	)

	// APIRequestsTotal tracks back-office API requests
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Back-office API requests by method, route and status",
		},
		[]string{"method", "route", "status_code"},
	)

	// APIRequestsInFlight tracks API requests currently being served
	APIRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_requests_in_flight",
			Help: "Back-office API requests currently being served",
		},
	)
)

// APIMiddleware records the API metrics for routes under /api/. The route
// label is the registered template, so request IDs do not add series. The
// socket upgrade, health and scrape endpoints are not recorded.
func APIMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Path()
			if !strings.HasPrefix(route, "/api/") {
				return next(c)
			}

			APIRequestsInFlight.Inc()
			defer APIRequestsInFlight.Dec()

			timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
				status := strconv.Itoa(c.Response().Status)
				APIRequestDuration.WithLabelValues(c.Request().Method, route, status).Observe(v)
				APIRequestsTotal.WithLabelValues(c.Request().Method, route, status).Inc()
			}))

			err := next(c)
			timer.ObserveDuration()
			return err
		}
	}
}
