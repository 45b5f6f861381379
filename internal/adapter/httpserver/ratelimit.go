package httpserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pscheid92/stockrelay/internal/metrics"
	"golang.org/x/time/rate"
)

const rateLimiterExpiry = 5 * time.Minute

// newRateLimiter throttles WebSocket handshakes per client IP and user, so a
// reconnect storm from one user does not lock out colleagues whose branch
// shares the same public address.
func newRateLimiter(ratePerSecond float64, burst int) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(ratePerSecond),
			Burst:     burst,
			ExpiresIn: rateLimiterExpiry,
		},
	)
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		IdentifierExtractor: handshakeIdentifier,
		Store: store,
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			metrics.ConnectionsTotal.WithLabelValues("throttled").Inc()
			return c.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "too many connection attempts",
			})
		},
	})
}

func handshakeIdentifier(c echo.Context) (string, error) {
	return c.RealIP() + "|" + strings.TrimSpace(c.QueryParam("userId")), nil
}
