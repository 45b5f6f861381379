package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/stockrelay/internal/platform/version"
)

const (
	startupCheckTimeout   = 2 * time.Second
	readinessCheckTimeout = 5 * time.Second
)

// HealthCheck is a named health check function.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/startup", s.handleStartup)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
}

func (s *Server) handleStartup(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), startupCheckTimeout)
	defer cancel()

	return s.runHealthChecks(c, ctx, "startup")
}

// handleLiveness does not consult Redis or Postgres.
func (s *Server) handleLiveness(c echo.Context) error {
	return writeJSON(c, http.StatusOK, map[string]any{
		"status":      "ok",
		"uptime":      s.clock.Since(s.startTime).Seconds(),
		"connections": s.registry.Stats(),
	})
}

func (s *Server) handleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessCheckTimeout)
	defer cancel()

	return s.runHealthChecks(c, ctx, "ready")
}

type checkFailure struct {
	check string
	err   error
}

// runHealthChecks shares one round of backend checks between concurrent
// requests for the same endpoint.
func (s *Server) runHealthChecks(c echo.Context, ctx context.Context, kind string) error {
	v, _, _ := s.checkRuns.Do(kind, func() (any, error) {
		for _, hc := range s.healthChecks {
			if err := hc.Check(ctx); err != nil {
				return &checkFailure{check: hc.Name, err: err}, nil
			}
		}
		return (*checkFailure)(nil), nil
	})

	if failure := v.(*checkFailure); failure != nil {
		return writeJSON(c, http.StatusServiceUnavailable, map[string]any{
			"status":       "unhealthy",
			"failed_check": failure.check,
			"error":        failure.err.Error(),
		})
	}

	return writeJSON(c, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleVersion(c echo.Context) error {
	return writeJSON(c, http.StatusOK, version.Get())
}
