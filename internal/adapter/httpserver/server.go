package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/stockrelay/internal/broadcast"
	"github.com/pscheid92/stockrelay/internal/domain"
	"github.com/pscheid92/stockrelay/internal/platform/config"
	"github.com/pscheid92/stockrelay/internal/workflow"
	"golang.org/x/sync/singleflight"
)

type connectionRegistry interface {
	Connect(socket broadcast.Socket, userID, connectionID string, role domain.Role, branch, displayName string) error
	DisconnectSocket(userID, connectionID string, socket broadcast.Socket) bool
	HandleClientFrame(ctx context.Context, userID string, raw []byte)
	ConnectionCount(userID string) int
	Stats() broadcast.Stats
}

type stockRequests interface {
	Create(ctx context.Context, in workflow.CreateInput) (string, error)
	Approve(ctx context.Context, id string, approver domain.Actor, approved map[string]int) bool
	Ship(ctx context.Context, id string, shipper domain.Actor, trackingNumber string) bool
	Receive(ctx context.Context, id string, receiver domain.Actor, received map[string]int) bool
	Reject(ctx context.Context, id string, rejector domain.Actor, reason string) bool
	Cancel(ctx context.Context, id string, canceller domain.Actor, reason string) error
	Get(id string) (*domain.StockRequest, bool)
	List(f workflow.Filter) []*domain.StockRequest
}

type notificationHistory interface {
	Get(id string) (*domain.Notification, bool)
	ListFor(v domain.Viewer, limit int) []*domain.Notification
	UnreadCount(v domain.Viewer) int
	MarkRead(ctx context.Context, id, userID string) bool
}

// Dependencies are the collaborators the HTTP surface delegates to.
type Dependencies struct {
	Registry connectionRegistry
	Workflow stockRequests
	History  notificationHistory
	// Notifier dispatches manually sent notifications. In a multi-instance
	// deployment this is the Redis relay, otherwise the registry itself.
	Notifier     domain.Notifier
	HealthChecks []HealthCheck
	Clock        clockwork.Clock
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	registry connectionRegistry
	workflow stockRequests
	history  notificationHistory
	notifier domain.Notifier

	upgrader     websocket.Upgrader
	healthChecks []HealthCheck
	checkRuns    singleflight.Group
	clock        clockwork.Clock
	startTime    time.Time
}

func NewServer(cfg *config.Config, deps Dependencies) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	srv := &Server{
		echo:     e,
		config:   cfg,
		registry: deps.Registry,
		workflow: deps.Workflow,
		history:  deps.History,
		notifier: deps.Notifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     newOriginPolicy(cfg.AppURL, cfg.AppEnv != "production").allows,
		},
		healthChecks: deps.HealthChecks,
		clock:        clock,
		startTime:    clock.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// ServeHTTP lets tests drive the full middleware chain.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
