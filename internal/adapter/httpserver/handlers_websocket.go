package httpserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/stockrelay/internal/domain"
	apperrors "github.com/pscheid92/stockrelay/internal/platform/errors"
)

// maxClientFrameSize bounds inbound frames; clients only send mark_read.
const maxClientFrameSize = 4096

// handleWebSocket upgrades the handshake and registers the socket. The
// handler goroutine then owns the read side until the client goes away.
func (s *Server) handleWebSocket(c echo.Context) error {
	q := c.QueryParams()
	userID := strings.TrimSpace(q.Get("userId"))
	if userID == "" {
		return apperrors.ValidationError("userId is required")
	}
	connectionID := strings.TrimSpace(q.Get("connectionId"))
	if connectionID == "" {
		connectionID = uuid.NewString()
	}
	role := domain.Role(strings.TrimSpace(q.Get("role")))
	branch := strings.TrimSpace(q.Get("branchId"))
	displayName := strings.TrimSpace(q.Get("username"))

	if s.registry.ConnectionCount(userID) >= s.config.MaxConnectionsPerUser {
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many connections for user")
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		slog.WarnContext(c.Request().Context(), "WebSocket upgrade failed", "user_id", userID, "error", err)
		return nil
	}

	if err := s.registry.Connect(conn, userID, connectionID, role, branch, displayName); err != nil {
		closeCode := websocket.CloseInternalServerErr
		switch {
		case errors.Is(err, domain.ErrConnectionLimit):
			closeCode = websocket.ClosePolicyViolation
		case errors.Is(err, domain.ErrRegistryClosed):
			closeCode = websocket.CloseGoingAway
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, err.Error()))
		_ = conn.Close()
		slog.InfoContext(c.Request().Context(), "WebSocket connection refused", "user_id", userID, "error", err)
		return nil
	}

	slog.InfoContext(c.Request().Context(), "WebSocket connected",
		"user_id", userID,
		"connection_id", connectionID,
		"role", role,
		"branch_id", branch)

	s.readLoop(c, conn, userID, connectionID)
	return nil
}

func (s *Server) readLoop(c echo.Context, conn *websocket.Conn, userID, connectionID string) {
	ctx := c.Request().Context()
	conn.SetReadLimit(maxClientFrameSize)

	for {
		messageType, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				slog.DebugContext(ctx, "WebSocket read failed", "user_id", userID, "connection_id", connectionID, "error", err)
			}
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}
		s.registry.HandleClientFrame(ctx, userID, raw)
	}

	if s.registry.DisconnectSocket(userID, connectionID, conn) {
		slog.InfoContext(ctx, "WebSocket disconnected", "user_id", userID, "connection_id", connectionID)
	}
}
