package httpserver

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/stockrelay/internal/domain"
	apperrors "github.com/pscheid92/stockrelay/internal/platform/errors"
)

const (
	defaultNotificationPage = 50
	maxNotificationPage     = 500
)

func (s *Server) registerNotificationRoutes(g *echo.Group) {
	g.GET("/notifications", s.handleListNotifications)
	g.POST("/notifications", s.handleSendNotification)
	g.POST("/notifications/:id/read", s.handleMarkNotificationRead)
}

type sendNotificationBody struct {
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	Message    string         `json:"message"`
	Data       map[string]any `json:"data"`
	Priority   string         `json:"priority"`
	Recipients []string       `json:"recipients"`
	Roles      []domain.Role  `json:"roles"`
	BranchID   string         `json:"branch_id"`
}

type deliveryResponse struct {
	ID        string                 `json:"id"`
	Delivered int                    `json:"delivered"`
	Failed    []domain.ConnectionRef `json:"failed"`
	Relayed   int64                  `json:"relayed"`
}

func (s *Server) handleListNotifications(c echo.Context) error {
	limit := defaultNotificationPage
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxNotificationPage {
			return apperrors.ValidationError("limit must be between 1 and " + strconv.Itoa(maxNotificationPage))
		}
		limit = n
	}

	actor := actorFrom(c)
	viewer := actor.Viewer()
	unreadOnly := c.QueryParam("unread") == "true"

	items := make([]domain.WirePayload, 0, limit)
	for _, n := range s.history.ListFor(viewer, limit) {
		view := n.ViewFor(actor.UserID)
		if unreadOnly && view.Read {
			continue
		}
		items = append(items, view)
	}

	return writeJSON(c, http.StatusOK, map[string]any{
		"notifications": items,
		"unread":        s.history.UnreadCount(viewer),
	})
}

func (s *Server) handleMarkNotificationRead(c echo.Context) error {
	id := c.Param("id")
	actor := actorFrom(c)

	n, ok := s.history.Get(id)
	if !ok || !n.VisibleTo(actor.Viewer()) {
		return apperrors.NotFoundError("notification not found").WithContext("notification_id", id)
	}
	if !s.history.MarkRead(c.Request().Context(), id, actor.UserID) {
		return apperrors.NotFoundError("notification not found").WithContext("notification_id", id)
	}
	return c.NoContent(http.StatusNoContent)
}

// handleSendNotification dispatches an operator-authored notification, such
// as a low stock alert raised by the inventory service.
func (s *Server) handleSendNotification(c echo.Context) error {
	var body sendNotificationBody
	if err := bindJSON(c, &body); err != nil {
		return err
	}

	typ, err := domain.ParseNotificationType(body.Type)
	if err != nil {
		return apperrors.ValidationError("unknown notification type").WithContext("type", body.Type)
	}
	if typ != domain.NotificationLowStockAlert && typ != domain.NotificationInventoryUpdate {
		return apperrors.ValidationError("only low_stock_alert and inventory_update may be sent directly").
			WithContext("type", body.Type)
	}
	if body.Title == "" || body.Message == "" {
		return apperrors.ValidationError("title and message are required")
	}

	n, err := domain.NewNotification(uuid.NewString(), domain.NotificationSpec{
		Type:       typ,
		Title:      body.Title,
		Message:    body.Message,
		Data:       body.Data,
		Priority:   domain.Priority(body.Priority),
		Recipients: body.Recipients,
		Roles:      body.Roles,
		Branch:     body.BranchID,
	}, s.clock.Now())
	switch {
	case errors.Is(err, domain.ErrNoAudience):
		return apperrors.ValidationError("recipients or roles are required")
	case errors.Is(err, domain.ErrUnknownPriority):
		return apperrors.ValidationError("unknown priority").WithContext("priority", body.Priority)
	case err != nil:
		return apperrors.ValidationError(err.Error())
	}

	report, err := s.notifier.Dispatch(c.Request().Context(), n)
	if errors.Is(err, domain.ErrRegistryClosed) {
		return apperrors.UnavailableError("server is shutting down", err)
	}
	if err != nil {
		return apperrors.InternalError("failed to dispatch notification", err)
	}

	c.Set(ctxKeyResourceID, n.ID())
	failed := report.Failed
	if failed == nil {
		failed = []domain.ConnectionRef{}
	}
	return writeJSON(c, http.StatusAccepted, deliveryResponse{
		ID:        n.ID(),
		Delivered: report.Delivered,
		Failed:    failed,
		Relayed:   report.Relayed,
	})
}
