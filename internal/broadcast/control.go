package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/pscheid92/stockrelay/internal/domain"
	"github.com/pscheid92/stockrelay/internal/metrics"
)

const frameMarkRead = "mark_read"

type clientFrame struct {
	Type           string `json:"type"`
	NotificationID string `json:"notificationId"`
}

// HandleClientFrame applies one client→server frame. Anything that is not a
// well-formed mark_read for a known notification visible to userID is
// dropped; the connection stays open either way.
func (r *Registry) HandleClientFrame(ctx context.Context, userID string, raw []byte) {
	var frame clientFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Type != frameMarkRead || frame.NotificationID == "" {
		metrics.ControlFramesTotal.WithLabelValues("malformed").Inc()
		slog.DebugContext(ctx, "Dropping malformed client frame", "user_id", userID, "size", len(raw))
		return
	}

	var n *domain.Notification
	if r.history != nil {
		n, _ = r.history.Get(frame.NotificationID)
	}
	if n == nil {
		metrics.ControlFramesTotal.WithLabelValues("unknown_notification").Inc()
		slog.DebugContext(ctx, "Mark read for unknown notification",
			"user_id", userID,
			"notification_id", frame.NotificationID)
		return
	}

	// A user without a live connection can still match as an explicit recipient.
	viewer, ok := r.Viewer(userID)
	if !ok {
		viewer = domain.Viewer{UserID: userID}
	}
	if !n.VisibleTo(viewer) {
		metrics.ControlFramesTotal.WithLabelValues("not_visible").Inc()
		slog.DebugContext(ctx, "Mark read for notification not addressed to user",
			"user_id", userID,
			"notification_id", frame.NotificationID)
		return
	}

	r.history.MarkRead(ctx, frame.NotificationID, userID)
	metrics.ControlFramesTotal.WithLabelValues("applied").Inc()
}
