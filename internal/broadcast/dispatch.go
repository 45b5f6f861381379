package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pscheid92/stockrelay/internal/domain"
	"github.com/pscheid92/stockrelay/internal/metrics"
)

var _ domain.Notifier = (*Registry)(nil)

// Dispatch stores n in the history, then delivers its wire payload to the
// explicit recipients followed by every user holding one of its roles within
// its branch scope. A user matched by several routes gets one copy. A
// notification whose ID the history already holds is not delivered again.
func (r *Registry) Dispatch(ctx context.Context, n *domain.Notification) (domain.DeliveryReport, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return domain.DeliveryReport{}, domain.ErrRegistryClosed
	}

	if r.history != nil && !r.history.Add(ctx, n) {
		slog.DebugContext(ctx, "Skipping already dispatched notification", "notification_id", n.ID())
		return domain.DeliveryReport{}, nil
	}

	msg, err := json.Marshal(n.Payload())
	if err != nil {
		return domain.DeliveryReport{}, fmt.Errorf("encode notification %s: %w", n.ID(), err)
	}

	var report domain.DeliveryReport
	seen := make(map[string]struct{})
	send := func(userID string) {
		if _, ok := seen[userID]; ok {
			return
		}
		seen[userID] = struct{}{}
		report.Merge(r.SendToUser(userID, msg))
	}

	for _, userID := range n.Recipients() {
		send(userID)
	}
	for _, role := range n.Roles() {
		for _, userID := range r.usersMatching(role, n.Branch()) {
			send(userID)
		}
	}

	metrics.NotificationsDispatched.WithLabelValues(string(n.Type())).Inc()
	metrics.NotificationDeliveries.WithLabelValues("delivered").Add(float64(report.Delivered))
	metrics.NotificationDeliveries.WithLabelValues("failed").Add(float64(len(report.Failed)))

	slog.DebugContext(ctx, "Notification dispatched",
		"notification_id", n.ID(),
		"type", n.Type(),
		"delivered", report.Delivered,
		"failed", len(report.Failed))

	return report, nil
}
