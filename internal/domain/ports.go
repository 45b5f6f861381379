package domain

import (
	"context"
	"time"
)

// Notifier delivers a notification to whoever should see it. The in-process
// broadcast registry and the Redis relay both implement it.
type Notifier interface {
	Dispatch(ctx context.Context, n *Notification) (DeliveryReport, error)
}

// NotificationArchive persists notifications outside the process. It is
// optional and always called best-effort.
type NotificationArchive interface {
	Archive(ctx context.Context, env Envelope) error
	MarkRead(ctx context.Context, notificationID, userID string, at time.Time) error
}
