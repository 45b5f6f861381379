package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/stockrelay/internal/domain"
)

const (
	insertNotificationSQL = `-- name: InsertNotification
INSERT INTO notifications (id, type, title, message, data, priority, recipients, roles, branch_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO NOTHING`

	insertReadSQL = `-- name: InsertNotificationRead
INSERT INTO notification_reads (notification_id, user_id, read_at)
VALUES ($1, $2, $3)
ON CONFLICT (notification_id, user_id) DO NOTHING`

	getNotificationSQL = `-- name: GetNotification
SELECT id, type, title, message, data, priority, recipients, roles, COALESCE(branch_id, ''), created_at
FROM notifications
WHERE id = $1`

	readersSQL = `-- name: ListNotificationReaders
SELECT user_id FROM notification_reads
WHERE notification_id = $1
ORDER BY user_id`
)

// NotificationArchive persists dispatched notifications and read marks.
type NotificationArchive struct {
	pool *pgxpool.Pool
}

var _ domain.NotificationArchive = (*NotificationArchive)(nil)

func NewNotificationArchive(pool *pgxpool.Pool) *NotificationArchive {
	return &NotificationArchive{pool: pool}
}

// Archive inserts the envelope. Re-archiving the same ID is a no-op.
func (a *NotificationArchive) Archive(ctx context.Context, env domain.Envelope) error {
	data := env.Data
	if data == nil {
		data = map[string]any{}
	}

	roles := make([]string, len(env.Roles))
	for i, r := range env.Roles {
		roles[i] = string(r)
	}
	recipients := env.Recipients
	if recipients == nil {
		recipients = []string{}
	}

	var branch *string
	if env.Branch != "" {
		branch = &env.Branch
	}

	_, err := a.pool.Exec(ctx, insertNotificationSQL,
		env.ID, string(env.Type), env.Title, env.Message, data, string(env.Priority),
		recipients, roles, branch, env.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to archive notification %s: %w", env.ID, err)
	}
	return nil
}

func (a *NotificationArchive) MarkRead(ctx context.Context, notificationID, userID string, at time.Time) error {
	if _, err := a.pool.Exec(ctx, insertReadSQL, notificationID, userID, at.UTC()); err != nil {
		return fmt.Errorf("failed to archive read mark for %s: %w", notificationID, err)
	}
	return nil
}

// Get loads an archived notification. Returns domain.ErrNotificationMissing
// when no row exists.
func (a *NotificationArchive) Get(ctx context.Context, id string) (domain.Envelope, error) {
	var (
		env                   domain.Envelope
		typ, priority, branch string
		roles                 []string
	)
	err := a.pool.QueryRow(ctx, getNotificationSQL, id).Scan(
		&env.ID, &typ, &env.Title, &env.Message, &env.Data, &priority,
		&env.Recipients, &roles, &branch, &env.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Envelope{}, fmt.Errorf("%w: %s", domain.ErrNotificationMissing, id)
	}
	if err != nil {
		return domain.Envelope{}, fmt.Errorf("failed to load notification %s: %w", id, err)
	}

	env.Type = domain.NotificationType(typ)
	env.Priority = domain.Priority(priority)
	env.Branch = branch
	env.CreatedAt = env.CreatedAt.UTC()
	env.Roles = make([]domain.Role, len(roles))
	for i, r := range roles {
		env.Roles[i] = domain.Role(r)
	}
	return env, nil
}

// Readers lists the users who marked the notification read, sorted.
func (a *NotificationArchive) Readers(ctx context.Context, id string) ([]string, error) {
	rows, err := a.pool.Query(ctx, readersSQL, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list readers for %s: %w", id, err)
	}
	readers, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan readers for %s: %w", id, err)
	}
	return readers, nil
}
