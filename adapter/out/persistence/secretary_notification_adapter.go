package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"secretary_server/core/domain"
	"secretary_server/core/port/out"
)

// NotificationAdapter implements out.NotificationRepository using PostgreSQL.
type NotificationAdapter struct {
	db *sqlx.DB
}

// NewNotificationAdapter creates a new notification adapter.
func NewNotificationAdapter(db *sqlx.DB) *NotificationAdapter {
	return &NotificationAdapter{db: db}
}

var _ out.NotificationRepository = (*NotificationAdapter)(nil)

// notificationRow represents the database row.
type notificationRow struct {
	ID         string         `db:"id"`
	UserID     string         `db:"user_id"`
	Type       string         `db:"type"`
	Title      string         `db:"title"`
	Message    string         `db:"message"`
	EntityType sql.NullString `db:"entity_type"`
	EntityID   sql.NullString `db:"entity_id"`
	IsRead     bool           `db:"is_read"`
	CreatedAt  time.Time      `db:"created_at"`
}

func (r *notificationRow) toDomain() *domain.Notification {
	return &domain.Notification{
		ID:         r.ID,
		UserID:     r.UserID,
		Type:       domain.NotificationType(r.Type),
		Title:      r.Title,
		Message:    r.Message,
		EntityType: r.EntityType.String,
		EntityID:   r.EntityID.String,
		IsRead:     r.IsRead,
		CreatedAt:  r.CreatedAt,
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Create creates a new notification.
func (a *NotificationAdapter) Create(ctx context.Context, n *domain.Notification) error {
	query := `
		INSERT INTO notifications (id, user_id, type, title, message, entity_type, entity_id, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := a.db.ExecContext(ctx, query,
		n.ID, n.UserID, string(n.Type), n.Title, n.Message,
		nullString(n.EntityType), nullString(n.EntityID), n.IsRead, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// ListByUser returns the newest notifications first.
func (a *NotificationAdapter) ListByUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*domain.Notification, error) {
	query := `SELECT id, user_id, type, title, message, entity_type, entity_id, is_read, created_at
		FROM notifications WHERE user_id = $1`
	if unreadOnly {
		query += ` AND is_read = FALSE`
	}
	query += ` ORDER BY created_at DESC LIMIT $2`

	var rows []notificationRow
	if err := a.db.SelectContext(ctx, &rows, query, userID, limit); err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}

	result := make([]*domain.Notification, len(rows))
	for i := range rows {
		result[i] = rows[i].toDomain()
	}
	return result, nil
}

// MarkAsRead marks one of the user's notifications as read.
func (a *NotificationAdapter) MarkAsRead(ctx context.Context, userID, id string) error {
	res, err := a.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
