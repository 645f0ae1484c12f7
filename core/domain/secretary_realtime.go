package domain

import (
	"context"
	"time"
)

// EventType names a realtime event pushed to connected clients.
type EventType string

const (
	EventNotification    EventType = "notification"
	EventDocumentUpdated EventType = "document_updated"
)

// RealtimeEvent is one server-sent event.
type RealtimeEvent struct {
	Type      EventType `json:"type"`
	UserID    string    `json:"user_id"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
	Seq       int64     `json:"seq,omitempty"`
}

type userIDKey struct{}

// ContextWithUserID attaches the acting user to ctx.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext returns the acting user, or "".
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}
