package out

import (
	"context"

	"secretary_server/core/domain"
)

// TenantStore 테넌트/물건/티켓 저장소.
// Lookups return (nil, nil) when nothing matches.
type TenantStore interface {
	LookupTenantByEmail(ctx context.Context, address string) (*domain.Tenant, error)
	LookupTenantsByEmails(ctx context.Context, addresses []string) (map[string]*domain.Tenant, error)
	LookupProperty(ctx context.Context, id int64) (*domain.Property, error)
	// CreateTicket returns the ticket id. Requests sharing a DedupKey resolve to the same ticket.
	CreateTicket(ctx context.Context, req domain.TicketRequest) (string, error)
}

// HistoryRepository is the append-only processing log.
type HistoryRepository interface {
	Append(ctx context.Context, entry *domain.HistoryEntry) error
	ListByEmail(ctx context.Context, emailID string) ([]*domain.HistoryEntry, error)
}

// ArtifactRepository stores immutable document artifacts.
type ArtifactRepository interface {
	Insert(ctx context.Context, artifact *domain.DocumentArtifact) error
	ListByDocument(ctx context.Context, documentID string) ([]*domain.DocumentArtifact, error)
	ListByUser(ctx context.Context, userID string, kind domain.ArtifactKind, limit int) ([]*domain.DocumentArtifact, error)
}

// CalendarEventRepository upserts events by their deterministic id.
type CalendarEventRepository interface {
	Upsert(ctx context.Context, event *domain.CalendarEvent) error
	ListByUser(ctx context.Context, userID string) ([]*domain.CalendarEvent, error)
}

// NotificationRepository 알림 저장소.
type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	ListByUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*domain.Notification, error)
	MarkAsRead(ctx context.Context, userID, id string) error
}

// CaseGraph links cases, courts, parties and documents.
type CaseGraph interface {
	RecordDocument(ctx context.Context, documentID, userID string, meta *domain.LegalMetadata) error
}
