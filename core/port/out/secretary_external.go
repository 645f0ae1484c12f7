package out

import (
	"context"

	"secretary_server/core/domain"
)

// OCRService turns a PDF into a plain-text sidecar file.
type OCRService interface {
	ExtractText(ctx context.Context, pdfPath string) (string, error)
}

// MailboxReader reads unseen mail for a sweep.
type MailboxReader interface {
	ListUnseen(ctx context.Context, profile domain.MailboxProfile) ([]*domain.InboundEmail, error)
	MarkSeen(ctx context.Context, profile domain.MailboxProfile, messageID string) error
}

// HumanReviewer is the person or queue that finalizes an escalated reply.
// The returned text replaces the draft.
type HumanReviewer interface {
	Review(ctx context.Context, email *domain.InboundEmail, draft string) (string, error)
}

// RealtimePort pushes events to a user's open streams. Delivery is best effort.
type RealtimePort interface {
	Push(ctx context.Context, userID string, event *domain.RealtimeEvent) error
}
