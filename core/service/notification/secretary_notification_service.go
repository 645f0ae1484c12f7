package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"secretary_server/core/domain"
	"secretary_server/core/port/out"
)

// Service handles notification operations.
type Service struct {
	notificationRepo out.NotificationRepository
	realtime         out.RealtimePort // optional live push
	log              zerolog.Logger
}

// NewService creates a new notification service. realtime may be nil.
func NewService(notificationRepo out.NotificationRepository, realtime out.RealtimePort, log zerolog.Logger) *Service {
	return &Service{
		notificationRepo: notificationRepo,
		realtime:         realtime,
		log:              log.With().Str("component", "notification").Logger(),
	}
}

// Send stores the notification and pushes it to open streams.
func (s *Service) Send(ctx context.Context, n *domain.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	if err := s.notificationRepo.Create(ctx, n); err != nil {
		return err
	}

	if s.realtime != nil {
		event := &domain.RealtimeEvent{
			Type:      domain.EventNotification,
			UserID:    n.UserID,
			Data:      n,
			Timestamp: n.CreatedAt,
		}
		// push 실패는 무시 (DB에는 이미 저장됨)
		if err := s.realtime.Push(ctx, n.UserID, event); err != nil {
			s.log.Debug().Err(err).Str("user_id", n.UserID).Msg("realtime push failed")
		}
	}
	return nil
}

// SendEmailClassified announces one swept message.
func (s *Service) SendEmailClassified(ctx context.Context, userID, emailID, subject string, category domain.Category) error {
	return s.Send(ctx, &domain.Notification{
		UserID:     userID,
		Type:       domain.NotificationTypeEmail,
		Title:      "New email classified",
		Message:    fmt.Sprintf("%q was classified as %s", subject, category),
		EntityType: "email",
		EntityID:   emailID,
	})
}

// SendDocumentProcessed announces extracted legal metadata.
func (s *Service) SendDocumentProcessed(ctx context.Context, userID, documentID string, events int) error {
	return s.Send(ctx, &domain.Notification{
		UserID:     userID,
		Type:       domain.NotificationTypeDocument,
		Title:      "Document processed",
		Message:    fmt.Sprintf("Legal metadata extracted, %d calendar event(s) scheduled", events),
		EntityType: "document",
		EntityID:   documentID,
	})
}

// SendReviewPending asks a person to look at an escalated draft.
func (s *Service) SendReviewPending(ctx context.Context, userID, emailID, subject string) error {
	return s.Send(ctx, &domain.Notification{
		UserID:     userID,
		Type:       domain.NotificationTypeSystem,
		Title:      "Reply needs review",
		Message:    fmt.Sprintf("The drafted reply to %q was held for review", subject),
		EntityType: "email",
		EntityID:   emailID,
	})
}

// List returns notifications for a user.
func (s *Service) List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*domain.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.notificationRepo.ListByUser(ctx, userID, unreadOnly, limit)
}

// MarkAsRead marks one notification as read.
func (s *Service) MarkAsRead(ctx context.Context, userID, id string) error {
	return s.notificationRepo.MarkAsRead(ctx, userID, id)
}

// =============================================================================
// Review fallback
// =============================================================================

// Reviewer is the HumanReviewer used when no interactive reviewer is wired.
// It records a pending-review notification and returns the draft unchanged.
type Reviewer struct {
	svc         *Service
	defaultUser string
}

func NewReviewer(svc *Service, defaultUser string) *Reviewer {
	return &Reviewer{svc: svc, defaultUser: defaultUser}
}

func (r *Reviewer) Review(ctx context.Context, email *domain.InboundEmail, draft string) (string, error) {
	userID := domain.UserIDFromContext(ctx)
	if userID == "" {
		userID = r.defaultUser
	}
	if userID == "" {
		// nobody to tell
		return draft, nil
	}
	if err := r.svc.SendReviewPending(ctx, userID, email.ID, email.Subject); err != nil {
		return "", err
	}
	return draft, nil
}

var _ out.HumanReviewer = (*Reviewer)(nil)
