package inbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"secretary_server/core/agent/llm"
	"secretary_server/core/domain"
	"secretary_server/core/port/in"
	"secretary_server/core/port/out"
)

const defaultLockTTL = 10 * time.Minute

// Notifier announces classified messages.
type Notifier interface {
	SendEmailClassified(ctx context.Context, userID, emailID, subject string, category domain.Category) error
}

// Service sweeps a mailbox: every unseen message is marked seen, classified,
// stored as a classification artifact and announced.
type Service struct {
	reader    out.MailboxReader
	lock      out.MailboxLock
	extractor *llm.Extractor
	tenants   out.TenantStore // optional, supplies classifier hints
	artifacts out.ArtifactRepository
	notifier  Notifier
	lockTTL   time.Duration
	log       zerolog.Logger
}

type Config struct {
	Reader    out.MailboxReader
	Lock      out.MailboxLock
	Extractor *llm.Extractor
	Tenants   out.TenantStore
	Artifacts out.ArtifactRepository
	Notifier  Notifier
	LockTTL   time.Duration
	Logger    zerolog.Logger
}

func NewService(cfg Config) *Service {
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &Service{
		reader:    cfg.Reader,
		lock:      cfg.Lock,
		extractor: cfg.Extractor,
		tenants:   cfg.Tenants,
		artifacts: cfg.Artifacts,
		notifier:  cfg.Notifier,
		lockTTL:   ttl,
		log:       cfg.Logger.With().Str("component", "inbox_sweep").Logger(),
	}
}

var _ in.InboxSweeper = (*Service)(nil)

// SweepInbox returns the number of messages classified. A sweep already in
// progress for the same mailbox makes this call a no-op.
func (s *Service) SweepInbox(ctx context.Context, profile domain.MailboxProfile) (int, error) {
	token, err := s.lock.Acquire(ctx, profile.Name, s.lockTTL)
	if err != nil {
		return 0, err
	}
	if token == "" {
		s.log.Info().Str("mailbox", profile.Name).Msg("sweep already running, skipping")
		return 0, nil
	}
	defer func() {
		// 원래 ctx가 취소되어도 락은 해제
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.lock.Release(releaseCtx, profile.Name, token); err != nil {
			s.log.Warn().Err(err).Str("mailbox", profile.Name).Msg("lock release failed")
		}
	}()

	messages, err := s.reader.ListUnseen(ctx, profile)
	if err != nil {
		return 0, err
	}
	if len(messages) == 0 {
		return 0, nil
	}

	tenants := s.lookupSenders(ctx, messages)

	processed := 0
	for _, msg := range messages {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		// seen 먼저 표시: 분류 실패해도 다음 sweep에서 재처리하지 않음
		if err := s.reader.MarkSeen(ctx, profile, msg.ID); err != nil {
			s.log.Warn().Err(err).Str("message_id", msg.ID).Msg("mark seen failed, skipping message")
			continue
		}

		if err := s.classifyOne(ctx, profile, msg, tenants); err != nil {
			s.log.Error().Err(err).Str("message_id", msg.ID).Msg("classification failed")
			continue
		}
		processed++
	}

	s.log.Info().
		Str("mailbox", profile.Name).
		Int("unseen", len(messages)).
		Int("processed", processed).
		Msg("inbox sweep completed")
	return processed, nil
}

func (s *Service) classifyOne(ctx context.Context, profile domain.MailboxProfile, msg *domain.InboundEmail, tenants map[string]*domain.Tenant) error {
	tenant := tenants[domain.SenderAddress(msg.From)]
	c, err := s.extractor.Classify(ctx, msg.Subject, msg.Body, llm.HintsFor(tenant, nil))
	if err != nil {
		return err
	}

	artifact := &domain.DocumentArtifact{
		ID:         uuid.NewString(),
		DocumentID: msg.ID,
		Kind:       domain.ArtifactClassification,
		UserID:     profile.UserID,
		Category:   c.Category,
		RawExcerpt: domain.Excerpt(msg.Body, domain.ExcerptLength),
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.artifacts.Insert(ctx, artifact); err != nil {
		return err
	}

	if s.notifier != nil {
		if err := s.notifier.SendEmailClassified(ctx, profile.UserID, msg.ID, msg.Subject, c.Category); err != nil {
			return err
		}
	}
	return nil
}

// lookupSenders resolves all senders in one query. Failures only lose hints.
func (s *Service) lookupSenders(ctx context.Context, messages []*domain.InboundEmail) map[string]*domain.Tenant {
	if s.tenants == nil {
		return nil
	}
	seen := make(map[string]bool, len(messages))
	addresses := make([]string, 0, len(messages))
	for _, m := range messages {
		key := domain.SenderAddress(m.From)
		if key != "" && !seen[key] {
			seen[key] = true
			addresses = append(addresses, key)
		}
	}

	tenants, err := s.tenants.LookupTenantsByEmails(ctx, addresses)
	if err != nil {
		s.log.Warn().Err(err).Int("senders", len(addresses)).Msg("sender lookup failed")
		return nil
	}
	return tenants
}
