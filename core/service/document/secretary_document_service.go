package document

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"secretary_server/core/agent/llm"
	"secretary_server/core/domain"
	"secretary_server/core/port/in"
	"secretary_server/core/port/out"
	"secretary_server/pkg/apperr"
)

// Notifier is told when a document finished processing.
type Notifier interface {
	SendDocumentProcessed(ctx context.Context, userID, documentID string, events int) error
}

// Service extracts legal metadata and derived artifacts from document text.
type Service struct {
	analyst   *llm.LegalAnalyst
	artifacts out.ArtifactRepository
	calendar  out.CalendarEventRepository
	graph     out.CaseGraph // optional
	notifier  Notifier      // optional
	log       zerolog.Logger
	now       func() time.Time
}

func NewService(
	analyst *llm.LegalAnalyst,
	artifacts out.ArtifactRepository,
	calendar out.CalendarEventRepository,
	graph out.CaseGraph,
	notifier Notifier,
	log zerolog.Logger,
) *Service {
	return &Service{
		analyst:   analyst,
		artifacts: artifacts,
		calendar:  calendar,
		graph:     graph,
		notifier:  notifier,
		log:       log.With().Str("component", "document").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

var _ in.DocumentPipeline = (*Service)(nil)

// ProcessDocument stores a legal_metadata artifact and upserts its calendar
// events. An unparseable model reply yields (nil, nil) with nothing written.
func (s *Service) ProcessDocument(ctx context.Context, documentID, text, userID string) (*domain.DocumentArtifact, error) {
	meta, err := s.analyst.ExtractMetadata(ctx, text)
	if err != nil {
		if apperr.HasCode(err, apperr.CodeExtractionParse) {
			s.log.Warn().Err(err).Str("document_id", documentID).Msg("legal metadata not parseable, skipping")
			return nil, nil
		}
		return nil, err
	}

	artifact := &domain.DocumentArtifact{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Kind:       domain.ArtifactLegalMetadata,
		UserID:     userID,
		Metadata:   meta,
		RawExcerpt: domain.Excerpt(text, domain.ExcerptLength),
		CreatedAt:  s.now(),
	}
	if err := s.artifacts.Insert(ctx, artifact); err != nil {
		return nil, err
	}

	events, skipped := ProjectEvents(meta, documentID, userID)
	for _, raw := range skipped {
		s.log.Warn().Str("document_id", documentID).Str("event_date", raw).Msg("unparseable event date skipped")
	}
	for _, ev := range events {
		ev.UpdatedAt = s.now()
		if err := s.calendar.Upsert(ctx, ev); err != nil {
			return nil, err
		}
	}

	if s.graph != nil {
		if err := s.graph.RecordDocument(ctx, documentID, userID, meta); err != nil {
			s.log.Error().Err(err).Str("document_id", documentID).Msg("case graph update failed")
		}
	}
	if s.notifier != nil {
		if err := s.notifier.SendDocumentProcessed(ctx, userID, documentID, len(events)); err != nil {
			s.log.Warn().Err(err).Str("document_id", documentID).Msg("document notification failed")
		}
	}

	s.log.Info().
		Str("document_id", documentID).
		Str("user_id", userID).
		Int("events", len(events)).
		Msg("legal metadata stored")
	return artifact, nil
}

func (s *Service) Summarize(ctx context.Context, documentID, text, userID string) (*domain.DocumentArtifact, error) {
	output, err := s.analyst.Summarize(ctx, text)
	if err != nil {
		return nil, err
	}
	return s.store(ctx, &domain.DocumentArtifact{
		DocumentID: documentID,
		Kind:       domain.ArtifactSummary,
		UserID:     userID,
		Output:     output,
	})
}

func (s *Service) AnswerQuestion(ctx context.Context, documentID, text, question, userID string) (*domain.DocumentArtifact, error) {
	output, err := s.analyst.AnswerQuestion(ctx, text, question)
	if err != nil {
		return nil, err
	}
	return s.store(ctx, &domain.DocumentArtifact{
		DocumentID: documentID,
		Kind:       domain.ArtifactQA,
		UserID:     userID,
		Question:   &question,
		Output:     output,
	})
}

func (s *Service) AnalyzeForParty(ctx context.Context, documentID, text, party, userID string) (*domain.DocumentArtifact, error) {
	output, err := s.analyst.ArgueForParty(ctx, text, party)
	if err != nil {
		return nil, err
	}
	return s.store(ctx, &domain.DocumentArtifact{
		DocumentID: documentID,
		Kind:       domain.ArtifactAnalysis,
		UserID:     userID,
		Party:      &party,
		Output:     output,
	})
}

// store always inserts a fresh artifact; derived outputs never replace each other.
func (s *Service) store(ctx context.Context, a *domain.DocumentArtifact) (*domain.DocumentArtifact, error) {
	a.ID = uuid.NewString()
	a.CreatedAt = s.now()
	if err := s.artifacts.Insert(ctx, a); err != nil {
		return nil, err
	}
	s.log.Debug().Str("document_id", a.DocumentID).Str("kind", string(a.Kind)).Msg("artifact stored")
	return a, nil
}

// DeriveRequest lists the derived artifacts wanted for one document.
type DeriveRequest struct {
	DocumentID string
	UserID     string
	Text       string
	Summarize  bool
	Questions  []string
	Parties    []string
}

// DeriveAll runs the requested operations concurrently. Results keep request
// order: summary, then questions, then parties.
func (s *Service) DeriveAll(ctx context.Context, req DeriveRequest) ([]*domain.DocumentArtifact, error) {
	type op func(context.Context) (*domain.DocumentArtifact, error)

	var ops []op
	if req.Summarize {
		ops = append(ops, func(ctx context.Context) (*domain.DocumentArtifact, error) {
			return s.Summarize(ctx, req.DocumentID, req.Text, req.UserID)
		})
	}
	for _, q := range req.Questions {
		ops = append(ops, func(ctx context.Context) (*domain.DocumentArtifact, error) {
			return s.AnswerQuestion(ctx, req.DocumentID, req.Text, q, req.UserID)
		})
	}
	for _, p := range req.Parties {
		ops = append(ops, func(ctx context.Context) (*domain.DocumentArtifact, error) {
			return s.AnalyzeForParty(ctx, req.DocumentID, req.Text, p, req.UserID)
		})
	}

	results := make([]*domain.DocumentArtifact, len(ops))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(4)
	for i, run := range ops {
		eg.Go(func() error {
			a, err := run(egCtx)
			if err != nil {
				return err
			}
			results[i] = a
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Artifacts lists everything stored for a document.
func (s *Service) Artifacts(ctx context.Context, documentID string) ([]*domain.DocumentArtifact, error) {
	return s.artifacts.ListByDocument(ctx, documentID)
}

// UserArtifacts is the per-user dashboard feed, newest first. An empty kind
// matches every kind.
func (s *Service) UserArtifacts(ctx context.Context, userID string, kind domain.ArtifactKind, limit int) ([]*domain.DocumentArtifact, error) {
	return s.artifacts.ListByUser(ctx, userID, kind, limit)
}

// Events lists a user's calendar events.
func (s *Service) Events(ctx context.Context, userID string) ([]*domain.CalendarEvent, error) {
	return s.calendar.ListByUser(ctx, userID)
}
