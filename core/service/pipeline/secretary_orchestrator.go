package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"secretary_server/core/agent/llm"
	"secretary_server/core/domain"
	"secretary_server/core/port/in"
	"secretary_server/core/port/out"
	"secretary_server/core/service/action"
)

// Orchestrator runs one email through extraction, action resolution and
// response generation.
//
//	start -> extracted -> spam_exit ----------------------------> done
//	                   -> actions_resolved -> responded -------> done
type Orchestrator struct {
	tenants   out.TenantStore
	extractor *llm.Extractor
	resolver  *action.Resolver
	responder *llm.Responder
	history   out.HistoryRepository
	log       zerolog.Logger
}

func NewOrchestrator(
	tenants out.TenantStore,
	extractor *llm.Extractor,
	resolver *action.Resolver,
	responder *llm.Responder,
	history out.HistoryRepository,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		tenants:   tenants,
		extractor: extractor,
		resolver:  resolver,
		responder: responder,
		history:   history,
		log:       log.With().Str("component", "pipeline").Logger(),
	}
}

var _ in.EmailPipeline = (*Orchestrator)(nil)

// ProcessEmail drives the state machine to done. Known tenant and property
// skip the sender lookup. LLM_SERVICE_ERROR is returned unchanged.
func (o *Orchestrator) ProcessEmail(
	ctx context.Context,
	email *domain.InboundEmail,
	knownTenant *domain.Tenant,
	knownProperty *domain.Property,
) (*domain.ProcessingRecord, error) {
	rec := &domain.ProcessingRecord{
		Email:    email,
		Tenant:   knownTenant,
		Property: knownProperty,
		Actions:  []domain.ActionRecord{},
		State:    domain.StateStart,
	}
	o.resolveSender(ctx, rec)

	for rec.State != domain.StateDone {
		next, err := o.next(ctx, rec)
		if err != nil {
			o.log.Error().Err(err).Str("email_id", email.ID).Str("state", string(rec.State)).Msg("pipeline step failed")
			return nil, err
		}
		rec.State = next
	}

	o.log.Info().
		Str("email_id", email.ID).
		Str("category", string(rec.Category())).
		Int("actions", len(rec.Actions)).
		Msg("email processed")
	return rec, nil
}

// next performs the work of the current state and returns the state to move to.
func (o *Orchestrator) next(ctx context.Context, rec *domain.ProcessingRecord) (domain.PipelineState, error) {
	switch rec.State {
	case domain.StateStart:
		c, err := o.extractor.Classify(ctx, rec.Email.Subject, rec.Email.Body, llm.HintsFor(rec.Tenant, rec.Property))
		if err != nil {
			return "", err
		}
		rec.Classification = c
		return domain.StateExtracted, nil

	case domain.StateExtracted:
		if rec.Classification.Category == domain.CategorySpam {
			return domain.StateSpamExit, nil
		}
		actions, err := o.resolver.Resolve(ctx, rec.Email, rec.Classification, rec.Tenant, rec.Property)
		if err != nil {
			return "", err
		}
		rec.Actions = actions
		return domain.StateActionsResolved, nil

	case domain.StateSpamExit:
		o.appendHistory(ctx, rec, nil)
		return domain.StateDone, nil

	case domain.StateActionsResolved:
		category := rec.Classification.Category
		text, err := o.responder.Generate(ctx, category, rec.Email, rec.Classification, rec.Tenant, rec.Property)
		if err != nil {
			return "", err
		}
		rec.Response = &domain.ResponseDraft{EmailID: rec.Email.ID, Category: category, Text: text}
		return domain.StateResponded, nil

	case domain.StateResponded:
		preview := domain.Preview(rec.Response.Text, domain.PreviewLength)
		o.appendHistory(ctx, rec, &preview)
		return domain.StateDone, nil
	}
	return "", fmt.Errorf("pipeline: no transition from state %q", rec.State)
}

// resolveSender fills tenant and property from the store. Misses and lookup
// errors leave them nil.
func (o *Orchestrator) resolveSender(ctx context.Context, rec *domain.ProcessingRecord) {
	if rec.Tenant == nil && o.tenants != nil {
		address := domain.SenderAddress(rec.Email.From)
		tenant, err := o.tenants.LookupTenantByEmail(ctx, address)
		if err != nil {
			o.log.Warn().Err(err).Str("sender", address).Msg("tenant lookup failed")
		}
		rec.Tenant = tenant
	}

	if rec.Property == nil && rec.Tenant != nil && rec.Tenant.PropertyID != nil && o.tenants != nil {
		property, err := o.tenants.LookupProperty(ctx, *rec.Tenant.PropertyID)
		if err != nil {
			o.log.Warn().Err(err).Int64("property_id", *rec.Tenant.PropertyID).Msg("property lookup failed")
		}
		rec.Property = property
	}
}

// appendHistory logs the run. A store failure does not undo the run.
func (o *Orchestrator) appendHistory(ctx context.Context, rec *domain.ProcessingRecord, preview *string) {
	entry := &domain.HistoryEntry{
		ID:              uuid.NewString(),
		EmailID:         rec.Email.ID,
		Category:        rec.Classification.Category,
		Actions:         rec.Actions,
		ResponsePreview: preview,
		CreatedAt:       time.Now().UTC(),
	}
	rec.History = entry

	if o.history == nil {
		return
	}
	if err := o.history.Append(ctx, entry); err != nil {
		o.log.Error().Err(err).Str("email_id", rec.Email.ID).Msg("history append failed")
	}
}
