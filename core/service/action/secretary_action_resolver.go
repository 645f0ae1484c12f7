package action

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"secretary_server/core/domain"
	"secretary_server/core/port/out"
	"secretary_server/pkg/apperr"
)

// Resolver turns a classification into category-specific side effects.
// It is not idempotent; duplicate tickets are collapsed by the store through
// the request DedupKey.
type Resolver struct {
	store out.TenantStore
	log   zerolog.Logger
}

func NewResolver(store out.TenantStore, log zerolog.Logger) *Resolver {
	return &Resolver{
		store: store,
		log:   log.With().Str("component", "action_resolver").Logger(),
	}
}

// Resolve returns the actions taken, in order. For a created ticket the id is
// also written to classification.MaintenanceTicketID so the responder can cite it.
func (r *Resolver) Resolve(
	ctx context.Context,
	email *domain.InboundEmail,
	classification *domain.ClassificationResult,
	tenant *domain.Tenant,
	property *domain.Property,
) ([]domain.ActionRecord, error) {
	if classification == nil {
		return []domain.ActionRecord{}, nil
	}

	actions := []domain.ActionRecord{}

	switch classification.Category {
	case domain.CategoryMaintenanceRequest:
		issue := issueOf(classification, email)

		if tenant == nil || property == nil {
			r.log.Info().Str("email_id", email.ID).Msg("maintenance request without tenant/property linkage")
			actions = append(actions, domain.ActionRecord{
				Type:      domain.ActionMaintenanceRequestReceived,
				Issue:     &issue,
				NeedsInfo: domain.MissingLinkageNote,
				Code:      apperr.CodeMissingLinkage,
			})
			break
		}

		ticketID, err := r.store.CreateTicket(ctx, domain.TicketRequest{
			TenantID:   tenant.ID,
			PropertyID: property.ID,
			Issue:      issue,
			Priority:   domain.PriorityFromUrgency(classification.Urgency),
			DedupKey:   DedupKey(email.ID, classification.Category),
		})
		if err != nil {
			if apperr.IsAppError(err) {
				return nil, err
			}
			return nil, apperr.DatabaseError("create ticket", err)
		}

		classification.MaintenanceTicketID = &ticketID
		tenantID := tenant.ID
		actions = append(actions, domain.ActionRecord{
			Type:     domain.ActionMaintenanceTicketCreated,
			TicketID: &ticketID,
			Issue:    &issue,
			TenantID: &tenantID,
		})
		r.log.Info().Str("email_id", email.ID).Str("ticket_id", ticketID).Msg("maintenance ticket created")

	case domain.CategoryRentInquiry:
		if tenant != nil {
			tenantID := tenant.ID
			actions = append(actions, domain.ActionRecord{
				Type:     domain.ActionRentInquiryLogged,
				TenantID: &tenantID,
			})
		}

	case domain.CategoryLockoutEmergency:
		rec := domain.ActionRecord{Type: domain.ActionLockoutEmergencyReported}
		if tenant != nil {
			tenantID := tenant.ID
			rec.TenantID = &tenantID
		}
		if property != nil {
			address := property.Address
			rec.PropertyAddress = &address
		}
		actions = append(actions, rec)
		r.log.Warn().Str("email_id", email.ID).Msg("lockout emergency reported")
	}

	return actions, nil
}

// DedupKey identifies one ticket request across redeliveries of the same email.
func DedupKey(emailID string, category domain.Category) string {
	return fmt.Sprintf("%s:%s", emailID, category)
}

func issueOf(c *domain.ClassificationResult, email *domain.InboundEmail) string {
	if c.IssueSummary != nil && *c.IssueSummary != "" {
		return *c.IssueSummary
	}
	return email.Subject
}
