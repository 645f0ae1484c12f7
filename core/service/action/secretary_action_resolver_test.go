package action

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"secretary_server/core/domain"
	"secretary_server/pkg/apperr"
)

type fakeTenantStore struct {
	requests []domain.TicketRequest
	err      error
}

func (f *fakeTenantStore) LookupTenantByEmail(context.Context, string) (*domain.Tenant, error) {
	return nil, nil
}

func (f *fakeTenantStore) LookupTenantsByEmails(context.Context, []string) (map[string]*domain.Tenant, error) {
	return map[string]*domain.Tenant{}, nil
}

func (f *fakeTenantStore) LookupProperty(context.Context, int64) (*domain.Property, error) {
	return nil, nil
}

func (f *fakeTenantStore) CreateTicket(_ context.Context, req domain.TicketRequest) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.requests = append(f.requests, req)
	return "T-1", nil
}

func urgency(u domain.Urgency) *domain.Urgency { return &u }

func TestResolve(t *testing.T) {
	tenant := &domain.Tenant{ID: 7, Name: "Alice"}
	property := &domain.Property{ID: 3, Address: "12 Elm St"}
	email := &domain.InboundEmail{ID: "e1", Subject: "Leaking faucet"}

	tests := []struct {
		name        string
		category    domain.Category
		tenant      *domain.Tenant
		property    *domain.Property
		wantTypes   []domain.ActionType
		wantTickets int
	}{
		{"maintenance with linkage", domain.CategoryMaintenanceRequest, tenant, property, []domain.ActionType{domain.ActionMaintenanceTicketCreated}, 1},
		{"maintenance without property", domain.CategoryMaintenanceRequest, tenant, nil, []domain.ActionType{domain.ActionMaintenanceRequestReceived}, 0},
		{"maintenance without tenant", domain.CategoryMaintenanceRequest, nil, property, []domain.ActionType{domain.ActionMaintenanceRequestReceived}, 0},
		{"rent with tenant", domain.CategoryRentInquiry, tenant, nil, []domain.ActionType{domain.ActionRentInquiryLogged}, 0},
		{"rent without tenant", domain.CategoryRentInquiry, nil, nil, nil, 0},
		{"lockout unknown sender", domain.CategoryLockoutEmergency, nil, nil, []domain.ActionType{domain.ActionLockoutEmergencyReported}, 0},
		{"spam", domain.CategorySpam, tenant, property, nil, 0},
		{"general", domain.CategoryGeneralInquiry, tenant, property, nil, 0},
		{"sentinel", domain.CategoryUnknownFormat, tenant, property, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeTenantStore{}
			r := NewResolver(store, zerolog.Nop())
			c := &domain.ClassificationResult{Category: tt.category, Urgency: urgency(domain.UrgencyEmergency)}

			actions, err := r.Resolve(context.Background(), email, c, tt.tenant, tt.property)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(actions) != len(tt.wantTypes) {
				t.Fatalf("expected %d actions, got %d", len(tt.wantTypes), len(actions))
			}
			for i, want := range tt.wantTypes {
				if actions[i].Type != want {
					t.Errorf("action %d: expected %q, got %q", i, want, actions[i].Type)
				}
			}
			if len(store.requests) != tt.wantTickets {
				t.Errorf("expected %d CreateTicket calls, got %d", tt.wantTickets, len(store.requests))
			}
		})
	}
}

func TestResolveTicketDetails(t *testing.T) {
	store := &fakeTenantStore{}
	r := NewResolver(store, zerolog.Nop())
	c := &domain.ClassificationResult{
		Category:     domain.CategoryMaintenanceRequest,
		Urgency:      urgency(domain.UrgencyHigh),
		IssueSummary: domain.StringPtr("Faucet leaking"),
	}

	actions, err := r.Resolve(context.Background(),
		&domain.InboundEmail{ID: "e9", Subject: "help"}, c,
		&domain.Tenant{ID: 1}, &domain.Property{ID: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := store.requests[0]
	if req.Priority != domain.PriorityHigh || req.Issue != "Faucet leaking" || req.DedupKey != "e9:maintenance_request" {
		t.Errorf("unexpected ticket request %+v", req)
	}
	if c.MaintenanceTicketID == nil || *c.MaintenanceTicketID != "T-1" {
		t.Error("expected ticket id merged into classification")
	}
	if actions[0].TicketID == nil || *actions[0].TicketID != "T-1" {
		t.Error("expected ticket id on action")
	}
}

func TestResolveMissingLinkageNote(t *testing.T) {
	r := NewResolver(&fakeTenantStore{}, zerolog.Nop())
	actions, _ := r.Resolve(context.Background(), &domain.InboundEmail{ID: "e"},
		&domain.ClassificationResult{Category: domain.CategoryMaintenanceRequest}, nil, nil)
	if actions[0].NeedsInfo != domain.MissingLinkageNote {
		t.Errorf("expected linkage note, got %q", actions[0].NeedsInfo)
	}
	if actions[0].Code != apperr.CodeMissingLinkage {
		t.Errorf("expected %s code on the action, got %q", apperr.CodeMissingLinkage, actions[0].Code)
	}
}

func TestResolveLockoutCarriesAddress(t *testing.T) {
	r := NewResolver(&fakeTenantStore{}, zerolog.Nop())
	actions, _ := r.Resolve(context.Background(), &domain.InboundEmail{ID: "e"},
		&domain.ClassificationResult{Category: domain.CategoryLockoutEmergency},
		&domain.Tenant{ID: 4}, &domain.Property{ID: 5, Address: "1 Main"})
	rec := actions[0]
	if rec.TenantID == nil || *rec.TenantID != 4 || rec.PropertyAddress == nil || *rec.PropertyAddress != "1 Main" {
		t.Errorf("unexpected lockout record %+v", rec)
	}
}

func TestResolveStoreFailure(t *testing.T) {
	r := NewResolver(&fakeTenantStore{err: errors.New("connection refused")}, zerolog.Nop())
	_, err := r.Resolve(context.Background(), &domain.InboundEmail{ID: "e"},
		&domain.ClassificationResult{Category: domain.CategoryMaintenanceRequest},
		&domain.Tenant{ID: 1}, &domain.Property{ID: 2})
	if !apperr.HasCode(err, apperr.CodeDatabaseError) {
		t.Errorf("expected database error, got %v", err)
	}
}
