package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"secretary_server/core/agent/llm"
	"secretary_server/core/domain"
	"secretary_server/core/service/action"
	"secretary_server/pkg/apperr"
)

// routedLLM answers classification prompts with classify and everything else with reply.
type routedLLM struct {
	mu       sync.Mutex
	classify string
	reply    func(prompt string) string
	err      error
	prompts  []string
}

func (r *routedLLM) Complete(_ context.Context, prompt string, _ float64) (domain.ModelReply, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts = append(r.prompts, prompt)
	if r.err != nil {
		return domain.ModelReply{}, r.err
	}
	if strings.Contains(prompt, "Analyze the following email and categorize it") {
		return domain.ModelReply{Text: r.classify}, nil
	}
	if r.reply != nil {
		return domain.ModelReply{Text: r.reply(prompt)}, nil
	}
	return domain.ModelReply{Text: "Thank you for your message."}, nil
}

func (r *routedLLM) replyPrompts() []string {
	var res []string
	for _, p := range r.prompts {
		if !strings.Contains(p, "Analyze the following email and categorize it") {
			res = append(res, p)
		}
	}
	return res
}

type fakeStore struct {
	tenants    map[string]*domain.Tenant
	properties map[int64]*domain.Property
	lookupErr  error
	tickets    []domain.TicketRequest
}

func (f *fakeStore) LookupTenantByEmail(_ context.Context, address string) (*domain.Tenant, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return f.tenants[address], nil
}

func (f *fakeStore) LookupTenantsByEmails(_ context.Context, addresses []string) (map[string]*domain.Tenant, error) {
	res := map[string]*domain.Tenant{}
	for _, a := range addresses {
		if t, ok := f.tenants[a]; ok {
			res[a] = t
		}
	}
	return res, nil
}

func (f *fakeStore) LookupProperty(_ context.Context, id int64) (*domain.Property, error) {
	return f.properties[id], nil
}

func (f *fakeStore) CreateTicket(_ context.Context, req domain.TicketRequest) (string, error) {
	f.tickets = append(f.tickets, req)
	return "TCK-42", nil
}

type memoryHistory struct {
	entries []*domain.HistoryEntry
}

func (m *memoryHistory) Append(_ context.Context, e *domain.HistoryEntry) error {
	m.entries = append(m.entries, e)
	return nil
}

func (m *memoryHistory) ListByEmail(_ context.Context, emailID string) ([]*domain.HistoryEntry, error) {
	var res []*domain.HistoryEntry
	for _, e := range m.entries {
		if e.EmailID == emailID {
			res = append(res, e)
		}
	}
	return res, nil
}

func newFixture(fake *routedLLM) (*Orchestrator, *fakeStore, *memoryHistory) {
	propertyID := int64(10)
	store := &fakeStore{
		tenants: map[string]*domain.Tenant{
			"alice@example.com": {ID: 1, Name: "Alice Smith", Email: "alice@example.com", Unit: "3B", PropertyID: &propertyID},
		},
		properties: map[int64]*domain.Property{10: {ID: 10, Address: "12 Elm St"}},
	}
	history := &memoryHistory{}
	log := zerolog.Nop()
	o := NewOrchestrator(
		store,
		llm.NewExtractor(fake),
		action.NewResolver(store, log),
		llm.NewResponder(fake, ""),
		history,
		log,
	)
	return o, store, history
}

func TestProcessEmailMaintenanceRequest(t *testing.T) {
	fake := &routedLLM{
		classify: "```json\n{\"category\": \"maintenance_request\", \"urgency\": \"high\", \"extracted_issue_summary\": \"Leaking kitchen faucet\"}\n```",
		reply: func(prompt string) string {
			return "We have opened ticket TCK-42 for the leaking kitchen faucet and a plumber will contact you."
		},
	}
	o, store, history := newFixture(fake)

	email := &domain.InboundEmail{
		ID:      "e1",
		From:    "Alice Smith <Alice@Example.com>",
		Subject: "Leaking faucet in kitchen",
		Body:    "My kitchen faucet is leaking.",
	}
	rec, err := o.ProcessEmail(context.Background(), email, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rec.Category() != domain.CategoryMaintenanceRequest {
		t.Fatalf("expected maintenance_request, got %q", rec.Category())
	}
	if len(store.tickets) != 1 {
		t.Fatalf("expected exactly one CreateTicket call, got %d", len(store.tickets))
	}
	if len(rec.Actions) != 1 || rec.Actions[0].Type != domain.ActionMaintenanceTicketCreated {
		t.Fatalf("expected one maintenance_ticket_created action, got %+v", rec.Actions)
	}

	prompts := fake.replyPrompts()
	if len(prompts) != 1 || !strings.Contains(prompts[0], "Maintenance Ticket ID: TCK-42") {
		t.Errorf("expected ticket id in responder prompt")
	}
	if rec.Response == nil || !strings.Contains(rec.Response.Text, "leaking kitchen faucet") {
		t.Errorf("expected response to reference the issue, got %+v", rec.Response)
	}
	if !strings.HasPrefix(rec.Response.Text, "Dear Alice Smith,") {
		t.Errorf("expected greeting for tenant, got %q", rec.Response.Text)
	}
	if rec.State != domain.StateDone {
		t.Errorf("expected done, got %q", rec.State)
	}
	if len(history.entries) != 1 || history.entries[0].ResponsePreview == nil {
		t.Fatalf("expected history with preview, got %+v", history.entries)
	}
	if !strings.HasSuffix(*history.entries[0].ResponsePreview, "...") {
		t.Errorf("expected truncated preview, got %q", *history.entries[0].ResponsePreview)
	}
}

func TestProcessEmailSpam(t *testing.T) {
	fake := &routedLLM{classify: `{"category": "spam"}`}
	o, store, history := newFixture(fake)

	email := &domain.InboundEmail{ID: "e2", From: "promo@prizes.biz", Subject: "You won a prize!", Body: "Click here for a free iPad."}
	rec, err := o.ProcessEmail(context.Background(), email, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rec.Category() != domain.CategorySpam {
		t.Fatalf("expected spam, got %q", rec.Category())
	}
	if len(rec.Actions) != 0 || rec.Response != nil {
		t.Errorf("expected no actions and no response, got %d actions, response %+v", len(rec.Actions), rec.Response)
	}
	if len(fake.replyPrompts()) != 0 || len(store.tickets) != 0 {
		t.Error("spam must not reach the resolver or responder")
	}
	if len(history.entries) != 1 || history.entries[0].ResponsePreview != nil {
		t.Errorf("expected one history entry with nil preview")
	}
}

func TestProcessEmailUnknownFormatStillResponds(t *testing.T) {
	fake := &routedLLM{classify: "not a json"}
	o, _, _ := newFixture(fake)

	rec, err := o.ProcessEmail(context.Background(), &domain.InboundEmail{ID: "e3", From: "bob@example.com"}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Category() != domain.CategoryUnknownFormat || rec.Response == nil {
		t.Errorf("expected sentinel with a response, got %q", rec.Category())
	}
	if !strings.HasPrefix(rec.Response.Text, "Dear Resident,") {
		t.Errorf("expected fallback greeting, got %q", rec.Response.Text)
	}
	if !strings.Contains(fake.replyPrompts()[0], "Sender not currently identified as a tenant") {
		t.Error("expected unknown-sender context in prompt")
	}
}

func TestProcessEmailLLMErrorPropagates(t *testing.T) {
	fake := &routedLLM{err: errors.New("503 from vendor")}
	o, _, history := newFixture(fake)

	_, err := o.ProcessEmail(context.Background(), &domain.InboundEmail{ID: "e4"}, nil, nil)
	if !apperr.IsLLMServiceError(err) {
		t.Fatalf("expected LLM service error, got %v", err)
	}
	if len(history.entries) != 0 {
		t.Error("failed runs must not write history")
	}
}

func TestProcessEmailLookupErrorIsNotFatal(t *testing.T) {
	fake := &routedLLM{classify: `{"category": "maintenance_request"}`}
	o, store, _ := newFixture(fake)
	store.lookupErr = errors.New("db down")

	rec, err := o.ProcessEmail(context.Background(), &domain.InboundEmail{ID: "e5", From: "alice@example.com"}, nil, nil)
	if err != nil {
		t.Fatalf("lookup failure must not fail the run: %v", err)
	}
	if rec.Tenant != nil {
		t.Error("expected nil tenant after lookup failure")
	}
	if len(rec.Actions) != 1 || rec.Actions[0].NeedsInfo != domain.MissingLinkageNote {
		t.Errorf("expected missing-linkage action, got %+v", rec.Actions)
	}
}

func TestProcessEmailKnownTenantSkipsLookup(t *testing.T) {
	fake := &routedLLM{classify: `{"category": "rent_inquiry"}`}
	o, store, _ := newFixture(fake)
	store.lookupErr = errors.New("must not be called")

	tenant := &domain.Tenant{ID: 99, Name: "Carol", Rent: 1500}
	rec, err := o.ProcessEmail(context.Background(), &domain.InboundEmail{ID: "e6"}, tenant, nil)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Tenant != tenant || len(rec.Actions) != 1 || rec.Actions[0].Type != domain.ActionRentInquiryLogged {
		t.Errorf("unexpected record %+v", rec)
	}
	if !strings.Contains(fake.replyPrompts()[0], "Current rent: $1500.00") {
		t.Error("expected rent in responder prompt")
	}
}

// =============================================================================
// Triage
// =============================================================================

type stubReviewer struct {
	calls int
	text  string
}

func (s *stubReviewer) Review(_ context.Context, _ *domain.InboundEmail, _ string) (string, error) {
	s.calls++
	return s.text, nil
}

func TestTriageRun(t *testing.T) {
	tests := []struct {
		name          string
		label         string
		draft         string
		wantEscalated bool
		wantCalls     int
	}{
		{"spam short-circuits", "spam", "", false, 0},
		{"needs review escalates", "needs_review", "We will handle it.", true, 1},
		{"question mark escalates", "actionable", "Could you send the lease number?", true, 1},
		{"plain actionable reply", "actionable", "We will handle it.", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &routedLLM{reply: func(prompt string) string {
				switch {
				case strings.HasPrefix(prompt, "Classify the following email"):
					return tt.label
				case strings.HasPrefix(prompt, "Summarize this email"):
					return "A short summary."
				default:
					return tt.draft
				}
			}}
			reviewer := &stubReviewer{text: "Reviewed reply"}
			wf := NewTriage(llm.NewTriager(fake, "Team"), reviewer, zerolog.Nop())

			res, err := wf.Run(context.Background(), &domain.InboundEmail{ID: "t1", From: "Dana Lee <dana@example.com>"})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Label != tt.label || res.Escalated != tt.wantEscalated || reviewer.calls != tt.wantCalls {
				t.Errorf("unexpected result %+v (reviewer calls %d)", res, reviewer.calls)
			}
			if tt.wantEscalated && res.Response != "Reviewed reply" {
				t.Errorf("expected reviewer text to be final, got %q", res.Response)
			}
			if tt.label == "spam" && (res.Response != "" || len(fake.prompts) != 1) {
				t.Errorf("spam must stop after the filter")
			}
			if !tt.wantEscalated && tt.label != "spam" && !strings.HasPrefix(res.Response, "Dear Dana Lee,") {
				t.Errorf("expected formatted draft, got %q", res.Response)
			}
		})
	}
}

func TestTriageCustomPredicate(t *testing.T) {
	fake := &routedLLM{reply: func(prompt string) string {
		if strings.HasPrefix(prompt, "Classify the following email") {
			return "needs_review"
		}
		return "Any questions?"
	}}
	reviewer := &stubReviewer{text: "x"}
	never := func(string, string) bool { return false }
	wf := NewTriage(llm.NewTriager(fake, ""), reviewer, zerolog.Nop(), WithEscalationPredicate(never))

	res, err := wf.Run(context.Background(), &domain.InboundEmail{ID: "t2"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Escalated || reviewer.calls != 0 {
		t.Error("custom predicate must override the default")
	}
}

func TestSenderAddress(t *testing.T) {
	tests := []struct {
		from     string
		expected string
	}{
		{"Alice <Alice@Example.com>", "alice@example.com"},
		{"bob@example.com", "bob@example.com"},
		{"  not an address ", "not an address"},
	}
	for _, tt := range tests {
		if got := domain.SenderAddress(tt.from); got != tt.expected {
			t.Errorf("SenderAddress(%q) = %q, want %q", tt.from, got, tt.expected)
		}
	}
}
