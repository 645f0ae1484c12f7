package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"secretary_server/core/domain"
	"secretary_server/pkg/apperr"
)

// scriptedLLM returns replies in order and records every prompt.
type scriptedLLM struct {
	mu      sync.Mutex
	replies []string
	err     error
	prompts []string
}

func (s *scriptedLLM) Complete(_ context.Context, prompt string, _ float64) (domain.ModelReply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return domain.ModelReply{}, s.err
	}
	if len(s.replies) == 0 {
		return domain.ModelReply{}, nil
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return domain.ModelReply{Text: r}, nil
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
	}{
		{
			name:     "unfenced",
			raw:      `{"category":"spam"}`,
			expected: `{"category":"spam"}`,
		},
		{
			name:     "single line with language tag",
			raw:      "```json {\"category\":\"spam\"} ```",
			expected: `{"category":"spam"}`,
		},
		{
			name:     "single line without tag",
			raw:      "```{\"a\":1}```",
			expected: `{"a":1}`,
		},
		{
			name:     "multi line",
			raw:      "```json\n{\"a\": 1}\n```",
			expected: `{"a": 1}`,
		},
		{
			name:     "multi line keeps interior fence lines",
			raw:      "```json\n{\"a\": 1,\n```not-a-delimiter\n\"b\": 2}\n```",
			expected: "{\"a\": 1,\n```not-a-delimiter\n\"b\": 2}",
		},
		{
			name:     "surrounding whitespace and CRLF",
			raw:      "  ```\r\n{}\r\n```  ",
			expected: "{}",
		},
		{
			name:     "two lines falls back to dropping fence lines",
			raw:      "```json\n{\"a\":1}```",
			expected: "{\"a\":1}```",
		},
		{
			name:     "bare fence",
			raw:      "```",
			expected: "",
		},
		{
			name:     "opening fence only is left alone",
			raw:      "```json\n{}",
			expected: "```json\n{}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripCodeFence(tt.raw); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestParseClassification(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		category domain.Category
		sentinel bool
	}{
		{"not json", "not a json", domain.CategoryUnknownFormat, true},
		{"json array", "[1,2]", domain.CategoryUnknownFormat, true},
		{"json null", "null", domain.CategoryUnknownFormat, true},
		{"fenced", "```json\n{\"category\": \"maintenance_request\", \"urgency\": \"high\"}\n```", domain.CategoryMaintenanceRequest, false},
		{"missing category", `{"urgency": "low"}`, domain.CategoryGeneralInquiry, false},
		{"unrecognized category", `{"category": "parking"}`, domain.CategoryOther, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseClassification(tt.raw)
			if got.Category != tt.category {
				t.Errorf("expected category %q, got %q", tt.category, got.Category)
			}
			if tt.sentinel {
				if got.Error == nil || *got.Error != ParseFailureMarker {
					t.Errorf("expected parse failure marker, got %v", got.Error)
				}
			} else if got.Error != nil {
				t.Errorf("unexpected error marker %q", *got.Error)
			}
		})
	}
}

func TestClassificationRoundTrip(t *testing.T) {
	categories := append(domain.Categories(), domain.CategoryUnknownFormat)
	for _, c := range categories {
		t.Run(string(c), func(t *testing.T) {
			src := &domain.ClassificationResult{Category: c, IssueSummary: domain.StringPtr("leak")}
			data, err := json.Marshal(src)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}

			variants := map[string]string{
				"unfenced":    string(data),
				"single line": "```json " + string(data) + " ```",
				"multi line":  "```json\n" + string(data) + "\n```",
			}
			for name, raw := range variants {
				if got := ParseClassification(raw); got.Category != c {
					t.Errorf("%s: expected %q, got %q", name, c, got.Category)
				}
			}
		})
	}
}

func TestExtractFirstJSONObject(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected string
		ok       bool
	}{
		{"prose around nested object", `Here you go: {"a": {"b": 1}} and {"c": 2}`, `{"a": {"b": 1}}`, true},
		{"braces inside strings", `{"a": "}{"} tail`, `{"a": "}{"}`, true},
		{"escaped quote", `{"a": "say \"}\" ok"} x`, `{"a": "say \"}\" ok"}`, true},
		{"no object", "no braces here", "", false},
		{"unbalanced", `{"a": 1`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractFirstJSONObject(tt.text)
			if ok != tt.ok || got != tt.expected {
				t.Errorf("expected (%q, %v), got (%q, %v)", tt.expected, tt.ok, got, ok)
			}
		})
	}
}

func TestParseLegalMetadata(t *testing.T) {
	meta, err := ParseLegalMetadata("Sure!\n```json\n{\"document_type\": \"Order\", \"event_dates\": [\"2024-07-01T10:00:00\"]}\n```")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.DocumentType == nil || *meta.DocumentType != "Order" {
		t.Errorf("expected Order, got %v", meta.DocumentType)
	}
	if len(meta.EventDates) != 1 {
		t.Errorf("expected one event date, got %v", meta.EventDates)
	}

	_, err = ParseLegalMetadata("not a json")
	if !apperr.HasCode(err, apperr.CodeExtractionParse) {
		t.Errorf("expected extraction parse error, got %v", err)
	}
}

func TestTruncateBody(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		maxLen   int
		expected string
	}{
		{"short body", "Hello world", 100, "Hello world"},
		{"exact length", "Hello", 5, "Hello"},
		{"truncated", "Hello world, this is a long message", 10, "Hello worl..."},
		{"empty body", "", 100, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := truncateBody(tt.body, tt.maxLen); result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestExtractorClassify(t *testing.T) {
	fake := &scriptedLLM{replies: []string{"```json\n{\"category\": \"rent_inquiry\"}\n```", "not a json"}}
	ex := NewExtractor(fake)

	got, err := ex.Classify(context.Background(), "", "", Hints{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Category != domain.CategoryRentInquiry {
		t.Errorf("expected rent_inquiry, got %q", got.Category)
	}
	if !strings.Contains(fake.prompts[0], "Known Tenant: Unknown") {
		t.Error("missing hints must render as Unknown")
	}

	got, err = ex.Classify(context.Background(), "s", "b", HintsFor(&domain.Tenant{Name: "Alice"}, nil))
	if err != nil {
		t.Fatalf("parse failure must not be an error: %v", err)
	}
	if got.Category != domain.CategoryUnknownFormat {
		t.Errorf("expected sentinel, got %q", got.Category)
	}
	if !strings.Contains(fake.prompts[1], "Known Tenant: Alice") {
		t.Error("expected tenant hint in prompt")
	}
}

func TestExtractorTransportFailure(t *testing.T) {
	ex := NewExtractor(&scriptedLLM{err: errors.New("connection reset")})
	_, err := ex.Classify(context.Background(), "s", "b", Hints{})
	if !apperr.IsLLMServiceError(err) {
		t.Errorf("expected LLM service error, got %v", err)
	}
}

func TestResponderGenerate(t *testing.T) {
	ticket := "17"
	c := &domain.ClassificationResult{
		Category:            domain.CategoryMaintenanceRequest,
		IssueSummary:        domain.StringPtr("Leaking faucet"),
		MaintenanceTicketID: &ticket,
	}
	tenant := &domain.Tenant{ID: 1, Name: "Alice", Email: "alice@example.com", Unit: "3B"}
	property := &domain.Property{ID: 2, Address: "12 Elm St"}
	fake := &scriptedLLM{replies: []string{"Hi [Name] we scheduled a plumber for the faucet."}}

	r := NewResponder(fake, "")
	email := &domain.InboundEmail{ID: "e1", Subject: "Leaking faucet in kitchen", Body: "My kitchen faucet is leaking."}
	text, err := r.Generate(context.Background(), c.Category, email, c, tenant, property)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(fake.prompts[0], "Maintenance Ticket ID: 17") {
		t.Errorf("expected ticket id in prompt, got %q", fake.prompts[0])
	}
	expected := "Dear Alice,\n\nHi we scheduled a plumber for the faucet.\n\n" + DefaultSignature
	if text != expected {
		t.Errorf("expected %q, got %q", expected, text)
	}
}

func TestBuildContext(t *testing.T) {
	tests := []struct {
		name     string
		category domain.Category
		tenant   *domain.Tenant
		contains string
	}{
		{"unknown tenant asks for details", domain.CategoryGeneralInquiry, nil, "Sender not currently identified as a tenant"},
		{"maintenance without ticket", domain.CategoryMaintenanceRequest, nil, "We are processing this request."},
		{"rent with tenant", domain.CategoryRentInquiry, &domain.Tenant{Name: "Bo", Rent: 1200, Balance: 50}, "Current rent: $1200.00, Balance: $50.00."},
		{"lockout", domain.CategoryLockoutEmergency, nil, "emergency contact guidance"},
		{"sentinel", domain.CategoryUnknownFormat, nil, "could not be categorized"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildContext(tt.category, nil, tt.tenant, nil)
			if !strings.Contains(got, tt.contains) {
				t.Errorf("expected %q in %q", tt.contains, got)
			}
		})
	}
}

func TestStripPlaceholders(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"name", "Hi [Name] thanks.", "Hi thanks."},
		{"your name", "Regards, [Your Name]", "Regards,"},
		{"possessive", "Sent to [Tenant's Address] today.", "Sent to today."},
		{"curly possessive", "Sent to [Tenant’s Address] today.", "Sent to today."},
		{"two words", "Call [Phone Number] now.", "Call now."},
		{"lower case", "Dear [name],", "Dear,"},
		{"unit fact kept", "The plumber will visit [Unit 3B] on Monday.", "The plumber will visit [Unit 3B] on Monday."},
		{"markdown link kept", "See [Click here](https://example.com/pay).", "See [Click here](https://example.com/pay)."},
		{"link with placeholder word kept", "Email [Name](mailto:a@b.c)", "Email [Name](mailto:a@b.c)"},
		{"case caption kept", "Re: [Smith v. Jones] hearing", "Re: [Smith v. Jones] hearing"},
		{"no brackets", "Your ticket is open.", "Your ticket is open."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripPlaceholders(tt.in); got != tt.want {
				t.Errorf("StripPlaceholders(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatEmail(t *testing.T) {
	got := FormatEmail("", "  Body text.  ", "Team")
	if got != "Dear Resident,\n\nBody text.\n\nTeam" {
		t.Errorf("unexpected format %q", got)
	}
}

func TestParseLabel(t *testing.T) {
	tests := []struct {
		raw      string
		expected string
	}{
		{"Spam.", LabelSpam},
		{"```\nneeds_review\n```", LabelNeedsReview},
		{"ACTIONABLE - reply soon", LabelActionable},
		{"maybe?", LabelNeedsReview},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := parseLabel(tt.raw); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestGuardedWrapsTransportErrors(t *testing.T) {
	g := NewGuarded("test", &scriptedLLM{err: errors.New("boom")}, nil, zerolog.Nop())
	_, err := g.Complete(context.Background(), "p", 0.2)
	if !apperr.IsLLMServiceError(err) {
		t.Errorf("expected LLM service error, got %v", err)
	}

	g = NewGuarded("test", &scriptedLLM{replies: []string{"ok"}}, nil, zerolog.Nop())
	reply, err := g.Complete(context.Background(), "p", 0.2)
	if err != nil || reply.Text != "ok" {
		t.Errorf("expected ok, got %q, %v", reply.Text, err)
	}
}

func TestTripsBreaker(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"unauthorized", apperr.LLMServiceError("x", errors.New("401")).WithDetail("status", 401), false},
		{"rate limited", apperr.LLMServiceError("x", errors.New("429")).WithDetail("status", 429), true},
		{"no status", errors.New("dial tcp"), true},
		{"canceled", context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tripsBreaker(tt.err); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}
