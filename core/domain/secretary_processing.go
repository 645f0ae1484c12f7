package domain

import (
	"time"
	"unicode/utf8"
)

// ActionType names a side effect taken for an email.
type ActionType string

const (
	ActionMaintenanceTicketCreated   ActionType = "maintenance_ticket_created"
	ActionMaintenanceRequestReceived ActionType = "maintenance_request_received"
	ActionRentInquiryLogged          ActionType = "rent_inquiry_logged"
	ActionLockoutEmergencyReported   ActionType = "lockout_emergency_reported"
)

// MissingLinkageNote is attached when a ticket cannot be opened.
const MissingLinkageNote = "Tenant or property ID missing for ticket creation"

// ActionRecord is one logged side effect.
type ActionRecord struct {
	Type            ActionType `json:"type"`
	TicketID        *string    `json:"ticket_id,omitempty"`
	Issue           *string    `json:"issue,omitempty"`
	TenantID        *int64     `json:"tenant_id,omitempty"`
	PropertyAddress *string    `json:"property_address,omitempty"`
	NeedsInfo       string     `json:"needs_info,omitempty"`
	// Code flags an action that could not complete, e.g. MISSING_LINKAGE.
	Code string `json:"code,omitempty"`
}

// ResponseDraft is the terminal artifact of one pipeline run.
type ResponseDraft struct {
	EmailID   string   `json:"email_id"`
	Category  Category `json:"category"`
	Text      string   `json:"text"`
	Escalated bool     `json:"escalated,omitempty"`
}

// HistoryEntry is an append-only audit row.
type HistoryEntry struct {
	ID              string         `json:"id"`
	EmailID         string         `json:"email_id"`
	Category        Category       `json:"category"`
	Actions         []ActionRecord `json:"actions"`
	ResponsePreview *string        `json:"response_generated"`
	CreatedAt       time.Time      `json:"created_at"`
}

// PreviewLength is the number of runes kept in a history preview.
const PreviewLength = 100

// Preview truncates text for history entries.
func Preview(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return string(runes[:n]) + "..."
}

// PipelineState tracks where a run is in the orchestrator.
type PipelineState string

const (
	StateStart           PipelineState = "start"
	StateExtracted       PipelineState = "extracted"
	StateSpamExit        PipelineState = "spam_exit"
	StateActionsResolved PipelineState = "actions_resolved"
	StateResponded       PipelineState = "responded"
	StateDone            PipelineState = "done"
)

// ProcessingRecord is the per-email aggregate produced by one run.
type ProcessingRecord struct {
	Email          *InboundEmail         `json:"email"`
	Classification *ClassificationResult `json:"classification"`
	Tenant         *Tenant               `json:"tenant"`
	Property       *Property             `json:"property"`
	Actions        []ActionRecord        `json:"actions"`
	Response       *ResponseDraft        `json:"response"`
	History        *HistoryEntry         `json:"history"`
	State          PipelineState         `json:"state"`
}

// Category of the record, or empty before extraction.
func (r *ProcessingRecord) Category() Category {
	if r.Classification == nil {
		return ""
	}
	return r.Classification.Category
}
