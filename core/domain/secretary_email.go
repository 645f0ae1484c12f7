package domain

import (
	"net/mail"
	"strings"
	"time"
)

// InboundEmail is the immutable pipeline input.
type InboundEmail struct {
	ID          string          `json:"id"`
	From        string          `json:"from"`
	Subject     string          `json:"subject"`
	Body        string          `json:"body"`
	Attachments []AttachmentRef `json:"attachments,omitempty"`
	ReceivedAt  time.Time       `json:"received_at"`
}

// AttachmentRef points at a file stored outside the pipeline.
type AttachmentRef struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	MimeType string `json:"mime_type,omitempty"`
}

// IsPDF reports whether the attachment should go through OCR.
func (a AttachmentRef) IsPDF() bool {
	return a.MimeType == "application/pdf" || strings.HasSuffix(strings.ToLower(a.Filename), ".pdf")
}

// SenderAddress returns the bare, lower-cased address of a From header.
func SenderAddress(from string) string {
	if addr, err := mail.ParseAddress(from); err == nil {
		return strings.ToLower(addr.Address)
	}
	return strings.ToLower(strings.TrimSpace(from))
}

// SenderName returns the display name of a From header, or "".
func SenderName(from string) string {
	if addr, err := mail.ParseAddress(from); err == nil {
		return addr.Name
	}
	return ""
}

// ModelReply is the normalized text of one LLM completion, whichever vendor produced it.
type ModelReply struct {
	Text string
}

// =============================================================================
// Tenant / Property
// =============================================================================

type Tenant struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	Email      string  `json:"email"`
	Phone      string  `json:"phone,omitempty"`
	Unit       string  `json:"unit,omitempty"`
	PropertyID *int64  `json:"property_id"`
	Rent       float64 `json:"rent"`
	Balance    float64 `json:"balance"`
}

type Property struct {
	ID      int64  `json:"id"`
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// TicketPriority used for maintenance tickets.
type TicketPriority string

const (
	PriorityLow    TicketPriority = "low"
	PriorityNormal TicketPriority = "normal"
	PriorityHigh   TicketPriority = "high"
	PriorityUrgent TicketPriority = "urgent"
)

// PriorityFromUrgency maps extraction urgency onto ticket priority.
func PriorityFromUrgency(u *Urgency) TicketPriority {
	if u == nil {
		return PriorityNormal
	}
	switch *u {
	case UrgencyEmergency:
		return PriorityUrgent
	case UrgencyHigh:
		return PriorityHigh
	case UrgencyLow:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// TicketRequest asks the store to open a maintenance ticket.
// DedupKey lets the store collapse redelivered requests onto one row.
type TicketRequest struct {
	TenantID   int64
	PropertyID int64
	Issue      string
	Priority   TicketPriority
	DedupKey   string
}
