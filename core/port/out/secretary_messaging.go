package out

import (
	"context"
	"time"

	"secretary_server/core/domain"
)

// TaskQueue publishes background work. Delivery is at-least-once, so every
// consumer must tolerate duplicates.
type TaskQueue interface {
	PublishEmailProcess(ctx context.Context, job *EmailProcessJob) error
	PublishDocumentOCR(ctx context.Context, job *DocumentOCRJob) error
	PublishDocumentAnalyze(ctx context.Context, job *DocumentAnalyzeJob) error
	PublishDocumentDerive(ctx context.Context, job *DocumentDeriveJob) error
	PublishInboxSweep(ctx context.Context, job *InboxSweepJob) error
}

// EmailProcessJob runs the inline pipeline for one email.
type EmailProcessJob struct {
	Email domain.InboundEmail `json:"email"`
}

// DocumentOCRJob converts a PDF to text, then chains DocumentAnalyzeJob.
type DocumentOCRJob struct {
	DocumentID string `json:"document_id"`
	UserID     string `json:"user_id"`
	PDFPath    string `json:"pdf_path"`
}

// DocumentAnalyzeJob extracts legal metadata from OCR output.
type DocumentAnalyzeJob struct {
	DocumentID string `json:"document_id"`
	UserID     string `json:"user_id"`
	TextPath   string `json:"text_path"`
}

// DocumentDeriveJob requests derived artifacts for a document.
type DocumentDeriveJob struct {
	DocumentID string   `json:"document_id"`
	UserID     string   `json:"user_id"`
	TextPath   string   `json:"text_path"`
	Summarize  bool     `json:"summarize,omitempty"`
	Questions  []string `json:"questions,omitempty"`
	Parties    []string `json:"parties,omitempty"`
}

// InboxSweepJob sweeps one configured mailbox.
type InboxSweepJob struct {
	Mailbox    string    `json:"mailbox"`
	UserID     string    `json:"user_id"`
	Provider   string    `json:"provider"`
	Query      string    `json:"query"`
	MaxMessage int       `json:"max_messages"`
	QueuedAt   time.Time `json:"queued_at"`
}

// Profile converts the job back into a mailbox profile.
func (j *InboxSweepJob) Profile() domain.MailboxProfile {
	return domain.MailboxProfile{
		Name:        j.Mailbox,
		UserID:      j.UserID,
		Provider:    j.Provider,
		Query:       j.Query,
		MaxMessages: j.MaxMessage,
	}
}

// MailboxLock serializes sweeps per mailbox.
type MailboxLock interface {
	// Acquire returns a release token, or "" when another sweep holds the lock.
	Acquire(ctx context.Context, mailbox string, ttl time.Duration) (string, error)
	Release(ctx context.Context, mailbox, token string) error
}

// ProcessedMarker records that a job key was handled.
type ProcessedMarker interface {
	// MarkProcessed returns false when key was already marked.
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Clear drops a mark so a failed job can be retried.
	Clear(ctx context.Context, key string) error
}
