package in

import (
	"context"

	"secretary_server/core/domain"
)

// EmailPipeline is the synchronous triage entry point.
type EmailPipeline interface {
	ProcessEmail(ctx context.Context, email *domain.InboundEmail, knownTenant *domain.Tenant, knownProperty *domain.Property) (*domain.ProcessingRecord, error)
}

// TriageWorkflow is the generic (non property-management) variant with review escalation.
type TriageWorkflow interface {
	Run(ctx context.Context, email *domain.InboundEmail) (*TriageResult, error)
}

// TriageResult 범용 분류 결과.
type TriageResult struct {
	EmailID   string `json:"email_id"`
	Label     string `json:"label"`
	Summary   string `json:"summary,omitempty"`
	Response  string `json:"response,omitempty"`
	Escalated bool   `json:"escalated"`
}

// DocumentPipeline covers legal metadata extraction and the derived artifacts.
type DocumentPipeline interface {
	// ProcessDocument returns (nil, nil) when the model reply cannot be parsed.
	ProcessDocument(ctx context.Context, documentID, text, userID string) (*domain.DocumentArtifact, error)
	Summarize(ctx context.Context, documentID, text, userID string) (*domain.DocumentArtifact, error)
	AnswerQuestion(ctx context.Context, documentID, text, question, userID string) (*domain.DocumentArtifact, error)
	AnalyzeForParty(ctx context.Context, documentID, text, party, userID string) (*domain.DocumentArtifact, error)
}

// InboxSweeper classifies unseen messages of one mailbox.
type InboxSweeper interface {
	SweepInbox(ctx context.Context, profile domain.MailboxProfile) (int, error)
}
