package pipeline

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"secretary_server/core/agent/llm"
	"secretary_server/core/domain"
	"secretary_server/core/port/in"
	"secretary_server/core/port/out"
)

// EscalationPredicate decides whether a drafted reply goes to a person.
type EscalationPredicate func(label, draft string) bool

// NeedsReviewOrQuestion escalates when the filter asked for review or the
// draft itself asks the sender something.
func NeedsReviewOrQuestion(label, draft string) bool {
	return label == llm.LabelNeedsReview || strings.Contains(draft, "?")
}

// Triage is the generic workflow: filter, summarize, draft, maybe escalate.
type Triage struct {
	triager  *llm.Triager
	reviewer out.HumanReviewer
	escalate EscalationPredicate
	log      zerolog.Logger
}

// TriageOption configures Triage.
type TriageOption func(*Triage)

func WithEscalationPredicate(p EscalationPredicate) TriageOption {
	return func(t *Triage) {
		if p != nil {
			t.escalate = p
		}
	}
}

func NewTriage(triager *llm.Triager, reviewer out.HumanReviewer, log zerolog.Logger, opts ...TriageOption) *Triage {
	t := &Triage{
		triager:  triager,
		reviewer: reviewer,
		escalate: NeedsReviewOrQuestion,
		log:      log.With().Str("component", "triage").Logger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

var _ in.TriageWorkflow = (*Triage)(nil)

// Run returns the final reply. Spam stops after the filter; an escalated
// draft is replaced by whatever the reviewer returns.
func (t *Triage) Run(ctx context.Context, email *domain.InboundEmail) (*in.TriageResult, error) {
	label, err := t.triager.Filter(ctx, email)
	if err != nil {
		return nil, err
	}

	result := &in.TriageResult{EmailID: email.ID, Label: label}
	if label == llm.LabelSpam {
		t.log.Info().Str("email_id", email.ID).Msg("spam, skipping reply")
		return result, nil
	}

	summary, err := t.triager.Summarize(ctx, email)
	if err != nil {
		return nil, err
	}
	result.Summary = summary

	draft, err := t.triager.Draft(ctx, email, summary, domain.SenderName(email.From))
	if err != nil {
		return nil, err
	}
	result.Response = draft

	if t.reviewer != nil && t.escalate(label, draft) {
		final, err := t.reviewer.Review(ctx, email, draft)
		if err != nil {
			return nil, err
		}
		result.Response = final
		result.Escalated = true
		t.log.Info().Str("email_id", email.ID).Str("label", label).Msg("reply escalated for review")
	}
	return result, nil
}
