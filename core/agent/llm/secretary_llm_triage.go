package llm

import (
	"context"
	"fmt"
	"strings"

	"secretary_server/core/domain"
	"secretary_server/core/port/out"
)

// Labels produced by the generic triage filter.
const (
	LabelSpam          = "spam"
	LabelNeedsReview   = "needs_review"
	LabelActionable    = "actionable"
	LabelInformational = "informational"
)

var triageLabels = []string{LabelSpam, LabelNeedsReview, LabelActionable, LabelInformational}

// Triager backs the generic (non property-management) workflow.
type Triager struct {
	llm       out.LLMService
	signature string
}

func NewTriager(llm out.LLMService, signature string) *Triager {
	if strings.TrimSpace(signature) == "" {
		signature = DefaultSignature
	}
	return &Triager{llm: llm, signature: signature}
}

// Filter labels the email. Replies outside the label set count as needs_review.
func (t *Triager) Filter(ctx context.Context, email *domain.InboundEmail) (string, error) {
	prompt := fmt.Sprintf(`Classify the following email with exactly one label from: %s.
Use needs_review when a person should look at it before anyone replies.
Reply with the label only.

From: %s
Subject: %s
Body:
%s`, strings.Join(triageLabels, ", "), email.From, email.Subject, truncateBody(email.Body, 2000))

	reply, err := t.llm.Complete(ctx, prompt, classificationTemperature)
	if err != nil {
		return "", asLLMError(err)
	}
	return parseLabel(reply.Text), nil
}

func parseLabel(raw string) string {
	text := strings.ToLower(StripCodeFence(raw))
	text = strings.Trim(text, " \t\n.'\"`")
	for _, label := range triageLabels {
		if text == label || strings.HasPrefix(text, label) {
			return label
		}
	}
	return LabelNeedsReview
}

func (t *Triager) Summarize(ctx context.Context, email *domain.InboundEmail) (string, error) {
	prompt := fmt.Sprintf(`Summarize this email in two sentences.

Subject: %s
Body:
%s`, email.Subject, truncateBody(email.Body, 2000))

	reply, err := t.llm.Complete(ctx, prompt, 0.3)
	if err != nil {
		return "", asLLMError(err)
	}
	return strings.TrimSpace(reply.Text), nil
}

// Draft writes a formal reply body from the summary and formats it.
func (t *Triager) Draft(ctx context.Context, email *domain.InboundEmail, summary, recipientName string) (string, error) {
	prompt := fmt.Sprintf(`You are an email assistant. Do not use placeholders like [User's Name].
Do not include any greeting or signature lines in your response.

Email Details:
From: %s
Subject: %s
Content: %s
Summary: %s

Reply in a formal tone.`, email.From, email.Subject, truncateBody(email.Body, 2000), summary)

	reply, err := t.llm.Complete(ctx, prompt, replyTemperature)
	if err != nil {
		return "", asLLMError(err)
	}
	return FormatEmail(recipientName, StripPlaceholders(reply.Text), t.signature), nil
}
