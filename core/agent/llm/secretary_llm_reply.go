package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"secretary_server/core/domain"
	"secretary_server/core/port/out"
)

const (
	replyTemperature = 0.5
	bodySnippetLen   = 200

	DefaultSignature = "Secretary Property Management Team"
	fallbackGreeting = "Resident"
)

// Responder drafts property-management replies.
type Responder struct {
	llm         out.LLMService
	temperature float64
	signature   string
}

func NewResponder(llm out.LLMService, signature string) *Responder {
	if strings.TrimSpace(signature) == "" {
		signature = DefaultSignature
	}
	return &Responder{llm: llm, temperature: replyTemperature, signature: signature}
}

// Generate drafts a reply and wraps it with greeting and signature.
func (r *Responder) Generate(
	ctx context.Context,
	category domain.Category,
	email *domain.InboundEmail,
	classification *domain.ClassificationResult,
	tenant *domain.Tenant,
	property *domain.Property,
) (string, error) {
	prompt := r.buildPrompt(BuildContext(category, classification, tenant, property), email)

	reply, err := r.llm.Complete(ctx, prompt, r.temperature)
	if err != nil {
		return "", asLLMError(err)
	}

	recipient := ""
	if tenant != nil {
		recipient = tenant.Name
	}
	return FormatEmail(recipient, StripPlaceholders(reply.Text), r.signature), nil
}

// BuildContext renders the category-specific facts the model may rely on.
// Unknown values are stated explicitly so the model asks instead of inventing.
func BuildContext(category domain.Category, c *domain.ClassificationResult, tenant *domain.Tenant, property *domain.Property) string {
	if c == nil {
		c = &domain.ClassificationResult{Category: category}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Responding to a '%s'.\n", category)

	if tenant != nil {
		unit := tenant.Unit
		if unit == "" {
			unit = "N/A"
		}
		fmt.Fprintf(&b, "Tenant: %s (Email: %s, Unit: %s).\n", tenant.Name, tenant.Email, unit)
		if property != nil {
			fmt.Fprintf(&b, "Property: %s.\n", property.Address)
		} else {
			b.WriteString("Property: not on file.\n")
		}
	} else {
		b.WriteString("Sender not currently identified as a tenant in our system. ")
		b.WriteString("Their name is unknown: ask them for their full name, property address and unit number.\n")
	}

	switch category {
	case domain.CategoryMaintenanceRequest:
		issue := "Not specified"
		if c.IssueSummary != nil {
			issue = *c.IssueSummary
		}
		fmt.Fprintf(&b, "Issue reported: %s.\n", issue)
		fmt.Fprintf(&b, "Urgency assessed as: %s.\n", c.UrgencyOr(domain.UrgencyNormal))
		if c.MaintenanceTicketID != nil {
			fmt.Fprintf(&b, "Maintenance Ticket ID: %s has been created.\n", *c.MaintenanceTicketID)
		} else {
			b.WriteString("We are processing this request.\n")
		}
	case domain.CategoryRentInquiry:
		if tenant != nil {
			fmt.Fprintf(&b, "Current rent: $%.2f, Balance: $%.2f.\n", tenant.Rent, tenant.Balance)
		}
	case domain.CategoryLockoutEmergency:
		b.WriteString("Lockout/emergency situation reported. Direct the sender to the emergency maintenance line and provide emergency contact guidance.\n")
	case domain.CategoryLeaseQuestion:
		b.WriteString("Lease inquiry. Provide lease details or request more info if needed.\n")
	case domain.CategoryGeneralInquiry:
		b.WriteString("General inquiry. Respond politely and request more info if needed.\n")
	case domain.CategorySpam:
		b.WriteString("This email appears to be spam.\n")
	case domain.CategoryUnknownFormat:
		b.WriteString("The request could not be categorized automatically. Acknowledge receipt and ask for more details.\n")
	default:
		b.WriteString("Other/unknown category.\n")
	}
	return b.String()
}

func (r *Responder) buildPrompt(facts string, email *domain.InboundEmail) string {
	return fmt.Sprintf(`You are 'Secretary', an AI assistant for a property management company.
Craft a polite, professional, and helpful email response based on the following information.
Do not include a greeting or a signature; they are added separately.
Never use placeholders such as [Name] or [Address]. If a detail is unknown, ask the sender for it.

Context:
%s
Original Email Subject: %s
Original Email Body Snippet (for reference):
%s

Task: Write the response email body. If necessary information to fully address the query is missing, politely request the missing details.`,
		facts, email.Subject, truncateBody(email.Body, bodySnippetLen))
}

// FormatEmail joins greeting, body and signature with blank lines.
func FormatEmail(recipientName, body, signature string) string {
	name := strings.TrimSpace(recipientName)
	if name == "" {
		name = fallbackGreeting
	}
	return strings.Join([]string{
		"Dear " + name + ",",
		strings.TrimSpace(body),
		strings.TrimSpace(signature),
	}, "\n\n")
}

// placeholderPattern matches template tokens built from known words, e.g.
// [Name], [Your Name], [Tenant's Address], [Phone Number]. Bracketed facts
// such as [Unit 3B] do not match.
var placeholderPattern = regexp.MustCompile(
	` ?\[\s*(?i:(?:(?:your|insert|enter|tenant|user|recipient|sender|landlord|manager|company|property|building|full|first|last|email|phone|contact|unit|today)(?:['’]s)?\s+){0,2}` +
		`(?:name|address|email|phone|number|information|info|details|unit|date|time|title|position|signature|amount|company|tenant|landlord|property|recipient|sender))\s*\]`)

// StripPlaceholders removes template tokens such as [Name] together with one
// leading space. Markdown link text ([text](url)) is kept.
func StripPlaceholders(text string) string {
	matches := placeholderPattern.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return text
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		if m[1] < len(text) && text[m[1]] == '(' {
			continue
		}
		b.WriteString(text[last:m[0]])
		last = m[1]
	}
	b.WriteString(text[last:])
	return b.String()
}
