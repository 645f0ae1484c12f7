package llm

import (
	"context"
	"fmt"
	"strings"

	"secretary_server/core/domain"
	"secretary_server/core/port/out"
)

const classificationTemperature = 0.2

// Hints is known sender context passed to the classifier.
type Hints struct {
	TenantName      string
	PropertyAddress string
}

// HintsFor builds hints from whatever records were resolved.
func HintsFor(tenant *domain.Tenant, property *domain.Property) Hints {
	var h Hints
	if tenant != nil {
		h.TenantName = tenant.Name
	}
	if property != nil {
		h.PropertyAddress = property.Address
	}
	return h
}

// Extractor classifies inbound email and extracts the triage fields.
type Extractor struct {
	llm         out.LLMService
	temperature float64
}

func NewExtractor(llm out.LLMService) *Extractor {
	return &Extractor{llm: llm, temperature: classificationTemperature}
}

// Classify returns the parsed result, or the unknown_format sentinel when the
// model reply is not JSON. Only transport failures are returned as errors.
func (e *Extractor) Classify(ctx context.Context, subject, body string, hints Hints) (*domain.ClassificationResult, error) {
	reply, err := e.llm.Complete(ctx, buildClassificationPrompt(subject, body, hints), e.temperature)
	if err != nil {
		return nil, asLLMError(err)
	}
	return ParseClassification(reply.Text), nil
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Unknown"
	}
	return s
}

func buildClassificationPrompt(subject, body string, hints Hints) string {
	labels := make([]string, 0, len(domain.Categories()))
	for _, c := range domain.Categories() {
		labels = append(labels, "'"+string(c)+"'")
	}

	var b strings.Builder
	b.WriteString("You are an AI assistant for a property management company. Analyze the following email and categorize it.\n")
	fmt.Fprintf(&b, "Email Subject: %s\n", subject)
	fmt.Fprintf(&b, "Email Body:\n%s\n\n", body)
	fmt.Fprintf(&b, "Known Tenant: %s\n", orUnknown(hints.TenantName))
	fmt.Fprintf(&b, "Known Property Address: %s\n\n", orUnknown(hints.PropertyAddress))
	fmt.Fprintf(&b, "Categorize into ONE of the following: %s.\n", strings.Join(labels, ", "))
	b.WriteString(`Also extract key information:
 - 'extracted_issue_summary' (for maintenance, a brief summary of the problem)
 - 'urgency' ('low', 'normal', 'high', 'emergency')
 - 'tenant_name_mentioned' (if different from known sender)
 - 'property_address_mentioned' (if any specific address is in the email)
 - 'unit_mentioned' (e.g., Apt 3B)
Respond with a JSON object with keys: 'category', 'extracted_issue_summary', 'urgency', 'tenant_name_mentioned', 'property_address_mentioned', 'unit_mentioned'.
If a field is not applicable or found, use null for its value.`)
	return b.String()
}
