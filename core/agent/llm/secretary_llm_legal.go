package llm

import (
	"context"
	"fmt"

	"secretary_server/core/domain"
	"secretary_server/core/port/out"
)

const (
	legalExtractTemperature = 0.1
	legalWriteTemperature   = 0.4

	DefaultMaxDocumentChars = 4000
)

// LegalAnalyst runs the document prompts: metadata extraction and the
// three derived operations. Every prompt sees the same bounded prefix.
type LegalAnalyst struct {
	llm      out.LLMService
	maxChars int
}

func NewLegalAnalyst(llm out.LLMService, maxChars int) *LegalAnalyst {
	if maxChars <= 0 {
		maxChars = DefaultMaxDocumentChars
	}
	return &LegalAnalyst{llm: llm, maxChars: maxChars}
}

// ExtractMetadata returns EXTRACTION_PARSE when the reply holds no usable
// JSON object and LLM_SERVICE_ERROR on transport failure.
func (a *LegalAnalyst) ExtractMetadata(ctx context.Context, text string) (*domain.LegalMetadata, error) {
	prompt := fmt.Sprintf(`You are a paralegal assistant. Read the court document below and extract:
- document_type (e.g. Motion, Order, Complaint, Notice)
- case_number
- court
- parties (list of party names)
- event_dates (list of ISO 8601 timestamps for hearings, deadlines or other scheduled events)
Respond with a single JSON object using exactly those keys. Use null or an empty list when a value is not present.

Document:
%s`, truncateText(text, a.maxChars))

	reply, err := a.llm.Complete(ctx, prompt, legalExtractTemperature)
	if err != nil {
		return nil, asLLMError(err)
	}
	return ParseLegalMetadata(reply.Text)
}

func (a *LegalAnalyst) Summarize(ctx context.Context, text string) (string, error) {
	prompt := fmt.Sprintf(`Summarize the following legal document for a busy attorney.
Cover the document type, the parties, what is being requested or ordered, and every deadline or hearing date.

Document:
%s`, truncateText(text, a.maxChars))
	return a.write(ctx, prompt)
}

func (a *LegalAnalyst) AnswerQuestion(ctx context.Context, text, question string) (string, error) {
	prompt := fmt.Sprintf(`Answer the question using only the legal document below. If the document does not contain the answer, say so.

Question: %s

Document:
%s`, question, truncateText(text, a.maxChars))
	return a.write(ctx, prompt)
}

func (a *LegalAnalyst) ArgueForParty(ctx context.Context, text, party string) (string, error) {
	prompt := fmt.Sprintf(`You are advising %s. Based on the legal document below, outline the strongest arguments in their favour,
the main risks they face, and the next procedural steps they should take.

Document:
%s`, party, truncateText(text, a.maxChars))
	return a.write(ctx, prompt)
}

func (a *LegalAnalyst) write(ctx context.Context, prompt string) (string, error) {
	reply, err := a.llm.Complete(ctx, prompt, legalWriteTemperature)
	if err != nil {
		return "", asLLMError(err)
	}
	return reply.Text, nil
}
