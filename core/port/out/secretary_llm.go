package out

import (
	"context"

	"secretary_server/core/domain"
)

// LLMService 모델 호출 포트. Implementations normalize vendor replies into
// domain.ModelReply and report transport failures as apperr LLM_SERVICE_ERROR.
type LLMService interface {
	Complete(ctx context.Context, prompt string, temperature float64) (domain.ModelReply, error)
}

// LLMServiceFunc adapts a plain function to LLMService.
type LLMServiceFunc func(ctx context.Context, prompt string, temperature float64) (domain.ModelReply, error)

func (f LLMServiceFunc) Complete(ctx context.Context, prompt string, temperature float64) (domain.ModelReply, error) {
	return f(ctx, prompt, temperature)
}
