package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"secretary_server/core/domain"
	"secretary_server/core/port/out"
	"secretary_server/pkg/apperr"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"

	DefaultOpenAIModel = "gpt-4o-mini"
	DefaultGeminiModel = "gemini-2.0-flash"
)

// ProviderConfig selects and configures the model vendor.
type ProviderConfig struct {
	Provider   string
	APIKey     string
	Model      string
	MaxTokens  int
	RatePerSec float64
	Burst      int
	Logger     zerolog.Logger
}

// NewService builds the configured vendor client wrapped in a circuit breaker
// and rate limiter.
func NewService(ctx context.Context, cfg ProviderConfig) (out.LLMService, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, apperr.ConfigError(fmt.Sprintf("%s api key is required", cfg.Provider))
	}

	var vendor out.LLMService
	switch cfg.Provider {
	case ProviderOpenAI:
		vendor = NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.MaxTokens)
	case ProviderGemini:
		g, err := NewGeminiClient(ctx, cfg.APIKey, cfg.Model, cfg.MaxTokens)
		if err != nil {
			return nil, err
		}
		vendor = g
	default:
		return nil, apperr.ConfigError(fmt.Sprintf("unsupported llm provider %q", cfg.Provider))
	}

	var limiter *rate.Limiter
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return NewGuarded(cfg.Provider, vendor, limiter, cfg.Logger), nil
}

// =============================================================================
// OpenAI
// =============================================================================

type OpenAIClient struct {
	client    *openai.Client
	model     string
	maxTokens int
}

func NewOpenAIClient(apiKey, model string, maxTokens int) *OpenAIClient {
	if model == "" {
		model = DefaultOpenAIModel
	}
	if maxTokens == 0 {
		maxTokens = 2048
	}
	return &OpenAIClient{
		client:    openai.NewClient(apiKey),
		model:     model,
		maxTokens: maxTokens,
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, prompt string, temperature float64) (domain.ModelReply, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		MaxTokens:   c.maxTokens,
		Temperature: float32(temperature),
	})
	if err != nil {
		return domain.ModelReply{}, llmError(ProviderOpenAI, err, openAIStatus(err))
	}
	if len(resp.Choices) == 0 {
		return domain.ModelReply{}, nil
	}
	return domain.ModelReply{Text: resp.Choices[0].Message.Content}, nil
}

func openAIStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// =============================================================================
// Gemini
// =============================================================================

type GeminiClient struct {
	client    *genai.Client
	model     string
	maxTokens int32
}

func NewGeminiClient(ctx context.Context, apiKey, model string, maxTokens int) (*GeminiClient, error) {
	if model == "" {
		model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  strings.TrimSpace(apiKey),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, apperr.ConfigError(fmt.Sprintf("gemini client: %v", err))
	}
	return &GeminiClient{client: client, model: model, maxTokens: int32(maxTokens)}, nil
}

func (c *GeminiClient) Complete(ctx context.Context, prompt string, temperature float64) (domain.ModelReply, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:    genai.Ptr(float32(temperature)),
		CandidateCount: 1,
	}
	if c.maxTokens > 0 {
		cfg.MaxOutputTokens = c.maxTokens
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), cfg)
	if err != nil {
		return domain.ModelReply{}, llmError(ProviderGemini, err, geminiStatus(err))
	}
	if resp == nil {
		return domain.ModelReply{}, nil
	}
	return domain.ModelReply{Text: resp.Text()}, nil
}

func geminiStatus(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}

// =============================================================================
// Guarded: rate limit + circuit breaker
// =============================================================================

// Guarded protects a vendor client with a rate limiter and a circuit breaker.
type Guarded struct {
	provider string
	next     out.LLMService
	limiter  *rate.Limiter
	cb       *gobreaker.CircuitBreaker
}

func NewGuarded(provider string, next out.LLMService, limiter *rate.Limiter, log zerolog.Logger) *Guarded {
	settings := gobreaker.Settings{
		Name:        "llm-" + provider,
		MaxRequests: 3,                // Half-open 상태에서 허용할 요청 수
		Interval:    60 * time.Second, // Closed 상태에서 카운터 리셋 간격
		Timeout:     30 * time.Second, // Open 상태 유지 시간
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		// 4xx (except 408/429) means our request was bad, not that the vendor is down.
		IsSuccessful: func(err error) bool {
			return err == nil || !tripsBreaker(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	}
	return &Guarded{
		provider: provider,
		next:     next,
		limiter:  limiter,
		cb:       gobreaker.NewCircuitBreaker(settings),
	}
}

func (g *Guarded) Complete(ctx context.Context, prompt string, temperature float64) (domain.ModelReply, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return domain.ModelReply{}, apperr.LLMServiceError(g.provider, err)
		}
	}

	res, err := g.cb.Execute(func() (interface{}, error) {
		return g.next.Complete(ctx, prompt, temperature)
	})
	if err != nil {
		if apperr.IsLLMServiceError(err) {
			return domain.ModelReply{}, err
		}
		return domain.ModelReply{}, apperr.LLMServiceError(g.provider, err)
	}
	reply, _ := res.(domain.ModelReply)
	return reply, nil
}

// State exposes the breaker state for health reporting.
func (g *Guarded) State() string {
	return g.cb.State().String()
}

func llmError(provider string, err error, status int) error {
	e := apperr.LLMServiceError(provider, err)
	if status != 0 {
		e.WithDetail("status", status)
	}
	return e
}

func tripsBreaker(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	appErr := apperr.AsAppError(err)
	status, _ := appErr.Details["status"].(int)
	if status >= 400 && status < 500 {
		return status == http.StatusRequestTimeout || status == http.StatusTooManyRequests
	}
	return true
}

// asLLMError keeps LLM_SERVICE_ERROR intact and wraps anything else from the port.
func asLLMError(err error) error {
	if apperr.IsLLMServiceError(err) {
		return err
	}
	return apperr.LLMServiceError("llm", err)
}
