package bootstrap

import (
	"context"
	"testing"
	"time"

	"secretary_server/config"
	"secretary_server/core/agent/llm"
	"secretary_server/core/domain"
)

func TestLLMConfigSelectsProviderKey(t *testing.T) {
	cfg := &config.Config{
		LLMProvider:  llm.ProviderOpenAI,
		OpenAIAPIKey: "sk-openai",
		OpenAIModel:  "gpt-4o-mini",
		GeminiAPIKey: "g-key",
		GeminiModel:  "gemini-2.0-flash",
	}
	pc := llmConfig(cfg)
	if pc.APIKey != "sk-openai" || pc.Model != "gpt-4o-mini" {
		t.Errorf("openai: got %+v", pc)
	}

	cfg.LLMProvider = llm.ProviderGemini
	pc = llmConfig(cfg)
	if pc.APIKey != "g-key" || pc.Model != "gemini-2.0-flash" {
		t.Errorf("gemini: got %+v", pc)
	}
}

func TestToDomainProfiles(t *testing.T) {
	got := toDomainProfiles([]config.MailboxProfile{{Name: "office", UserID: "u1", Provider: "gmail", Query: "is:unread", MaxMessages: 5}})
	want := domain.MailboxProfile{Name: "office", UserID: "u1", Provider: "gmail", Query: "is:unread", MaxMessages: 5}
	if len(got) != 1 || got[0] != want {
		t.Errorf("got %+v", got)
	}
}

type slowLLM struct{}

func (slowLLM) Complete(ctx context.Context, _ string, _ float64) (domain.ModelReply, error) {
	<-ctx.Done()
	return domain.ModelReply{}, ctx.Err()
}

func TestWithTimeoutBoundsCompletion(t *testing.T) {
	svc := withTimeout(slowLLM{}, 10*time.Millisecond)
	start := time.Now()
	if _, err := svc.Complete(context.Background(), "p", 0); err == nil {
		t.Fatal("expected deadline error")
	}
	if time.Since(start) > time.Second {
		t.Error("completion was not bounded")
	}
}
