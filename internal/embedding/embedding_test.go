package embedding

import (
	"testing"

	"github.com/jManniCode/finans-ai/internal/config"
)

func TestNewFromConfigSelectsProvider(t *testing.T) {
	ollamaCfg := &config.LLMConfig{
		Provider: config.ProviderOllama,
		BaseURL:  "http://localhost:11434",
		Model:    "nomic-embed-text",
	}
	if _, err := NewFromConfig(ollamaCfg); err != nil {
		t.Fatalf("ollama provider: %v", err)
	}

	openaiCfg := &config.LLMConfig{
		Provider: config.ProviderOpenAI,
		BaseURL:  "https://openrouter.ai/api/v1",
		Key:      "test-key",
		Model:    "text-embedding-3-small",
	}
	if _, err := NewFromConfig(openaiCfg); err != nil {
		t.Fatalf("openai provider: %v", err)
	}

	// An empty provider falls back to the OpenAI-compatible client.
	openaiCfg.Provider = ""
	if _, err := NewFromConfig(openaiCfg); err != nil {
		t.Fatalf("default provider: %v", err)
	}
}

func TestNewFromConfigRejectsUnknownProvider(t *testing.T) {
	cfg := &config.LLMConfig{Provider: "bedrock", BaseURL: "http://x", Model: "m"}
	if _, err := NewFromConfig(cfg); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
