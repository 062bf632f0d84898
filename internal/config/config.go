package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Supported LLM providers.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// LLMConfig points at one embedding or chat endpoint. Provider selects the
// client: "openai" (the default, covers any OpenAI-compatible endpoint such
// as OpenRouter) or "ollama" for a local ollama server. Key may be left
// empty and resolved from KeyEnv.
type LLMConfig struct {
	Provider    string `yaml:"provider"`
	BaseURL     string `yaml:"base_url"`
	Key         string `yaml:"key"`
	KeyEnv      string `yaml:"key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

type RAGConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
	TopK         int `yaml:"top_k"`
}

type Config struct {
	Server   ServerConfig  `yaml:"server"`
	Storage  StorageConfig `yaml:"storage"`
	RAG      RAGConfig     `yaml:"rag"`
	EmbedLLM LLMConfig     `yaml:"embed_llm"`
	ChatLLM  LLMConfig     `yaml:"chat_llm"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	applyDefaults(&cfg)
	resolveKeys(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8000"
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "./data"
	}
	if cfg.RAG.ChunkSize == 0 {
		cfg.RAG.ChunkSize = 1000
	}
	if cfg.RAG.ChunkOverlap == 0 {
		cfg.RAG.ChunkOverlap = 200
	}
	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = 5
	}
	if cfg.EmbedLLM.Provider == "" {
		cfg.EmbedLLM.Provider = ProviderOpenAI
	}
	if cfg.ChatLLM.Provider == "" {
		cfg.ChatLLM.Provider = ProviderOpenAI
	}
	if cfg.EmbedLLM.TimeoutSecs == 0 {
		cfg.EmbedLLM.TimeoutSecs = 60
	}
	if cfg.ChatLLM.TimeoutSecs == 0 {
		cfg.ChatLLM.TimeoutSecs = 120
	}
	if cfg.EmbedLLM.KeyEnv == "" {
		cfg.EmbedLLM.KeyEnv = "OPENROUTER_API_KEY"
	}
	if cfg.ChatLLM.KeyEnv == "" {
		cfg.ChatLLM.KeyEnv = "OPENROUTER_API_KEY"
	}
}

func resolveKeys(cfg *Config) {
	if cfg.EmbedLLM.Key == "" {
		cfg.EmbedLLM.Key = os.Getenv(cfg.EmbedLLM.KeyEnv)
	}
	if cfg.ChatLLM.Key == "" {
		cfg.ChatLLM.Key = os.Getenv(cfg.ChatLLM.KeyEnv)
	}
}
