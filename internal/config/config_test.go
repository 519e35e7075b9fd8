//-------------------------------------------------------------------------
//
// RAG Chat Server
//
// Copyright (c) 2026, the RAG Chat Server authors
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeConfig writes a YAML config to a temp file and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ConfigFileName)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

const validConfig = `
server:
  listen_address: 0.0.0.0
  port: 8080
pipelines:
  - name: docs-chat
    description: Documentation assistant
    index:
      backend: opensearch
      endpoint: https://search.example.com
      index: docs
    chat_llm:
      provider: openai
      model: gpt-4o-mini
    max_prompt_tokens: 2000
    top_k: 8
`

const minimalConfig = `
pipelines:
  - name: minimal
    index:
      backend: opensearch
      endpoint: https://search.example.com
      index: docs
    chat_llm:
      provider: ollama
`

func TestLoad_ValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("failed to load valid config: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Server.ListenAddress != "0.0.0.0" {
		t.Errorf("expected listen address 0.0.0.0, got %s", cfg.Server.ListenAddress)
	}

	if len(cfg.Pipelines) != 1 {
		t.Fatalf("expected 1 pipeline, got %d", len(cfg.Pipelines))
	}

	p := cfg.Pipelines[0]
	if p.Name != "docs-chat" {
		t.Errorf("expected pipeline name 'docs-chat', got '%s'", p.Name)
	}
	if p.MaxPromptTokens != 2000 {
		t.Errorf("expected max_prompt_tokens 2000, got %d", p.MaxPromptTokens)
	}
	if p.TopK != 8 {
		t.Errorf("expected top_k 8, got %d", p.TopK)
	}
}

func TestLoad_MinimalConfigAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("failed to load minimal config: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}

	p := cfg.Pipelines[0]
	if p.MaxPromptTokens != 4000 {
		t.Errorf("expected default max_prompt_tokens 4000, got %d", p.MaxPromptTokens)
	}
	if p.ExcerptBudget != 0.6 {
		t.Errorf("expected default excerpt_budget 0.6, got %f", p.ExcerptBudget)
	}
	if p.TopK != 5 {
		t.Errorf("expected default top_k 5, got %d", p.TopK)
	}
	if p.HistoryTurns != 20 {
		t.Errorf("expected default history_turns 20, got %d", p.HistoryTurns)
	}
	if p.Sessions.Backend != "memory" {
		t.Errorf("expected default session backend 'memory', got '%s'", p.Sessions.Backend)
	}
	if p.Index.Database.Port != 5432 {
		t.Errorf("expected default database port 5432, got %d", p.Index.Database.Port)
	}
	if p.Index.Database.SSLMode != "prefer" {
		t.Errorf("expected default ssl_mode 'prefer', got '%s'", p.Index.Database.SSLMode)
	}
}

func TestLoad_InvalidConfigs(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		errContains string
	}{
		{
			name:        "no pipelines",
			content:     "server:\n  port: 8080\n",
			errContains: "at least one pipeline",
		},
		{
			name: "invalid port",
			content: `
server:
  port: 99999
pipelines:
  - name: p
    index: {backend: opensearch, endpoint: "https://x", index: docs}
    chat_llm: {provider: openai}
`,
			errContains: "server.port",
		},
		{
			name: "duplicate name",
			content: `
pipelines:
  - name: p
    index: {backend: opensearch, endpoint: "https://x", index: docs}
    chat_llm: {provider: openai}
  - name: p
    index: {backend: opensearch, endpoint: "https://x", index: docs}
    chat_llm: {provider: openai}
`,
			errContains: "duplicate pipeline name",
		},
		{
			name: "unknown index backend",
			content: `
pipelines:
  - name: p
    index: {backend: elastic}
    chat_llm: {provider: openai}
`,
			errContains: "unknown backend",
		},
		{
			name: "unknown chat provider",
			content: `
pipelines:
  - name: p
    index: {backend: opensearch, endpoint: "https://x", index: docs}
    chat_llm: {provider: bedrock}
`,
			errContains: "unknown provider",
		},
		{
			name: "vector column without embedder",
			content: `
pipelines:
  - name: p
    index:
      backend: postgres
      database: {host: localhost, database: docs}
      table: {table: chunks, text_column: content, vector_column: embedding}
    chat_llm: {provider: openai}
`,
			errContains: "embedding_llm.provider",
		},
		{
			name: "temperature out of range",
			content: `
pipelines:
  - name: p
    index: {backend: opensearch, endpoint: "https://x", index: docs}
    chat_llm: {provider: openai}
    model_params: {temperature: 1.5}
`,
			errContains: "temperature",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Error("expected error, got nil")
				return
			}
			if !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("expected error containing '%s', got '%s'",
					tt.errContains, err.Error())
			}
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Defaults.MaxPromptTokens != 4000 {
		t.Errorf("expected default max_prompt_tokens 4000, got %d",
			cfg.Defaults.MaxPromptTokens)
	}
	if cfg.Defaults.ExcerptBudget != 0.6 {
		t.Errorf("expected default excerpt_budget 0.6, got %f",
			cfg.Defaults.ExcerptBudget)
	}
}

func TestAPIKeyLoader_EnvVar(t *testing.T) {
	t.Setenv(EnvOpenAIAPIKey, "sk-test-key")

	loader := NewAPIKeyLoader(APIKeysConfig{})
	key, err := loader.LoadOpenAIKey()
	if err != nil {
		t.Fatalf("failed to load key: %v", err)
	}
	if key != "sk-test-key" {
		t.Errorf("expected 'sk-test-key', got '%s'", key)
	}
}

func TestAPIKeyLoader_FileOverridesEnv(t *testing.T) {
	t.Setenv(EnvAnthropicAPIKey, "env-key")

	path := filepath.Join(t.TempDir(), "anthropic-key")
	if err := os.WriteFile(path, []byte("file-key\n"), 0o600); err != nil {
		t.Fatalf("failed to write key file: %v", err)
	}

	loader := NewAPIKeyLoader(APIKeysConfig{Anthropic: path})
	key, err := loader.LoadAnthropicKey()
	if err != nil {
		t.Fatalf("failed to load key: %v", err)
	}
	if key != "file-key" {
		t.Errorf("expected 'file-key', got '%s'", key)
	}
}

func TestAPIKeyLoader_EmptyKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voyage-key")
	if err := os.WriteFile(path, []byte("  \n"), 0o600); err != nil {
		t.Fatalf("failed to write key file: %v", err)
	}

	loader := NewAPIKeyLoader(APIKeysConfig{Voyage: path})
	if _, err := loader.LoadVoyageKey(); err == nil {
		t.Error("expected error for empty key file")
	}
}

func TestLoadKeysForPipeline_OllamaNeedsNoKey(t *testing.T) {
	loader := NewAPIKeyLoader(APIKeysConfig{})
	keys, err := loader.LoadKeysForPipeline(Pipeline{
		ChatLLM:      LLMConfig{Provider: "ollama"},
		EmbeddingLLM: LLMConfig{Provider: "ollama"},
	})
	if err != nil {
		t.Fatalf("expected no error for ollama-only pipeline, got %v", err)
	}
	if keys.Anthropic != "" || keys.OpenAI != "" || keys.Voyage != "" {
		t.Error("expected no keys loaded for ollama-only pipeline")
	}
}
