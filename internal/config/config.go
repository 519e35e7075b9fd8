//-------------------------------------------------------------------------
//
// RAG Chat Server
//
// Copyright (c) 2026, the RAG Chat Server authors
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package config handles configuration loading and validation for the
// RAG Chat Server.
package config

// Config is the root configuration structure for the server.
type Config struct {
	Server    ServerConfig  `yaml:"server"`
	APIKeys   APIKeysConfig `yaml:"api_keys"`
	Defaults  Defaults      `yaml:"defaults"`
	Pipelines []Pipeline    `yaml:"pipelines"`
}

// APIKeysConfig contains paths to files containing API keys for LLM providers.
// If not specified, keys are loaded from environment variables or default
// file locations (~/.anthropic-api-key, ~/.openai-api-key, ~/.voyage-api-key).
type APIKeysConfig struct {
	Anthropic string `yaml:"anthropic"` // Path to file containing Anthropic API key
	OpenAI    string `yaml:"openai"`    // Path to file containing OpenAI API key
	Voyage    string `yaml:"voyage"`    // Path to file containing Voyage API key
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	ListenAddress string     `yaml:"listen_address"`
	Port          int        `yaml:"port"`
	TLS           TLSConfig  `yaml:"tls"`
	CORS          CORSConfig `yaml:"cors"`
}

// CORSConfig contains CORS (Cross-Origin Resource Sharing) settings.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"` // Origins to allow, or ["*"] for all
}

// TLSConfig contains TLS/HTTPS settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Defaults contains default values that can be overridden per-pipeline.
type Defaults struct {
	MaxPromptTokens int           `yaml:"max_prompt_tokens"`
	ExcerptBudget   float64       `yaml:"excerpt_budget"` // Fraction of the prompt budget reserved for excerpts
	TopK            int           `yaml:"top_k"`
	HistoryTurns    int           `yaml:"history_turns"`
	TurnTimeout     int           `yaml:"turn_timeout_seconds"`
	ChatLLM         LLMConfig     `yaml:"chat_llm"`      // Default completion provider
	EmbeddingLLM    LLMConfig     `yaml:"embedding_llm"` // Default embedding provider
	APIKeys         APIKeysConfig `yaml:"api_keys"`      // Default API key paths
}

// Pipeline defines a single conversational RAG pipeline configuration.
type Pipeline struct {
	Name            string         `yaml:"name"`
	Description     string         `yaml:"description"`
	Index           IndexConfig    `yaml:"index"`
	Sessions        SessionsConfig `yaml:"sessions"`
	ChatLLM         LLMConfig      `yaml:"chat_llm"`
	EmbeddingLLM    LLMConfig      `yaml:"embedding_llm"`
	APIKeys         APIKeysConfig  `yaml:"api_keys"` // Pipeline-specific API key paths
	MaxPromptTokens int            `yaml:"max_prompt_tokens"`
	ExcerptBudget   float64        `yaml:"excerpt_budget"`
	TopK            int            `yaml:"top_k"`
	HistoryTurns    int            `yaml:"history_turns"`
	TurnTimeout     int            `yaml:"turn_timeout_seconds"`
	SystemPrompt    string         `yaml:"system_prompt"` // Custom system prompt for the LLM
	ModelParams     ModelParams    `yaml:"model_params"`  // Default sampling parameters
}

// ModelParams contains sampling parameters passed to the completion provider.
type ModelParams struct {
	Temperature     *float64 `yaml:"temperature"`       // 0.0 - 1.0; nil uses the provider default
	MaxOutputTokens int      `yaml:"max_output_tokens"` // Cap on generated length
	StopSequences   []string `yaml:"stop_sequences"`    // Strings terminating generation early
}

// IndexConfig selects and configures the document index backend.
type IndexConfig struct {
	Backend string `yaml:"backend"` // "opensearch" or "postgres"

	// OpenSearch-compatible REST backend
	Endpoint string `yaml:"endpoint"`
	Index    string `yaml:"index"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Postgres backend
	Database   DatabaseConfig `yaml:"database"`
	Table      TableSource    `yaml:"table"`
	TextSearch *bool          `yaml:"text_search"` // Enable the lexical leg of hybrid search (default: true)
}

// SessionsConfig selects and configures the conversation state backend.
type SessionsConfig struct {
	Backend  string         `yaml:"backend"` // "memory" (default) or "postgres"
	Database DatabaseConfig `yaml:"database"`
}

// DatabaseConfig contains PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`

	// Certificate-based authentication
	SSLCert   string `yaml:"ssl_cert"`
	SSLKey    string `yaml:"ssl_key"`
	SSLRootCA string `yaml:"ssl_root_ca"`
}

// TableSource defines the table holding indexed documents for the
// Postgres index backend.
type TableSource struct {
	Table        string `yaml:"table"`
	TextColumn   string `yaml:"text_column"`
	VectorColumn string `yaml:"vector_column"`
	SourceColumn string `yaml:"source_column"` // Column holding the document URI or title
}

// LLMConfig contains settings for an LLM provider.
type LLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// TextSearchEnabled reports whether the lexical leg of hybrid search is
// enabled for the Postgres backend.
func (ic IndexConfig) TextSearchEnabled() bool {
	if ic.TextSearch == nil {
		return true
	}
	return *ic.TextSearch
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress: "0.0.0.0",
			Port:          8080,
			TLS: TLSConfig{
				Enabled: false,
			},
		},
		Defaults: Defaults{
			MaxPromptTokens: 4000,
			ExcerptBudget:   0.6,
			TopK:            5,
			HistoryTurns:    20,
			TurnTimeout:     60,
		},
	}
}
