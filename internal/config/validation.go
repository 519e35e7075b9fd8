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
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Known provider names for completion and embedding LLMs.
var (
	completionProviders = map[string]bool{
		"openai":    true,
		"anthropic": true,
		"ollama":    true,
	}
	embeddingProviders = map[string]bool{
		"openai": true,
		"ollama": true,
		"voyage": true,
	}
	indexBackends = map[string]bool{
		"opensearch": true,
		"postgres":   true,
	}
	sessionBackends = map[string]bool{
		"memory":   true,
		"postgres": true,
	}
)

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// ValidationError represents a single configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}

	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration for errors and returns all validation
// errors found.
func (c *Config) Validate() error {
	var errs ValidationErrors

	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validatePipelines()...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// validateServer validates server configuration.
func (c *Config) validateServer() ValidationErrors {
	var errs ValidationErrors

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "server.port",
			Message: "must be between 1 and 65535",
		})
	}

	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" {
			errs = append(errs, ValidationError{
				Field:   "server.tls.cert_file",
				Message: "required when TLS is enabled",
			})
		} else if _, err := os.Stat(expandPath(c.Server.TLS.CertFile)); err != nil {
			errs = append(errs, ValidationError{
				Field:   "server.tls.cert_file",
				Message: fmt.Sprintf("file not found: %s", c.Server.TLS.CertFile),
			})
		}

		if c.Server.TLS.KeyFile == "" {
			errs = append(errs, ValidationError{
				Field:   "server.tls.key_file",
				Message: "required when TLS is enabled",
			})
		} else if _, err := os.Stat(expandPath(c.Server.TLS.KeyFile)); err != nil {
			errs = append(errs, ValidationError{
				Field:   "server.tls.key_file",
				Message: fmt.Sprintf("file not found: %s", c.Server.TLS.KeyFile),
			})
		}
	}

	return errs
}

// validatePipelines validates all pipeline configurations.
func (c *Config) validatePipelines() ValidationErrors {
	var errs ValidationErrors

	if len(c.Pipelines) == 0 {
		errs = append(errs, ValidationError{
			Field:   "pipelines",
			Message: "at least one pipeline is required",
		})
		return errs
	}

	seen := make(map[string]bool)
	for i, p := range c.Pipelines {
		prefix := fmt.Sprintf("pipelines[%d]", i)

		if p.Name == "" {
			errs = append(errs, ValidationError{
				Field:   prefix + ".name",
				Message: "name is required",
			})
		} else if seen[p.Name] {
			errs = append(errs, ValidationError{
				Field:   prefix + ".name",
				Message: fmt.Sprintf("duplicate pipeline name: %s", p.Name),
			})
		}
		seen[p.Name] = true

		errs = append(errs, p.validateIndex(prefix)...)
		errs = append(errs, p.validateSessions(prefix)...)
		errs = append(errs, p.validateLLMs(prefix)...)
		errs = append(errs, p.validateBudgets(prefix)...)
	}

	return errs
}

// validateIndex validates the index backend configuration.
func (p Pipeline) validateIndex(prefix string) ValidationErrors {
	var errs ValidationErrors

	if p.Index.Backend == "" {
		errs = append(errs, ValidationError{
			Field:   prefix + ".index.backend",
			Message: "backend is required",
		})
		return errs
	}

	if !indexBackends[strings.ToLower(p.Index.Backend)] {
		errs = append(errs, ValidationError{
			Field:   prefix + ".index.backend",
			Message: fmt.Sprintf("unknown backend: %s", p.Index.Backend),
		})
		return errs
	}

	switch strings.ToLower(p.Index.Backend) {
	case "opensearch":
		if p.Index.Endpoint == "" {
			errs = append(errs, ValidationError{
				Field:   prefix + ".index.endpoint",
				Message: "required for the opensearch backend",
			})
		}
		if p.Index.Index == "" {
			errs = append(errs, ValidationError{
				Field:   prefix + ".index.index",
				Message: "required for the opensearch backend",
			})
		}
	case "postgres":
		if p.Index.Database.Host == "" {
			errs = append(errs, ValidationError{
				Field:   prefix + ".index.database.host",
				Message: "required for the postgres backend",
			})
		}
		if p.Index.Table.Table == "" {
			errs = append(errs, ValidationError{
				Field:   prefix + ".index.table.table",
				Message: "required for the postgres backend",
			})
		}
		if p.Index.Table.TextColumn == "" {
			errs = append(errs, ValidationError{
				Field:   prefix + ".index.table.text_column",
				Message: "required for the postgres backend",
			})
		}
		// Vector search requires an embedding provider for query embedding
		if p.Index.Table.VectorColumn != "" && p.EmbeddingLLM.Provider == "" {
			errs = append(errs, ValidationError{
				Field:   prefix + ".embedding_llm.provider",
				Message: "required when index.table.vector_column is set",
			})
		}
	}

	return errs
}

// validateSessions validates the session backend configuration.
func (p Pipeline) validateSessions(prefix string) ValidationErrors {
	var errs ValidationErrors

	if p.Sessions.Backend != "" && !sessionBackends[strings.ToLower(p.Sessions.Backend)] {
		errs = append(errs, ValidationError{
			Field:   prefix + ".sessions.backend",
			Message: fmt.Sprintf("unknown backend: %s", p.Sessions.Backend),
		})
	}

	if strings.ToLower(p.Sessions.Backend) == "postgres" && p.Sessions.Database.Host == "" {
		errs = append(errs, ValidationError{
			Field:   prefix + ".sessions.database.host",
			Message: "required for the postgres backend",
		})
	}

	return errs
}

// validateLLMs validates LLM provider configuration.
func (p Pipeline) validateLLMs(prefix string) ValidationErrors {
	var errs ValidationErrors

	if p.ChatLLM.Provider == "" {
		errs = append(errs, ValidationError{
			Field:   prefix + ".chat_llm.provider",
			Message: "provider is required",
		})
	} else if !completionProviders[strings.ToLower(p.ChatLLM.Provider)] {
		errs = append(errs, ValidationError{
			Field:   prefix + ".chat_llm.provider",
			Message: fmt.Sprintf("unknown provider: %s", p.ChatLLM.Provider),
		})
	}

	if p.EmbeddingLLM.Provider != "" && !embeddingProviders[strings.ToLower(p.EmbeddingLLM.Provider)] {
		errs = append(errs, ValidationError{
			Field:   prefix + ".embedding_llm.provider",
			Message: fmt.Sprintf("unknown provider: %s", p.EmbeddingLLM.Provider),
		})
	}

	return errs
}

// validateBudgets validates prompt budget and sampling parameters.
func (p Pipeline) validateBudgets(prefix string) ValidationErrors {
	var errs ValidationErrors

	if p.MaxPromptTokens < 0 {
		errs = append(errs, ValidationError{
			Field:   prefix + ".max_prompt_tokens",
			Message: "must not be negative",
		})
	}

	if p.ExcerptBudget < 0 || p.ExcerptBudget > 1 {
		errs = append(errs, ValidationError{
			Field:   prefix + ".excerpt_budget",
			Message: "must be between 0 and 1",
		})
	}

	if p.TopK < 0 {
		errs = append(errs, ValidationError{
			Field:   prefix + ".top_k",
			Message: "must not be negative",
		})
	}

	if t := p.ModelParams.Temperature; t != nil && (*t < 0 || *t > 1) {
		errs = append(errs, ValidationError{
			Field:   prefix + ".model_params.temperature",
			Message: "must be between 0.0 and 1.0",
		})
	}

	if p.ModelParams.MaxOutputTokens < 0 {
		errs = append(errs, ValidationError{
			Field:   prefix + ".model_params.max_output_tokens",
			Message: "must not be negative",
		})
	}

	return errs
}
