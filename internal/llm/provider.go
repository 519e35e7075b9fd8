//-------------------------------------------------------------------------
//
// RAG Chat Server
//
// Copyright (c) 2026, the RAG Chat Server authors
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package llm provides interfaces and implementations for LLM providers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// EmbeddingProvider generates vector embeddings from text.
type EmbeddingProvider interface {
	// Embed generates an embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	// Returns embeddings in the same order as input texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings produced.
	Dimensions() int

	// ModelName returns the name of the model being used.
	ModelName() string
}

// Provider generates text using a hosted language model. Providers are
// stateless; all conversation state arrives in the request.
type Provider interface {
	// Generate produces a completion for the assembled prompt.
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)

	// GenerateStream produces a streaming completion. The returned
	// channel receives response chunks until completion, then is
	// closed. Errors are returned via the error channel.
	GenerateStream(
		ctx context.Context,
		req GenerateRequest,
	) (<-chan StreamChunk, <-chan error)

	// ModelName returns the name of the model being used.
	ModelName() string
}

// Params contains sampling parameters recognized by all providers.
type Params struct {
	// Temperature controls sampling randomness, 0.0 - 1.0.
	// Nil uses the provider's default.
	Temperature *float64

	// MaxOutputTokens caps the generated length. Zero uses the
	// provider's default.
	MaxOutputTokens int

	// StopSequences terminate generation early when emitted.
	StopSequences []string
}

// GenerateRequest represents a request to a language model.
type GenerateRequest struct {
	// SystemPrompt is the system-level instruction for the model.
	SystemPrompt string

	// Messages is the conversation history including the new user
	// utterance as the final message.
	Messages []Message

	// Passages contains retrieved excerpts to include as context.
	Passages []Passage

	// Params contains sampling parameters.
	Params Params
}

// Message represents a message in the conversation.
type Message struct {
	Role    string // "user", "assistant", or "system"
	Content string
}

// Passage represents a retrieved document excerpt for RAG context.
type Passage struct {
	Source string
	Text   string
}

// GenerateResponse represents a non-streaming completion response.
type GenerateResponse struct {
	Content      string
	FinishReason string
	Usage        TokenUsage
}

// StreamChunk represents a chunk of a streaming response.
type StreamChunk struct {
	Content      string
	FinishReason string // Empty until the final chunk
	Usage        *TokenUsage
}

// TokenUsage represents token consumption for a request.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Error codes for model operations.
const (
	ErrCodeUnavailable = "model_unavailable" // Endpoint unreachable or cold
	ErrCodeTimeout     = "model_timeout"     // Caller-supplied deadline exceeded
	ErrCodeRefused     = "model_refused"     // Content-policy rejection
	ErrCodeInvalidKey  = "invalid_api_key"
	ErrCodeModelError  = "model_error"
)

// Error is a typed failure from a model provider.
type Error struct {
	Code       string
	Message    string
	StatusCode int
}

func (e *Error) Error() string {
	return e.Message
}

// IsUnavailable reports whether err is a model-unavailable failure.
func IsUnavailable(err error) bool {
	return errCodeIs(err, ErrCodeUnavailable)
}

// IsTimeout reports whether err is a deadline failure.
func IsTimeout(err error) bool {
	return errCodeIs(err, ErrCodeTimeout)
}

// IsRefused reports whether err is a content-policy rejection.
func IsRefused(err error) bool {
	return errCodeIs(err, ErrCodeRefused)
}

func errCodeIs(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// WrapTransportError converts a transport-level failure into the model
// error taxonomy: deadline expiry becomes a timeout, everything else an
// unavailable endpoint.
func WrapTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{
			Code:    ErrCodeTimeout,
			Message: fmt.Sprintf("model request timed out: %v", err),
		}
	}
	return &Error{
		Code:    ErrCodeUnavailable,
		Message: fmt.Sprintf("model endpoint unreachable: %v", err),
	}
}

// ClassifyStatus maps an HTTP status from a model endpoint onto an
// error code.
func ClassifyStatus(status int) string {
	switch status {
	case 401, 403:
		return ErrCodeInvalidKey
	case 408, 504:
		return ErrCodeTimeout
	case 429, 500, 502, 503, 529:
		return ErrCodeUnavailable
	default:
		return ErrCodeModelError
	}
}

// FormatPassages formats retrieved excerpts for inclusion in a prompt.
// This provides a consistent format across all providers.
func FormatPassages(passages []Passage) string {
	var sb strings.Builder
	sb.WriteString("Use the following context to answer the question:\n\n")

	for i, p := range passages {
		sb.WriteString(fmt.Sprintf("--- Document %d", i+1))
		if p.Source != "" {
			sb.WriteString(fmt.Sprintf(" (Source: %s)", p.Source))
		}
		sb.WriteString(" ---\n")
		sb.WriteString(p.Text)
		sb.WriteString("\n\n")
	}

	return sb.String()
}
