//-------------------------------------------------------------------------
//
// RAG Chat Server
//
// Copyright (c) 2026, the RAG Chat Server authors
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package openai

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ragchat/rag-chat-server/internal/llm"
)

// Provider implements the llm.Provider interface.
type Provider struct {
	client      *Client
	model       string
	maxTokens   int
	temperature float64
}

// NewProvider creates a new OpenAI completion provider.
func NewProvider(apiKey string, opts ...ProviderOption) *Provider {
	p := &Provider{
		client:      NewClient(apiKey),
		model:       defaultChatModel,
		maxTokens:   4096,
		temperature: 0.7,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProviderOption configures the completion provider.
type ProviderOption func(*Provider)

// WithModel sets the chat model.
func WithModel(model string) ProviderOption {
	return func(p *Provider) {
		p.model = model
	}
}

// WithMaxTokens sets the default max output tokens.
func WithMaxTokens(tokens int) ProviderOption {
	return func(p *Provider) {
		p.maxTokens = tokens
	}
}

// WithTemperature sets the default temperature.
func WithTemperature(temp float64) ProviderOption {
	return func(p *Provider) {
		p.temperature = temp
	}
}

// WithClient sets a custom client.
func WithClient(client *Client) ProviderOption {
	return func(p *Provider) {
		p.client = client
	}
}

// chatMessage represents a message in the chat format.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the request format for the chat completions API.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

// chatResponse is the response format from the chat completions API.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// streamChunk represents a streaming response chunk.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

// buildChatRequest converts a generate request into the wire format.
func (p *Provider) buildChatRequest(req llm.GenerateRequest, stream bool) chatRequest {
	maxTokens := p.maxTokens
	if req.Params.MaxOutputTokens > 0 {
		maxTokens = req.Params.MaxOutputTokens
	}

	temperature := p.temperature
	if req.Params.Temperature != nil {
		temperature = *req.Params.Temperature
	}

	return chatRequest{
		Model:       p.model,
		Messages:    p.buildMessages(req),
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Stop:        req.Params.StopSequences,
		Stream:      stream,
	}
}

// Generate produces a non-streaming completion.
func (p *Provider) Generate(
	ctx context.Context,
	req llm.GenerateRequest,
) (*llm.GenerateResponse, error) {
	resp, err := p.client.request(ctx, http.MethodPost, "/chat/completions",
		p.buildChatRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, parseError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("no completion returned")
	}

	choice := chatResp.Choices[0]

	// The model declined to answer on policy grounds
	if choice.Message.Refusal != "" || choice.FinishReason == "content_filter" {
		return nil, &llm.Error{
			Code:    llm.ErrCodeRefused,
			Message: refusalMessage(choice.Message.Refusal),
		}
	}

	return &llm.GenerateResponse{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage: llm.TokenUsage{
			PromptTokens:     chatResp.Usage.PromptTokens,
			CompletionTokens: chatResp.Usage.CompletionTokens,
			TotalTokens:      chatResp.Usage.TotalTokens,
		},
	}, nil
}

// GenerateStream produces a streaming completion.
func (p *Provider) GenerateStream(
	ctx context.Context,
	req llm.GenerateRequest,
) (<-chan llm.StreamChunk, <-chan error) {
	chunkChan := make(chan llm.StreamChunk)
	errChan := make(chan error, 1)

	go func() {
		defer close(chunkChan)
		defer close(errChan)

		resp, err := p.client.request(ctx, http.MethodPost, "/chat/completions",
			p.buildChatRequest(req, true))
		if err != nil {
			errChan <- err
			return
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			errChan <- parseError(resp)
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}

			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				break
			}

			var chunk streamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue // Skip malformed chunks
			}

			if len(chunk.Choices) == 0 {
				continue
			}

			if chunk.Choices[0].FinishReason == "content_filter" {
				errChan <- &llm.Error{
					Code:    llm.ErrCodeRefused,
					Message: refusalMessage(""),
				}
				return
			}

			out := llm.StreamChunk{
				Content:      chunk.Choices[0].Delta.Content,
				FinishReason: chunk.Choices[0].FinishReason,
			}

			if chunk.Usage != nil {
				out.Usage = &llm.TokenUsage{
					PromptTokens:     chunk.Usage.PromptTokens,
					CompletionTokens: chunk.Usage.CompletionTokens,
					TotalTokens:      chunk.Usage.TotalTokens,
				}
			}

			select {
			case chunkChan <- out:
			case <-ctx.Done():
				errChan <- llm.WrapTransportError(ctx.Err())
				return
			}
		}

		if err := scanner.Err(); err != nil {
			errChan <- fmt.Errorf("stream read error: %w", err)
		}
	}()

	return chunkChan, errChan
}

// buildMessages converts the request into OpenAI chat messages.
func (p *Provider) buildMessages(req llm.GenerateRequest) []chatMessage {
	capacity := len(req.Messages)
	if req.SystemPrompt != "" {
		capacity++
	}
	if len(req.Passages) > 0 {
		capacity++
	}
	messages := make([]chatMessage, 0, capacity)

	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{
			Role:    "system",
			Content: req.SystemPrompt,
		})
	}

	// Retrieved excerpts go in as a second system message
	if len(req.Passages) > 0 {
		messages = append(messages, chatMessage{
			Role:    "system",
			Content: llm.FormatPassages(req.Passages),
		})
	}

	for _, msg := range req.Messages {
		messages = append(messages, chatMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	return messages
}

// refusalMessage returns a displayable message for a policy refusal.
func refusalMessage(detail string) string {
	if detail == "" {
		return "the model declined to answer this request"
	}
	return "the model declined to answer: " + detail
}

// ModelName returns the model name.
func (p *Provider) ModelName() string {
	return p.model
}

// Ensure Provider implements the interface.
var _ llm.Provider = (*Provider)(nil)
