//-------------------------------------------------------------------------
//
// RAG Chat Server
//
// Copyright (c) 2026, the RAG Chat Server authors
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ragchat/rag-chat-server/internal/llm"
)

// Provider implements the llm.Provider interface.
type Provider struct {
	client      *Client
	model       string
	temperature float64
}

// NewProvider creates a new Ollama completion provider.
func NewProvider(opts ...ProviderOption) *Provider {
	p := &Provider{
		client:      NewClient(),
		model:       defaultChatModel,
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

// chatMessage represents a message in Ollama's chat format.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the request format for the chat API.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  *chatOptions  `json:"options,omitempty"`
}

// chatOptions contains generation options.
type chatOptions struct {
	Temperature float64  `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// chatResponse is the response format from the chat API.
type chatResponse struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool `json:"done"`
	PromptEvalCount int  `json:"prompt_eval_count"`
	EvalCount       int  `json:"eval_count"`
}

// buildChatRequest converts a generate request into the wire format.
func (p *Provider) buildChatRequest(req llm.GenerateRequest, stream bool) chatRequest {
	temperature := p.temperature
	if req.Params.Temperature != nil {
		temperature = *req.Params.Temperature
	}

	return chatRequest{
		Model:    p.model,
		Messages: p.buildMessages(req),
		Stream:   stream,
		Options: &chatOptions{
			Temperature: temperature,
			NumPredict:  req.Params.MaxOutputTokens,
			Stop:        req.Params.StopSequences,
		},
	}
}

// Generate produces a non-streaming completion.
func (p *Provider) Generate(
	ctx context.Context,
	req llm.GenerateRequest,
) (*llm.GenerateResponse, error) {
	resp, err := p.client.request(ctx, http.MethodPost, "/api/chat",
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

	finishReason := "stop"
	if !chatResp.Done {
		finishReason = "length"
	}

	return &llm.GenerateResponse{
		Content:      chatResp.Message.Content,
		FinishReason: finishReason,
		Usage: llm.TokenUsage{
			PromptTokens:     chatResp.PromptEvalCount,
			CompletionTokens: chatResp.EvalCount,
			TotalTokens:      chatResp.PromptEvalCount + chatResp.EvalCount,
		},
	}, nil
}

// GenerateStream produces a streaming completion. Ollama streams
// newline-delimited JSON rather than SSE.
func (p *Provider) GenerateStream(
	ctx context.Context,
	req llm.GenerateRequest,
) (<-chan llm.StreamChunk, <-chan error) {
	chunkChan := make(chan llm.StreamChunk)
	errChan := make(chan error, 1)

	go func() {
		defer close(chunkChan)
		defer close(errChan)

		resp, err := p.client.request(ctx, http.MethodPost, "/api/chat",
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
			if line == "" {
				continue
			}

			var chunk chatResponse
			if err := json.Unmarshal([]byte(line), &chunk); err != nil {
				continue
			}

			streamChunk := llm.StreamChunk{
				Content: chunk.Message.Content,
			}

			if chunk.Done {
				streamChunk.FinishReason = "stop"
				streamChunk.Usage = &llm.TokenUsage{
					PromptTokens:     chunk.PromptEvalCount,
					CompletionTokens: chunk.EvalCount,
					TotalTokens:      chunk.PromptEvalCount + chunk.EvalCount,
				}
			}

			select {
			case chunkChan <- streamChunk:
			case <-ctx.Done():
				errChan <- llm.WrapTransportError(ctx.Err())
				return
			}

			if chunk.Done {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			errChan <- fmt.Errorf("stream read error: %w", err)
		}
	}()

	return chunkChan, errChan
}

// buildMessages converts the request into Ollama chat messages.
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

// ModelName returns the model name.
func (p *Provider) ModelName() string {
	return p.model
}

// Ensure Provider implements the interface.
var _ llm.Provider = (*Provider)(nil)
