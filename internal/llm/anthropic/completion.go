//-------------------------------------------------------------------------
//
// RAG Chat Server
//
// Copyright (c) 2026, the RAG Chat Server authors
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package anthropic

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

// NewProvider creates a new Anthropic completion provider.
func NewProvider(apiKey string, opts ...ProviderOption) *Provider {
	p := &Provider{
		client:      NewClient(apiKey),
		model:       defaultModel,
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

// WithModel sets the model.
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

// message represents a message in Anthropic's format.
type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// messagesRequest is the request format for the messages API.
type messagesRequest struct {
	Model         string    `json:"model"`
	MaxTokens     int       `json:"max_tokens"`
	System        string    `json:"system,omitempty"`
	Messages      []message `json:"messages"`
	Temperature   float64   `json:"temperature,omitempty"`
	StopSequences []string  `json:"stop_sequences,omitempty"`
	Stream        bool      `json:"stream,omitempty"`
}

// messagesResponse is the response format from the messages API.
type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// streamEvent represents a streaming event.
type streamEvent struct {
	Type  string `json:"type"`
	Delta *struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta,omitempty"`
	Message *struct {
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	} `json:"message,omitempty"`
	Usage *struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage,omitempty"`
}

// buildMessagesRequest converts a generate request into the wire format.
func (p *Provider) buildMessagesRequest(req llm.GenerateRequest, stream bool) messagesRequest {
	messages, system := p.buildMessages(req)

	maxTokens := p.maxTokens
	if req.Params.MaxOutputTokens > 0 {
		maxTokens = req.Params.MaxOutputTokens
	}

	temperature := p.temperature
	if req.Params.Temperature != nil {
		temperature = *req.Params.Temperature
	}

	return messagesRequest{
		Model:         p.model,
		MaxTokens:     maxTokens,
		System:        system,
		Messages:      messages,
		Temperature:   temperature,
		StopSequences: req.Params.StopSequences,
		Stream:        stream,
	}
}

// Generate produces a non-streaming completion.
func (p *Provider) Generate(
	ctx context.Context,
	req llm.GenerateRequest,
) (*llm.GenerateResponse, error) {
	resp, err := p.client.request(ctx, http.MethodPost, "/messages",
		p.buildMessagesRequest(req, false))
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

	var msgResp messagesResponse
	if err := json.Unmarshal(body, &msgResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	// The model declined to answer on policy grounds
	if msgResp.StopReason == "refusal" {
		return nil, &llm.Error{
			Code:    llm.ErrCodeRefused,
			Message: "the model declined to answer this request",
		}
	}

	// Extract text content
	var content string
	for _, c := range msgResp.Content {
		if c.Type == "text" {
			content += c.Text
		}
	}

	return &llm.GenerateResponse{
		Content:      content,
		FinishReason: msgResp.StopReason,
		Usage: llm.TokenUsage{
			PromptTokens:     msgResp.Usage.InputTokens,
			CompletionTokens: msgResp.Usage.OutputTokens,
			TotalTokens:      msgResp.Usage.InputTokens + msgResp.Usage.OutputTokens,
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

		resp, err := p.client.request(ctx, http.MethodPost, "/messages",
			p.buildMessagesRequest(req, true))
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
		var inputTokens, outputTokens int

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}

			data := strings.TrimPrefix(line, "data: ")
			if data == "" {
				continue
			}

			var event streamEvent
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				continue
			}

			switch event.Type {
			case "message_start":
				if event.Message != nil {
					inputTokens = event.Message.Usage.InputTokens
				}
			case "content_block_delta":
				if event.Delta != nil && event.Delta.Type == "text_delta" {
					select {
					case chunkChan <- llm.StreamChunk{Content: event.Delta.Text}:
					case <-ctx.Done():
						errChan <- llm.WrapTransportError(ctx.Err())
						return
					}
				}
			case "message_delta":
				if event.Delta == nil {
					continue
				}
				if event.Usage != nil {
					outputTokens = event.Usage.OutputTokens
				}
				if event.Delta.StopReason == "refusal" {
					errChan <- &llm.Error{
						Code:    llm.ErrCodeRefused,
						Message: "the model declined to answer this request",
					}
					return
				}
				if event.Delta.StopReason != "" {
					select {
					case chunkChan <- llm.StreamChunk{
						FinishReason: event.Delta.StopReason,
						Usage: &llm.TokenUsage{
							PromptTokens:     inputTokens,
							CompletionTokens: outputTokens,
							TotalTokens:      inputTokens + outputTokens,
						},
					}:
					case <-ctx.Done():
						errChan <- llm.WrapTransportError(ctx.Err())
						return
					}
				}
			case "message_stop":
				return
			}
		}

		if err := scanner.Err(); err != nil {
			errChan <- fmt.Errorf("stream read error: %w", err)
		}
	}()

	return chunkChan, errChan
}

// buildMessages converts the request into Anthropic messages format.
// Returns messages and system prompt separately (Anthropic's format).
func (p *Provider) buildMessages(req llm.GenerateRequest) ([]message, string) {
	messages := make([]message, 0, len(req.Messages))
	var systemParts []string

	if req.SystemPrompt != "" {
		systemParts = append(systemParts, req.SystemPrompt)
	}

	// Retrieved excerpts join the system prompt
	if len(req.Passages) > 0 {
		systemParts = append(systemParts, llm.FormatPassages(req.Passages))
	}

	system := strings.Join(systemParts, "\n\n")

	for _, msg := range req.Messages {
		// Anthropic only accepts "user" and "assistant" roles
		if msg.Role == "system" {
			system = msg.Content + "\n\n" + system
			continue
		}
		messages = append(messages, message{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	return messages, system
}

// ModelName returns the model name.
func (p *Provider) ModelName() string {
	return p.model
}

// Ensure Provider implements the interface.
var _ llm.Provider = (*Provider)(nil)
