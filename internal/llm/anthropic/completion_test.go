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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ragchat/rag-chat-server/internal/llm"
)

func TestProvider_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("expected path /messages, got %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Error("missing or incorrect x-api-key header")
		}
		if r.Header.Get("anthropic-version") != apiVersion {
			t.Error("missing anthropic-version header")
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"content": [{"type": "text", "text": "Hello!"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`))
	}))
	defer server.Close()

	client := NewClient("test-key", WithBaseURL(server.URL))
	provider := NewProvider("test-key", WithClient(client))

	req := llm.GenerateRequest{
		Messages: []llm.Message{
			{Role: "user", Content: "Hi there"},
		},
	}

	resp, err := provider.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if resp.Content != "Hello!" {
		t.Errorf("expected 'Hello!', got %s", resp.Content)
	}
	if resp.FinishReason != "end_turn" {
		t.Errorf("expected 'end_turn', got %s", resp.FinishReason)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("expected 15 total tokens, got %d", resp.Usage.TotalTokens)
	}
}

func TestProvider_Generate_SystemAndPassages(t *testing.T) {
	var gotReq messagesRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"content": [{"type": "text", "text": "ok"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 1, "output_tokens": 1}
		}`))
	}))
	defer server.Close()

	client := NewClient("test-key", WithBaseURL(server.URL))
	provider := NewProvider("test-key", WithClient(client))

	req := llm.GenerateRequest{
		SystemPrompt: "You are a helpful assistant.",
		Passages: []llm.Passage{
			{Text: "Document 1", Source: "test.txt"},
		},
		Messages: []llm.Message{
			{Role: "user", Content: "What's in the document?"},
		},
	}

	if _, err := provider.Generate(context.Background(), req); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	// System prompt and passages travel in the system field, not messages
	if len(gotReq.Messages) != 1 {
		t.Errorf("expected 1 message, got %d", len(gotReq.Messages))
	}
	if gotReq.System == "" {
		t.Error("expected a system prompt")
	}
}

func TestProvider_Generate_StopSequences(t *testing.T) {
	var gotReq messagesRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"content": [{"type": "text", "text": "ok"}],
			"stop_reason": "stop_sequence",
			"usage": {"input_tokens": 1, "output_tokens": 1}
		}`))
	}))
	defer server.Close()

	client := NewClient("test-key", WithBaseURL(server.URL))
	provider := NewProvider("test-key", WithClient(client))

	req := llm.GenerateRequest{
		Messages: []llm.Message{{Role: "user", Content: "Hi"}},
		Params:   llm.Params{StopSequences: []string{"END"}},
	}

	if _, err := provider.Generate(context.Background(), req); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if len(gotReq.StopSequences) != 1 || gotReq.StopSequences[0] != "END" {
		t.Errorf("unexpected stop sequences: %v", gotReq.StopSequences)
	}
}

func TestProvider_Generate_Refusal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"content": [],
			"stop_reason": "refusal",
			"usage": {"input_tokens": 1, "output_tokens": 0}
		}`))
	}))
	defer server.Close()

	client := NewClient("test-key", WithBaseURL(server.URL))
	provider := NewProvider("test-key", WithClient(client))

	req := llm.GenerateRequest{
		Messages: []llm.Message{{Role: "user", Content: "something disallowed"}},
	}

	_, err := provider.Generate(context.Background(), req)
	if !llm.IsRefused(err) {
		t.Errorf("expected refusal error, got %v", err)
	}
}

func TestProvider_Generate_Overloaded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(529)
		_, _ = w.Write([]byte(`{"error": {"type": "overloaded_error", "message": "Overloaded"}}`))
	}))
	defer server.Close()

	client := NewClient("test-key", WithBaseURL(server.URL))
	provider := NewProvider("test-key", WithClient(client))

	req := llm.GenerateRequest{
		Messages: []llm.Message{{Role: "user", Content: "Hi"}},
	}

	_, err := provider.Generate(context.Background(), req)
	if !llm.IsUnavailable(err) {
		t.Errorf("expected unavailable error, got %v", err)
	}
}

func TestProvider_GenerateStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(
			"event: message_start\n" +
				"data: {\"type\": \"message_start\", \"message\": {\"usage\": {\"input_tokens\": 10, \"output_tokens\": 0}}}\n\n" +
				"event: content_block_delta\n" +
				"data: {\"type\": \"content_block_delta\", \"delta\": {\"type\": \"text_delta\", \"text\": \"Hel\"}}\n\n" +
				"event: content_block_delta\n" +
				"data: {\"type\": \"content_block_delta\", \"delta\": {\"type\": \"text_delta\", \"text\": \"lo\"}}\n\n" +
				"event: message_delta\n" +
				"data: {\"type\": \"message_delta\", \"delta\": {\"stop_reason\": \"end_turn\"}, \"usage\": {\"output_tokens\": 5}}\n\n" +
				"event: message_stop\n" +
				"data: {\"type\": \"message_stop\"}\n\n"))
	}))
	defer server.Close()

	client := NewClient("test-key", WithBaseURL(server.URL))
	provider := NewProvider("test-key", WithClient(client))

	req := llm.GenerateRequest{
		Messages: []llm.Message{{Role: "user", Content: "Hi"}},
	}

	chunks, errs := provider.GenerateStream(context.Background(), req)

	var content string
	var finishReason string
	for chunk := range chunks {
		content += chunk.Content
		if chunk.FinishReason != "" {
			finishReason = chunk.FinishReason
		}
	}
	if err := <-errs; err != nil {
		t.Fatalf("stream failed: %v", err)
	}

	if content != "Hello" {
		t.Errorf("expected 'Hello', got %s", content)
	}
	if finishReason != "end_turn" {
		t.Errorf("expected 'end_turn', got %s", finishReason)
	}
}

func TestProvider_ModelName(t *testing.T) {
	provider := NewProvider("test-key")
	if provider.ModelName() != defaultModel {
		t.Errorf("expected %s, got %s", defaultModel, provider.ModelName())
	}

	provider = NewProvider("test-key", WithModel("claude-haiku-4"))
	if provider.ModelName() != "claude-haiku-4" {
		t.Errorf("expected claude-haiku-4, got %s", provider.ModelName())
	}
}
