//-------------------------------------------------------------------------
//
// RAG Chat Server
//
// Copyright (c) 2026, the RAG Chat Server authors
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/ragchat/rag-chat-server/internal/index"
	"github.com/ragchat/rag-chat-server/internal/llm"
	"github.com/ragchat/rag-chat-server/internal/prompt"
	"github.com/ragchat/rag-chat-server/internal/session"
)

// mockIndex implements index.Provider with a function field.
type mockIndex struct {
	searchFunc func(ctx context.Context, query string, topK int) ([]index.Excerpt, error)
}

func (m *mockIndex) Search(ctx context.Context, query string, topK int) ([]index.Excerpt, error) {
	if m.searchFunc == nil {
		return nil, nil
	}
	return m.searchFunc(ctx, query, topK)
}

// mockLLM implements llm.Provider with function fields.
type mockLLM struct {
	generateFunc func(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error)
	streamFunc   func(ctx context.Context, req llm.GenerateRequest) (<-chan llm.StreamChunk, <-chan error)
}

func (m *mockLLM) Generate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
	return m.generateFunc(ctx, req)
}

func (m *mockLLM) GenerateStream(
	ctx context.Context,
	req llm.GenerateRequest,
) (<-chan llm.StreamChunk, <-chan error) {
	return m.streamFunc(ctx, req)
}

func (m *mockLLM) ModelName() string { return "mock-model" }

func testOrchestrator(idx index.Provider, prov llm.Provider, store session.Store) *Orchestrator {
	return NewOrchestrator(OrchestratorConfig{
		IndexProvider: idx,
		LLMProvider:   prov,
		Store:         store,
		Assembler:     prompt.NewAssembler(4000),
		TopK:          5,
		HistoryTurns:  20,
	})
}

func staticAnswer(answer string) *mockLLM {
	return &mockLLM{
		generateFunc: func(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
			return &llm.GenerateResponse{
				Content:      answer,
				FinishReason: "stop",
				Usage:        llm.TokenUsage{TotalTokens: 42},
			}, nil
		},
	}
}

func TestConverse_NewSession(t *testing.T) {
	store := session.NewMemoryStore()
	o := testOrchestrator(&mockIndex{}, staticAnswer("Hello!"), store)

	resp, err := o.Converse(context.Background(), ConverseRequest{Message: "Hi"})
	if err != nil {
		t.Fatalf("Converse failed: %v", err)
	}

	if resp.SessionID == "" {
		t.Fatal("expected a session ID for a new conversation")
	}
	if resp.Answer != "Hello!" {
		t.Errorf("expected 'Hello!', got %s", resp.Answer)
	}
	if resp.TokensUsed != 42 {
		t.Errorf("expected 42 tokens used, got %d", resp.TokensUsed)
	}

	// Both the user and assistant turns are recorded
	history, _ := store.History(context.Background(), resp.SessionID)
	if len(history) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(history))
	}
	if history[0].Role != session.RoleUser || history[0].Content != "Hi" {
		t.Errorf("unexpected user turn: %+v", history[0])
	}
	if history[1].Role != session.RoleAssistant || history[1].Content != "Hello!" {
		t.Errorf("unexpected assistant turn: %+v", history[1])
	}
}

func TestConverse_Citations(t *testing.T) {
	idx := &mockIndex{
		searchFunc: func(ctx context.Context, query string, topK int) ([]index.Excerpt, error) {
			return []index.Excerpt{
				{Source: "guide.md", Text: "excerpt one", Score: 0.9, Rank: 1},
				{Source: "faq.md", Text: "excerpt two", Score: 0.8, Rank: 2},
				{Source: "guide.md", Text: "excerpt three", Score: 0.7, Rank: 3},
			}, nil
		},
	}
	store := session.NewMemoryStore()
	o := testOrchestrator(idx, staticAnswer("Cited answer."), store)

	resp, err := o.Converse(context.Background(), ConverseRequest{Message: "What?"})
	if err != nil {
		t.Fatalf("Converse failed: %v", err)
	}

	if len(resp.Citations) != 2 {
		t.Fatalf("expected 2 deduplicated citations, got %v", resp.Citations)
	}
	if resp.Citations[0] != "guide.md" || resp.Citations[1] != "faq.md" {
		t.Errorf("unexpected citation order: %v", resp.Citations)
	}

	// Citations are recorded on the assistant turn
	history, _ := store.History(context.Background(), resp.SessionID)
	if len(history[1].Sources) != 2 {
		t.Errorf("expected sources on the assistant turn, got %v", history[1].Sources)
	}
}

func TestConverse_EmptyIndexStillAnswers(t *testing.T) {
	idx := &mockIndex{
		searchFunc: func(ctx context.Context, query string, topK int) ([]index.Excerpt, error) {
			return nil, nil
		},
	}
	store := session.NewMemoryStore()
	o := testOrchestrator(idx, staticAnswer("No sources needed."), store)

	resp, err := o.Converse(context.Background(), ConverseRequest{Message: "Hi"})
	if err != nil {
		t.Fatalf("empty retrieval should not fail the turn: %v", err)
	}
	if len(resp.Citations) != 0 {
		t.Errorf("expected no citations, got %v", resp.Citations)
	}

	history, _ := store.History(context.Background(), resp.SessionID)
	if len(history) != 2 {
		t.Errorf("expected the turn to be recorded, got %d turns", len(history))
	}
}

func TestConverse_IndexUnavailable(t *testing.T) {
	idx := &mockIndex{
		searchFunc: func(ctx context.Context, query string, topK int) ([]index.Excerpt, error) {
			return nil, index.ErrUnavailable
		},
	}
	store := session.NewMemoryStore()
	o := testOrchestrator(idx, staticAnswer("never reached"), store)

	sess, _ := store.Create(context.Background())

	_, err := o.Converse(context.Background(), ConverseRequest{
		SessionID: sess.ID,
		Message:   "Hi",
	})
	if !errors.Is(err, index.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	// Failed turns leave no trace in the history
	history, _ := store.History(context.Background(), sess.ID)
	if len(history) != 0 {
		t.Errorf("expected empty history after a failed turn, got %d turns", len(history))
	}
}

func TestConverse_ModelFailureLeavesHistoryUnchanged(t *testing.T) {
	prov := &mockLLM{
		generateFunc: func(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
			return nil, &llm.Error{Code: llm.ErrCodeTimeout, Message: "deadline exceeded"}
		},
	}
	store := session.NewMemoryStore()
	o := testOrchestrator(&mockIndex{}, prov, store)

	sess, _ := store.Create(context.Background())
	_ = store.Append(context.Background(), sess.ID,
		session.Turn{Role: session.RoleUser, Content: "earlier"},
		session.Turn{Role: session.RoleAssistant, Content: "reply"},
	)

	_, err := o.Converse(context.Background(), ConverseRequest{
		SessionID: sess.ID,
		Message:   "Hi",
	})
	if !llm.IsTimeout(err) {
		t.Fatalf("expected timeout error, got %v", err)
	}

	history, _ := store.History(context.Background(), sess.ID)
	if len(history) != 2 {
		t.Errorf("failed turn must not modify history, got %d turns", len(history))
	}
}

func TestConverse_HistoryPassedToModel(t *testing.T) {
	var gotMessages []llm.Message
	prov := &mockLLM{
		generateFunc: func(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
			gotMessages = req.Messages
			return &llm.GenerateResponse{Content: "ok"}, nil
		},
	}
	store := session.NewMemoryStore()
	o := testOrchestrator(&mockIndex{}, prov, store)

	sess, _ := store.Create(context.Background())
	_ = store.Append(context.Background(), sess.ID,
		session.Turn{Role: session.RoleUser, Content: "first question"},
		session.Turn{Role: session.RoleAssistant, Content: "first answer"},
	)

	_, err := o.Converse(context.Background(), ConverseRequest{
		SessionID: sess.ID,
		Message:   "followup",
	})
	if err != nil {
		t.Fatalf("Converse failed: %v", err)
	}

	if len(gotMessages) != 3 {
		t.Fatalf("expected history plus utterance, got %d messages", len(gotMessages))
	}
	if gotMessages[0].Content != "first question" || gotMessages[1].Content != "first answer" {
		t.Errorf("history out of order: %+v", gotMessages)
	}
	if gotMessages[2].Role != "user" || gotMessages[2].Content != "followup" {
		t.Errorf("utterance must be the final message: %+v", gotMessages[2])
	}
}

func TestConverse_HistoryWindow(t *testing.T) {
	var gotMessages []llm.Message
	prov := &mockLLM{
		generateFunc: func(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
			gotMessages = req.Messages
			return &llm.GenerateResponse{Content: "ok"}, nil
		},
	}
	store := session.NewMemoryStore()
	o := NewOrchestrator(OrchestratorConfig{
		IndexProvider: &mockIndex{},
		LLMProvider:   prov,
		Store:         store,
		Assembler:     prompt.NewAssembler(4000),
		TopK:          5,
		HistoryTurns:  2,
	})

	sess, _ := store.Create(context.Background())
	for i := 0; i < 3; i++ {
		_ = store.Append(context.Background(), sess.ID,
			session.Turn{Role: session.RoleUser, Content: "q"},
			session.Turn{Role: session.RoleAssistant, Content: "a"},
		)
	}

	_, err := o.Converse(context.Background(), ConverseRequest{
		SessionID: sess.ID,
		Message:   "followup",
	})
	if err != nil {
		t.Fatalf("Converse failed: %v", err)
	}

	// Two windowed history turns plus the utterance
	if len(gotMessages) != 3 {
		t.Errorf("expected windowed history, got %d messages", len(gotMessages))
	}
}

func TestConverse_TopKOverride(t *testing.T) {
	var gotTopK int
	idx := &mockIndex{
		searchFunc: func(ctx context.Context, query string, topK int) ([]index.Excerpt, error) {
			gotTopK = topK
			return nil, nil
		},
	}
	o := testOrchestrator(idx, staticAnswer("ok"), session.NewMemoryStore())

	_, err := o.Converse(context.Background(), ConverseRequest{Message: "Hi", TopK: 3})
	if err != nil {
		t.Fatalf("Converse failed: %v", err)
	}
	if gotTopK != 3 {
		t.Errorf("expected topK 3, got %d", gotTopK)
	}
}

func TestConverse_IncludeSources(t *testing.T) {
	idx := &mockIndex{
		searchFunc: func(ctx context.Context, query string, topK int) ([]index.Excerpt, error) {
			return []index.Excerpt{
				{Source: "guide.md", Text: "details", Score: 0.9, Rank: 1},
			}, nil
		},
	}
	o := testOrchestrator(idx, staticAnswer("ok"), session.NewMemoryStore())

	resp, err := o.Converse(context.Background(), ConverseRequest{
		Message:        "Hi",
		IncludeSources: true,
	})
	if err != nil {
		t.Fatalf("Converse failed: %v", err)
	}
	if len(resp.Sources) != 1 || resp.Sources[0].Text != "details" {
		t.Errorf("expected source details, got %+v", resp.Sources)
	}
}

func TestConverseStream(t *testing.T) {
	idx := &mockIndex{
		searchFunc: func(ctx context.Context, query string, topK int) ([]index.Excerpt, error) {
			return []index.Excerpt{
				{Source: "guide.md", Text: "excerpt", Score: 0.9, Rank: 1},
			}, nil
		},
	}
	prov := &mockLLM{
		streamFunc: func(ctx context.Context, req llm.GenerateRequest) (<-chan llm.StreamChunk, <-chan error) {
			chunks := make(chan llm.StreamChunk, 3)
			errs := make(chan error, 1)
			chunks <- llm.StreamChunk{Content: "Hel"}
			chunks <- llm.StreamChunk{Content: "lo", FinishReason: "stop"}
			close(chunks)
			close(errs)
			return chunks, errs
		},
	}
	store := session.NewMemoryStore()
	o := testOrchestrator(idx, prov, store)

	events, errs := o.ConverseStream(context.Background(), ConverseRequest{Message: "Hi"})

	var sessionID, content string
	var citations []string
	var sawDone bool
	for ev := range events {
		switch ev.Type {
		case "session":
			sessionID = ev.SessionID
		case "chunk":
			content += ev.Content
		case "citations":
			citations = ev.Citations
		case "done":
			sawDone = true
		}
	}
	if err := <-errs; err != nil {
		t.Fatalf("stream failed: %v", err)
	}

	if sessionID == "" {
		t.Error("expected a session event")
	}
	if content != "Hello" {
		t.Errorf("expected 'Hello', got %s", content)
	}
	if len(citations) != 1 || citations[0] != "guide.md" {
		t.Errorf("unexpected citations: %v", citations)
	}
	if !sawDone {
		t.Error("expected a done event")
	}

	// The full turn is recorded once the stream finishes
	history, _ := store.History(context.Background(), sessionID)
	if len(history) != 2 || history[1].Content != "Hello" {
		t.Errorf("unexpected history after stream: %+v", history)
	}
}

func TestConverseStream_ErrorLeavesHistoryUnchanged(t *testing.T) {
	prov := &mockLLM{
		streamFunc: func(ctx context.Context, req llm.GenerateRequest) (<-chan llm.StreamChunk, <-chan error) {
			chunks := make(chan llm.StreamChunk, 1)
			errs := make(chan error, 1)
			chunks <- llm.StreamChunk{Content: "partial"}
			errs <- &llm.Error{Code: llm.ErrCodeUnavailable, Message: "endpoint lost"}
			close(chunks)
			close(errs)
			return chunks, errs
		},
	}
	store := session.NewMemoryStore()
	o := testOrchestrator(&mockIndex{}, prov, store)

	sess, _ := store.Create(context.Background())

	events, errs := o.ConverseStream(context.Background(), ConverseRequest{
		SessionID: sess.ID,
		Message:   "Hi",
	})
	for range events {
	}
	if err := <-errs; !llm.IsUnavailable(err) {
		t.Fatalf("expected unavailable error, got %v", err)
	}

	history, _ := store.History(context.Background(), sess.ID)
	if len(history) != 0 {
		t.Errorf("interrupted stream must not record turns, got %d", len(history))
	}
}

func TestSessionLocks_Serialize(t *testing.T) {
	locks := newSessionLocks()

	release := locks.acquire("s1")

	acquired := make(chan struct{})
	go func() {
		r := locks.acquire("s1")
		r()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should block while the lock is held")
	default:
	}

	release()
	<-acquired

	// Lock entries are released once unused
	locks.mu.Lock()
	defer locks.mu.Unlock()
	if len(locks.locks) != 0 {
		t.Errorf("expected empty lock map, got %d entries", len(locks.locks))
	}
}

func TestSessionLocks_DistinctSessionsDoNotBlock(t *testing.T) {
	locks := newSessionLocks()

	r1 := locks.acquire("s1")
	defer r1()

	done := make(chan struct{})
	go func() {
		r2 := locks.acquire("s2")
		r2()
		close(done)
	}()

	<-done
}
