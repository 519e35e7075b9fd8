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
	"fmt"
	"log/slog"
	"time"

	"github.com/ragchat/rag-chat-server/internal/format"
	"github.com/ragchat/rag-chat-server/internal/index"
	"github.com/ragchat/rag-chat-server/internal/llm"
	"github.com/ragchat/rag-chat-server/internal/prompt"
	"github.com/ragchat/rag-chat-server/internal/session"
)

// Orchestrator coordinates one conversational turn: retrieve, assemble,
// generate, cite, and record. Turns within a session are serialized;
// distinct sessions run in parallel.
type Orchestrator struct {
	indexProv    index.Provider
	llmProv      llm.Provider
	store        session.Store
	assembler    *prompt.Assembler
	params       llm.Params
	topK         int
	historyTurns int
	turnTimeout  time.Duration
	locks        *sessionLocks
	logger       *slog.Logger
}

// OrchestratorConfig contains the configuration for creating an orchestrator.
type OrchestratorConfig struct {
	IndexProvider index.Provider
	LLMProvider   llm.Provider
	Store         session.Store
	Assembler     *prompt.Assembler
	Params        llm.Params
	TopK          int
	HistoryTurns  int
	TurnTimeout   time.Duration
	Logger        *slog.Logger
}

// NewOrchestrator creates a new turn orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		indexProv:    cfg.IndexProvider,
		llmProv:      cfg.LLMProvider,
		store:        cfg.Store,
		assembler:    cfg.Assembler,
		params:       cfg.Params,
		topK:         cfg.TopK,
		historyTurns: cfg.HistoryTurns,
		turnTimeout:  cfg.TurnTimeout,
		locks:        newSessionLocks(),
		logger:       logger,
	}
}

// resolveSession returns the session ID for a request, creating a new
// session when none was supplied.
func (o *Orchestrator) resolveSession(
	ctx context.Context,
	req ConverseRequest,
) (string, error) {
	if req.SessionID != "" {
		return req.SessionID, nil
	}

	sess, err := o.store.Create(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return sess.ID, nil
}

// historyWindow converts the most recent stored turns into prompt
// messages, keeping chronological order.
func (o *Orchestrator) historyWindow(turns []session.Turn) []llm.Message {
	if o.historyTurns > 0 && len(turns) > o.historyTurns {
		turns = turns[len(turns)-o.historyTurns:]
	}

	messages := make([]llm.Message, len(turns))
	for i, t := range turns {
		messages[i] = llm.Message{Role: t.Role, Content: t.Content}
	}
	return messages
}

// runTurn executes the retrieve-assemble-generate core of a turn. It
// does not touch session state; the caller records turns on success.
func (o *Orchestrator) runTurn(
	ctx context.Context,
	sessionID string,
	req ConverseRequest,
) (*llm.GenerateResponse, []index.Excerpt, *prompt.Bundle, error) {
	turns, err := o.store.History(ctx, sessionID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load history: %w", err)
	}

	topK := o.topK
	if req.TopK > 0 {
		topK = req.TopK
	}

	excerpts, err := o.indexProv.Search(ctx, req.Message, topK)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(excerpts) == 0 {
		o.logger.Debug("no excerpts retrieved", "session", sessionID)
	}

	bundle, err := o.assembler.Assemble(o.historyWindow(turns), excerpts, req.Message)
	if err != nil {
		return nil, nil, nil, err
	}

	genResp, err := o.llmProv.Generate(ctx, llm.GenerateRequest{
		SystemPrompt: bundle.SystemPrompt,
		Messages:     bundle.Messages,
		Passages:     bundle.Passages,
		Params:       o.params,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	// The assembler includes a prefix of the ranked excerpts, so the
	// included set is the first len(Passages) entries.
	included := excerpts[:len(bundle.Passages)]

	return genResp, included, bundle, nil
}

// recordTurn appends the user utterance and the assistant answer in one
// atomic write. Nothing is recorded for failed turns.
func (o *Orchestrator) recordTurn(
	ctx context.Context,
	sessionID, message string,
	answer format.Answer,
) error {
	now := time.Now().UTC()
	err := o.store.Append(ctx, sessionID,
		session.Turn{Role: session.RoleUser, Content: message, CreatedAt: now},
		session.Turn{
			Role:      session.RoleAssistant,
			Content:   answer.Text,
			Sources:   answer.Citations,
			CreatedAt: now,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to record turn: %w", err)
	}
	return nil
}

// buildSources converts excerpts to response sources.
func buildSources(excerpts []index.Excerpt) []Source {
	sources := make([]Source, len(excerpts))
	for i, e := range excerpts {
		sources[i] = Source{
			Source: e.Source,
			Text:   e.Text,
			Score:  e.Score,
			Rank:   e.Rank,
		}
	}
	return sources
}

// Converse runs one non-streaming conversational turn.
func (o *Orchestrator) Converse(
	ctx context.Context,
	req ConverseRequest,
) (*ConverseResponse, error) {
	sessionID, err := o.resolveSession(ctx, req)
	if err != nil {
		return nil, err
	}

	release := o.locks.acquire(sessionID)
	defer release()

	if o.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.turnTimeout)
		defer cancel()
	}

	genResp, included, _, err := o.runTurn(ctx, sessionID, req)
	if err != nil {
		return nil, err
	}

	answer := format.Format(genResp.Content, included)

	if err := o.recordTurn(ctx, sessionID, req.Message, answer); err != nil {
		return nil, err
	}

	resp := &ConverseResponse{
		SessionID:  sessionID,
		Answer:     answer.Text,
		Citations:  answer.Citations,
		TokensUsed: genResp.Usage.TotalTokens,
	}

	if req.IncludeSources {
		resp.Sources = buildSources(included)
	}

	return resp, nil
}

// ConverseStream runs one streaming conversational turn. Events carry
// the session ID first, then content chunks, then citations (and
// sources when requested). The turn is recorded only after the stream
// finishes cleanly.
func (o *Orchestrator) ConverseStream(
	ctx context.Context,
	req ConverseRequest,
) (<-chan StreamEvent, <-chan error) {
	eventChan := make(chan StreamEvent)
	errChan := make(chan error, 1)

	go func() {
		defer close(eventChan)
		defer close(errChan)

		sessionID, err := o.resolveSession(ctx, req)
		if err != nil {
			errChan <- err
			return
		}

		release := o.locks.acquire(sessionID)
		defer release()

		if o.turnTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, o.turnTimeout)
			defer cancel()
		}

		emit := func(ev StreamEvent) bool {
			select {
			case eventChan <- ev:
				return true
			case <-ctx.Done():
				errChan <- ctx.Err()
				return false
			}
		}

		if !emit(StreamEvent{Type: "session", SessionID: sessionID}) {
			return
		}

		turns, err := o.store.History(ctx, sessionID)
		if err != nil {
			errChan <- fmt.Errorf("failed to load history: %w", err)
			return
		}

		topK := o.topK
		if req.TopK > 0 {
			topK = req.TopK
		}

		excerpts, err := o.indexProv.Search(ctx, req.Message, topK)
		if err != nil {
			errChan <- err
			return
		}

		bundle, err := o.assembler.Assemble(o.historyWindow(turns), excerpts, req.Message)
		if err != nil {
			errChan <- err
			return
		}

		chunkChan, llmErrChan := o.llmProv.GenerateStream(ctx, llm.GenerateRequest{
			SystemPrompt: bundle.SystemPrompt,
			Messages:     bundle.Messages,
			Passages:     bundle.Passages,
			Params:       o.params,
		})

		var content string
		for chunk := range chunkChan {
			content += chunk.Content
			if chunk.Content != "" {
				if !emit(StreamEvent{Type: "chunk", Content: chunk.Content}) {
					return
				}
			}
		}

		if err := <-llmErrChan; err != nil {
			errChan <- err
			return
		}

		included := excerpts[:len(bundle.Passages)]
		answer := format.Format(content, included)

		if err := o.recordTurn(ctx, sessionID, req.Message, answer); err != nil {
			errChan <- err
			return
		}

		if len(answer.Citations) > 0 {
			if !emit(StreamEvent{Type: "citations", Citations: answer.Citations}) {
				return
			}
		}
		if req.IncludeSources && len(included) > 0 {
			if !emit(StreamEvent{Type: "sources", Sources: buildSources(included)}) {
				return
			}
		}

		emit(StreamEvent{Type: "done"})
	}()

	return eventChan, errChan
}

// History returns the stored turns of a session in chronological order.
func (o *Orchestrator) History(ctx context.Context, sessionID string) ([]session.Turn, error) {
	return o.store.History(ctx, sessionID)
}

// CreateSession starts a new empty session.
func (o *Orchestrator) CreateSession(ctx context.Context) (*session.Session, error) {
	return o.store.Create(ctx)
}

// DeleteSession removes a session and its history.
func (o *Orchestrator) DeleteSession(ctx context.Context, sessionID string) error {
	release := o.locks.acquire(sessionID)
	defer release()
	return o.store.Delete(ctx, sessionID)
}
