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
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ragchat/rag-chat-server/internal/config"
	"github.com/ragchat/rag-chat-server/internal/index"
	"github.com/ragchat/rag-chat-server/internal/index/opensearch"
	"github.com/ragchat/rag-chat-server/internal/index/postgres"
	"github.com/ragchat/rag-chat-server/internal/llm"
	"github.com/ragchat/rag-chat-server/internal/llm/factory"
	"github.com/ragchat/rag-chat-server/internal/prompt"
	"github.com/ragchat/rag-chat-server/internal/session"
)

// ErrPipelineNotFound is returned when a requested pipeline does not exist.
var ErrPipelineNotFound = errors.New("pipeline not found")

// defaultSystemPrompt is used when a pipeline does not configure one.
const defaultSystemPrompt = `You are a helpful assistant that answers questions based on the provided context.
Answer the question using only the information from the context.
If the context doesn't contain enough information to answer, say so.
Be concise and accurate in your responses.`

// Manager manages the lifecycle of conversational pipelines.
type Manager struct {
	mu        sync.RWMutex
	pipelines map[string]*Pipeline
	logger    *slog.Logger
}

// Pipeline is a configured conversational pipeline with all providers
// initialized.
type Pipeline struct {
	name         string
	description  string
	orchestrator *Orchestrator
	closers      []func()
	logger       *slog.Logger
}

// ManagerConfig contains configuration for creating a Manager.
type ManagerConfig struct {
	Config *config.Config
	Logger *slog.Logger
}

// NewManager creates a new pipeline manager from configuration.
func NewManager(cfg *config.Config) (*Manager, error) {
	return NewManagerWithLogger(ManagerConfig{
		Config: cfg,
		Logger: slog.Default(),
	})
}

// NewManagerWithLogger creates a new pipeline manager with a custom logger.
func NewManagerWithLogger(cfg ManagerConfig) (*Manager, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		pipelines: make(map[string]*Pipeline),
		logger:    logger,
	}

	ctx := context.Background()
	for _, pCfg := range cfg.Config.Pipelines {
		p, err := m.createPipeline(ctx, pCfg)
		if err != nil {
			// Clean up any already created pipelines
			for _, existing := range m.pipelines {
				existing.Close()
			}
			return nil, fmt.Errorf("failed to create pipeline %s: %w", pCfg.Name, err)
		}
		m.pipelines[pCfg.Name] = p
		logger.Info("pipeline created",
			"name", pCfg.Name,
			"index_backend", pCfg.Index.Backend,
			"session_backend", pCfg.Sessions.Backend,
			"chat_provider", pCfg.ChatLLM.Provider,
		)
	}

	return m, nil
}

// createPipeline creates a single pipeline with all providers initialized.
func (m *Manager) createPipeline(
	ctx context.Context,
	pCfg config.Pipeline,
) (*Pipeline, error) {
	pipelineLogger := m.logger.With("pipeline", pCfg.Name)
	var closers []func()

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	// API keys are loaded per pipeline so each pipeline only needs the
	// keys of the providers it actually uses.
	keyLoader := config.NewAPIKeyLoader(pCfg.APIKeys)
	apiKeys, err := keyLoader.LoadKeysForPipeline(pCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load API keys: %w", err)
	}

	indexProv, indexCloser, err := m.createIndexProvider(ctx, pCfg, apiKeys)
	if err != nil {
		return nil, err
	}
	if indexCloser != nil {
		closers = append(closers, indexCloser)
	}

	store, err := m.createSessionStore(ctx, pCfg)
	if err != nil {
		closeAll()
		return nil, err
	}
	closers = append(closers, store.Close)

	llmProv, err := factory.NewProvider(pCfg.ChatLLM, apiKeys)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("failed to create completion provider: %w", err)
	}

	systemPrompt := pCfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}

	assembler := prompt.NewAssembler(pCfg.MaxPromptTokens,
		prompt.WithExcerptBudget(pCfg.ExcerptBudget),
		prompt.WithSystemPrompt(systemPrompt),
	)

	orchestrator := NewOrchestrator(OrchestratorConfig{
		IndexProvider: indexProv,
		LLMProvider:   llmProv,
		Store:         store,
		Assembler:     assembler,
		Params: llm.Params{
			Temperature:     pCfg.ModelParams.Temperature,
			MaxOutputTokens: pCfg.ModelParams.MaxOutputTokens,
			StopSequences:   pCfg.ModelParams.StopSequences,
		},
		TopK:         pCfg.TopK,
		HistoryTurns: pCfg.HistoryTurns,
		TurnTimeout:  time.Duration(pCfg.TurnTimeout) * time.Second,
		Logger:       pipelineLogger,
	})

	return &Pipeline{
		name:         pCfg.Name,
		description:  pCfg.Description,
		orchestrator: orchestrator,
		closers:      closers,
		logger:       pipelineLogger,
	}, nil
}

// createIndexProvider builds the document index backend for a pipeline.
func (m *Manager) createIndexProvider(
	ctx context.Context,
	pCfg config.Pipeline,
	apiKeys *config.LoadedKeys,
) (index.Provider, func(), error) {
	switch pCfg.Index.Backend {
	case "opensearch":
		opts := []opensearch.ClientOption{}
		if pCfg.Index.Username != "" {
			opts = append(opts,
				opensearch.WithBasicAuth(pCfg.Index.Username, pCfg.Index.Password))
		}
		client := opensearch.NewClient(pCfg.Index.Endpoint, pCfg.Index.Index, opts...)
		return client, nil, nil

	case "postgres":
		pool, err := postgres.NewPool(ctx, pCfg.Index.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to index database: %w", err)
		}

		var embedder llm.EmbeddingProvider
		if pCfg.Index.Table.VectorColumn != "" {
			embedder, err = factory.NewEmbeddingProvider(pCfg.EmbeddingLLM, apiKeys)
			if err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("failed to create embedding provider: %w", err)
			}
		}

		prov := postgres.NewProvider(pool, embedder, pCfg.Index)
		return prov, prov.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown index backend: %s", pCfg.Index.Backend)
	}
}

// createSessionStore builds the conversation state backend for a pipeline.
func (m *Manager) createSessionStore(
	ctx context.Context,
	pCfg config.Pipeline,
) (session.Store, error) {
	switch pCfg.Sessions.Backend {
	case "", "memory":
		return session.NewMemoryStore(), nil

	case "postgres":
		pool, err := postgres.NewPool(ctx, pCfg.Sessions.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to session database: %w", err)
		}
		store := session.NewPostgresStore(pool.Pool())
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown session backend: %s", pCfg.Sessions.Backend)
	}
}

// List returns information about all available pipelines, sorted by name.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]Info, 0, len(m.pipelines))
	for _, p := range m.pipelines {
		infos = append(infos, Info{
			Name:        p.name,
			Description: p.description,
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})

	return infos
}

// Get retrieves a pipeline by name.
func (m *Manager) Get(name string) (*Pipeline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.pipelines[name]
	if !ok {
		return nil, ErrPipelineNotFound
	}

	return p, nil
}

// Close shuts down the manager and releases resources.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.pipelines {
		p.Close()
	}
	m.pipelines = nil

	return nil
}

// Converse runs one non-streaming conversational turn.
func (p *Pipeline) Converse(
	ctx context.Context,
	req ConverseRequest,
) (*ConverseResponse, error) {
	return p.orchestrator.Converse(ctx, req)
}

// ConverseStream runs one streaming conversational turn.
func (p *Pipeline) ConverseStream(
	ctx context.Context,
	req ConverseRequest,
) (<-chan StreamEvent, <-chan error) {
	req.Stream = true
	return p.orchestrator.ConverseStream(ctx, req)
}

// CreateSession starts a new empty session.
func (p *Pipeline) CreateSession(ctx context.Context) (*session.Session, error) {
	return p.orchestrator.CreateSession(ctx)
}

// History returns a session's turns in chronological order.
func (p *Pipeline) History(ctx context.Context, sessionID string) ([]session.Turn, error) {
	return p.orchestrator.History(ctx, sessionID)
}

// DeleteSession removes a session and its history.
func (p *Pipeline) DeleteSession(ctx context.Context, sessionID string) error {
	return p.orchestrator.DeleteSession(ctx, sessionID)
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string {
	return p.name
}

// Description returns the pipeline description.
func (p *Pipeline) Description() string {
	return p.description
}

// Close releases resources associated with the pipeline.
func (p *Pipeline) Close() {
	for _, c := range p.closers {
		c()
	}
}
