//-------------------------------------------------------------------------
//
// RAG Chat Server
//
// Copyright (c) 2026, the RAG Chat Server authors
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package prompt assembles retrieved excerpts, conversation history, and
// the new user utterance into a bounded prompt for the model.
package prompt

import (
	"errors"

	"github.com/ragchat/rag-chat-server/internal/index"
	"github.com/ragchat/rag-chat-server/internal/llm"
)

// ErrPromptTooLarge is returned when the system prompt and user
// utterance alone exceed the prompt budget. The utterance is never
// truncated, so there is nothing left to trim.
var ErrPromptTooLarge = errors.New("prompt exceeds the token budget")

// DefaultExcerptBudget is the fraction of the prompt budget reserved
// for retrieved excerpts.
const DefaultExcerptBudget = 0.6

// Assembler builds prompts within a fixed token budget. Excerpts fill
// a reserved share of the budget in rank order; whatever remains after
// the system prompt, the utterance, and the excerpts goes to history.
type Assembler struct {
	counter       TokenCounter
	maxTokens     int
	excerptBudget float64
	systemPrompt  string
}

// Option configures the assembler.
type Option func(*Assembler)

// WithTokenCounter sets a custom token counter.
func WithTokenCounter(counter TokenCounter) Option {
	return func(a *Assembler) {
		a.counter = counter
	}
}

// WithExcerptBudget sets the fraction of the budget reserved for
// excerpts (0.0 - 1.0).
func WithExcerptBudget(fraction float64) Option {
	return func(a *Assembler) {
		if fraction > 0 && fraction <= 1 {
			a.excerptBudget = fraction
		}
	}
}

// WithSystemPrompt sets the system prompt included in every bundle.
func WithSystemPrompt(prompt string) Option {
	return func(a *Assembler) {
		a.systemPrompt = prompt
	}
}

// NewAssembler creates an assembler with the given prompt budget.
func NewAssembler(maxTokens int, opts ...Option) *Assembler {
	a := &Assembler{
		counter:       Estimator{},
		maxTokens:     maxTokens,
		excerptBudget: DefaultExcerptBudget,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Bundle is an assembled prompt ready for the model.
type Bundle struct {
	SystemPrompt string
	Messages     []llm.Message // History in chronological order, utterance last
	Passages     []llm.Passage // Included excerpts, in rank order
	TokensUsed   int           // Estimated total
}

// Assemble builds a prompt bundle. History must be in chronological
// order. The utterance is always included whole; excerpts are taken in
// rank order until their reserved budget is spent, then history fills
// the remainder newest-first. Whole items only: nothing is truncated
// mid-text.
func (a *Assembler) Assemble(
	history []llm.Message,
	excerpts []index.Excerpt,
	utterance string,
) (*Bundle, error) {
	systemTokens := a.counter.Count(a.systemPrompt)
	utteranceTokens := a.counter.Count(utterance)

	if systemTokens+utteranceTokens > a.maxTokens {
		return nil, ErrPromptTooLarge
	}

	used := systemTokens + utteranceTokens

	// Excerpts fill their reserved share in rank order. The first
	// excerpt that does not fit ends the fill, keeping the selection a
	// deterministic prefix of the ranking.
	excerptLimit := int(float64(a.maxTokens) * a.excerptBudget)
	passages := make([]llm.Passage, 0, len(excerpts))
	excerptTokens := 0
	for _, e := range excerpts {
		t := a.counter.Count(e.Text)
		if excerptTokens+t > excerptLimit || used+t > a.maxTokens {
			break
		}
		passages = append(passages, llm.Passage{Source: e.Source, Text: e.Text})
		excerptTokens += t
		used += t
	}

	// History fills the remainder, newest turns first so the most
	// recent context survives when the budget is tight.
	var included []llm.Message
	for i := len(history) - 1; i >= 0; i-- {
		t := a.counter.Count(history[i].Content)
		if used+t > a.maxTokens {
			break
		}
		included = append(included, history[i])
		used += t
	}

	// Restore chronological order
	messages := make([]llm.Message, 0, len(included)+1)
	for i := len(included) - 1; i >= 0; i-- {
		messages = append(messages, included[i])
	}
	messages = append(messages, llm.Message{Role: "user", Content: utterance})

	return &Bundle{
		SystemPrompt: a.systemPrompt,
		Messages:     messages,
		Passages:     passages,
		TokensUsed:   used,
	}, nil
}
