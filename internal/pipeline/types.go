//-------------------------------------------------------------------------
//
// RAG Chat Server
//
// Copyright (c) 2026, the RAG Chat Server authors
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package pipeline executes conversational RAG turns and manages the
// configured pipelines.
package pipeline

// Info contains basic pipeline information for listing.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ConverseRequest is a single conversational turn.
type ConverseRequest struct {
	SessionID      string `json:"session_id,omitempty"` // Empty starts a new session
	Message        string `json:"message"`
	Stream         bool   `json:"stream"`
	IncludeSources bool   `json:"include_sources"`  // Include excerpt details (default: false)
	TopK           int    `json:"top_k,omitempty"`  // Override the pipeline's retrieval depth
}

// ConverseResponse is a completed conversational turn.
type ConverseResponse struct {
	SessionID  string   `json:"session_id"`
	Answer     string   `json:"answer"`
	Citations  []string `json:"citations,omitempty"`
	Sources    []Source `json:"sources,omitempty"`
	TokensUsed int      `json:"tokens_used"`
}

// Source describes an excerpt that informed the answer.
type Source struct {
	Source string  `json:"source,omitempty"`
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
	Rank   int     `json:"rank"`
}

// StreamEvent represents a streaming response event.
type StreamEvent struct {
	Type      string   `json:"type"`                 // "session", "chunk", "citations", "sources", "done", "error"
	SessionID string   `json:"session_id,omitempty"` // For "session" type
	Content   string   `json:"content,omitempty"`    // For "chunk" type
	Citations []string `json:"citations,omitempty"`  // For "citations" type
	Sources   []Source `json:"sources,omitempty"`    // For "sources" type
	Error     string   `json:"error,omitempty"`      // For "error" type
}
