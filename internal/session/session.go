//-------------------------------------------------------------------------
//
// RAG Chat Server
//
// Copyright (c) 2026, the RAG Chat Server authors
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package session stores per-session conversation history.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound is returned when deleting a session that does not
// exist.
var ErrSessionNotFound = errors.New("session not found")

// Roles for conversation turns.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is a single utterance in a conversation. Turns are immutable
// once appended.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Sources   []string  `json:"sources,omitempty"` // Citations on assistant turns
	CreatedAt time.Time `json:"created_at"`
}

// Session identifies a conversation.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists conversation state. History returns turns in
// chronological order; reading an unknown session yields an empty
// history, not an error.
type Store interface {
	// Create starts a new session and returns its identifier.
	Create(ctx context.Context) (*Session, error)

	// History returns all turns of a session in chronological order.
	History(ctx context.Context, sessionID string) ([]Turn, error)

	// Append adds turns to a session atomically, creating the session
	// if needed.
	Append(ctx context.Context, sessionID string, turns ...Turn) error

	// Delete removes a session and its history. Returns
	// ErrSessionNotFound if the session does not exist.
	Delete(ctx context.Context, sessionID string) error

	// Close releases any resources held by the store.
	Close()
}
