//-------------------------------------------------------------------------
//
// RAG Chat Server
//
// Copyright (c) 2026, the RAG Chat Server authors
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists sessions in PostgreSQL so conversation history
// survives restarts and is shared across server instances.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a session store on an existing connection
// pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the session tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS chat_sessions (
			id uuid PRIMARY KEY,
			created_at timestamptz NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS chat_turns (
			id bigserial PRIMARY KEY,
			session_id uuid NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
			role text NOT NULL,
			content text NOT NULL,
			sources text[],
			created_at timestamptz NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS chat_turns_session_idx ON chat_turns (session_id, id);
	`)
	if err != nil {
		return fmt.Errorf("failed to create session schema: %w", err)
	}
	return nil
}

// Create starts a new session.
func (s *PostgresStore) Create(ctx context.Context) (*Session, error) {
	sess := &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_sessions (id, created_at) VALUES ($1, $2)`,
		sess.ID, sess.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return sess, nil
}

// History returns the turns of a session in chronological order. An
// unknown session yields an empty history.
func (s *PostgresStore) History(ctx context.Context, sessionID string) ([]Turn, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT role, content, COALESCE(sources, '{}'), created_at
		FROM chat_turns
		WHERE session_id = $1
		ORDER BY id`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	turns := []Turn{}
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Role, &t.Content, &t.Sources, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turns = append(turns, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turns: %w", err)
	}

	return turns, nil
}

// Append adds turns to a session atomically, creating the session if
// needed. Either every turn lands or none do.
func (s *PostgresStore) Append(ctx context.Context, sessionID string, turns ...Turn) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO chat_sessions (id) VALUES ($1)
		ON CONFLICT (id) DO NOTHING`,
		sessionID)
	if err != nil {
		return fmt.Errorf("failed to ensure session: %w", err)
	}

	for _, t := range turns {
		createdAt := t.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO chat_turns (session_id, role, content, sources, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			sessionID, t.Role, t.Content, t.Sources, createdAt)
		if err != nil {
			return fmt.Errorf("failed to append turn: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit turns: %w", err)
	}

	return nil
}

// Delete removes a session and its history.
func (s *PostgresStore) Delete(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM chat_sessions WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ensure PostgresStore implements the interface.
var _ Store = (*PostgresStore)(nil)
