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
	"errors"
	"sync"
	"testing"
)

func TestMemoryStore_CreateAndHistory(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sess, err := store.Create(ctx)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("expected a session ID")
	}

	history, err := store.History(ctx, sess.ID)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("expected empty history, got %d turns", len(history))
	}
}

func TestMemoryStore_Append(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sess, _ := store.Create(ctx)

	err := store.Append(ctx, sess.ID,
		Turn{Role: RoleUser, Content: "hello"},
		Turn{Role: RoleAssistant, Content: "hi there", Sources: []string{"doc-1"}},
	)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	history, err := store.History(ctx, sess.ID)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(history))
	}
	if history[0].Role != RoleUser || history[0].Content != "hello" {
		t.Errorf("unexpected first turn: %+v", history[0])
	}
	if history[1].Sources[0] != "doc-1" {
		t.Errorf("expected sources on assistant turn, got %v", history[1].Sources)
	}
}

func TestMemoryStore_AppendCreatesSession(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Append(ctx, "fresh-id", Turn{Role: RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	history, _ := store.History(ctx, "fresh-id")
	if len(history) != 1 {
		t.Errorf("expected 1 turn, got %d", len(history))
	}

	if err := store.Delete(ctx, "fresh-id"); err != nil {
		t.Errorf("session should exist after append: %v", err)
	}
}

func TestMemoryStore_HistoryUnknownSession(t *testing.T) {
	store := NewMemoryStore()

	history, err := store.History(context.Background(), "no-such-session")
	if err != nil {
		t.Fatalf("unknown session should not error: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("expected empty history, got %d turns", len(history))
	}
}

func TestMemoryStore_HistoryReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sess, _ := store.Create(ctx)
	_ = store.Append(ctx, sess.ID, Turn{Role: RoleUser, Content: "original"})

	history, _ := store.History(ctx, sess.ID)
	history[0].Content = "mutated"

	again, _ := store.History(ctx, sess.ID)
	if again[0].Content != "original" {
		t.Error("History must return a copy of the stored turns")
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sess, _ := store.Create(ctx)
	_ = store.Append(ctx, sess.ID, Turn{Role: RoleUser, Content: "hello"})

	if err := store.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	history, _ := store.History(ctx, sess.ID)
	if len(history) != 0 {
		t.Errorf("expected empty history after delete, got %d turns", len(history))
	}
}

func TestMemoryStore_DeleteUnknownSession(t *testing.T) {
	store := NewMemoryStore()

	err := store.Delete(context.Background(), "no-such-session")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestMemoryStore_ConcurrentAppend(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sess, _ := store.Create(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Append(ctx, sess.ID, Turn{Role: RoleUser, Content: "turn"})
		}()
	}
	wg.Wait()

	history, _ := store.History(ctx, sess.ID)
	if len(history) != 20 {
		t.Errorf("expected 20 turns, got %d", len(history))
	}
}
