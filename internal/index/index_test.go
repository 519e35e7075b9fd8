//-------------------------------------------------------------------------
//
// RAG Chat Server
//
// Copyright (c) 2026, the RAG Chat Server authors
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package index

import (
	"context"
	"errors"
	"testing"
)

func TestAssignRanks(t *testing.T) {
	tests := []struct {
		name     string
		excerpts []Excerpt
		expected []Excerpt
	}{
		{
			name: "descending scores keep order",
			excerpts: []Excerpt{
				{Source: "a", Score: 0.9},
				{Source: "b", Score: 0.8},
				{Source: "c", Score: 0.7},
			},
			expected: []Excerpt{
				{Source: "a", Score: 0.9, Rank: 1},
				{Source: "b", Score: 0.8, Rank: 2},
				{Source: "c", Score: 0.7, Rank: 3},
			},
		},
		{
			name: "out of order scores are sorted",
			excerpts: []Excerpt{
				{Source: "a", Score: 0.5},
				{Source: "b", Score: 0.9},
			},
			expected: []Excerpt{
				{Source: "b", Score: 0.9, Rank: 1},
				{Source: "a", Score: 0.5, Rank: 2},
			},
		},
		{
			name: "ties keep original order",
			excerpts: []Excerpt{
				{Source: "a", Score: 0.7},
				{Source: "b", Score: 0.7},
				{Source: "c", Score: 0.7},
			},
			expected: []Excerpt{
				{Source: "a", Score: 0.7, Rank: 1},
				{Source: "b", Score: 0.7, Rank: 2},
				{Source: "c", Score: 0.7, Rank: 3},
			},
		},
		{
			name:     "empty input",
			excerpts: nil,
			expected: []Excerpt{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ranked := AssignRanks(tt.excerpts)
			if len(ranked) != len(tt.expected) {
				t.Fatalf("expected %d excerpts, got %d", len(tt.expected), len(ranked))
			}
			for i, e := range ranked {
				if e != tt.expected[i] {
					t.Errorf("excerpt %d: expected %+v, got %+v", i, tt.expected[i], e)
				}
			}
		})
	}
}

func TestAssignRanks_StrictlyIncreasing(t *testing.T) {
	excerpts := []Excerpt{
		{Source: "a", Score: 0.3},
		{Source: "b", Score: 0.9},
		{Source: "c", Score: 0.9},
		{Source: "d", Score: 0.1},
	}

	ranked := AssignRanks(excerpts)

	for i, e := range ranked {
		if e.Rank != i+1 {
			t.Errorf("expected rank %d at position %d, got %d", i+1, i, e.Rank)
		}
		if i > 0 && ranked[i-1].Score < e.Score {
			t.Errorf("scores not descending at position %d", i)
		}
	}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	results, err := Do(context.Background(), func(ctx context.Context) ([]Excerpt, error) {
		calls++
		return []Excerpt{{Source: "a", Score: 1.0, Rank: 1}}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if len(results) != 1 {
		t.Errorf("expected 1 result, got %d", len(results))
	}
}

func TestDo_RetriesTransientOnce(t *testing.T) {
	calls := 0
	results, err := Do(context.Background(), func(ctx context.Context) ([]Excerpt, error) {
		calls++
		if calls == 1 {
			return nil, MarkTransient(errors.New("connection refused"))
		}
		return []Excerpt{}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
	if results == nil {
		t.Error("expected empty result set, got nil")
	}
}

func TestDo_ExhaustedRetriesReturnUnavailable(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), func(ctx context.Context) ([]Excerpt, error) {
		calls++
		return nil, MarkTransient(errors.New("connection refused"))
	})
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestDo_NonTransientNotRetried(t *testing.T) {
	calls := 0
	wantErr := errors.New("bad request")
	_, err := Do(context.Background(), func(ctx context.Context) ([]Excerpt, error) {
		calls++
		return nil, wantErr
	})
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if !errors.Is(err, wantErr) {
		t.Errorf("expected original error, got %v", err)
	}
	if errors.Is(err, ErrUnavailable) {
		t.Error("non-transient error should not become ErrUnavailable")
	}
}

func TestDo_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Do(ctx, func(ctx context.Context) ([]Excerpt, error) {
		return nil, MarkTransient(errors.New("connection refused"))
	})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected wrapped context error, got %v", err)
	}
}

func TestIsTransient(t *testing.T) {
	if IsTransient(nil) {
		t.Error("nil should not be transient")
	}
	if IsTransient(errors.New("plain")) {
		t.Error("plain error should not be transient")
	}
	if !IsTransient(MarkTransient(errors.New("net"))) {
		t.Error("marked error should be transient")
	}
	// Wrapping preserves the marker
	wrapped := MarkTransient(errors.New("net"))
	if !IsTransient(errors.Join(wrapped, errors.New("other"))) {
		t.Error("joined error should still be transient")
	}
}
