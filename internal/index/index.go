//-------------------------------------------------------------------------
//
// RAG Chat Server
//
// Copyright (c) 2026, the RAG Chat Server authors
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package index defines the document index gateway used for retrieval.
package index

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrUnavailable is returned when the external search index cannot be
// reached after the bounded retry is exhausted.
var ErrUnavailable = errors.New("search index unavailable")

// Retry policy for transient search failures: one retry with exponential
// backoff starting at the base delay.
const (
	retryAttempts = 2
	retryBase     = 200 * time.Millisecond
)

// Excerpt is a ranked snippet returned by a document index.
type Excerpt struct {
	Source string  `json:"source"` // Document URI or title
	Text   string  `json:"text"`
	Score  float64 `json:"score"` // Higher is more relevant
	Rank   int     `json:"rank"`  // 1-based, unique within a result set
}

// Provider performs a natural-language search against a document index.
// An empty result set is a valid outcome, not an error.
type Provider interface {
	Search(ctx context.Context, query string, topK int) ([]Excerpt, error)
}

// transientError marks a failure that may succeed on retry, such as a
// network error or an overloaded index node.
type transientError struct {
	err error
}

func (e *transientError) Error() string {
	return e.err.Error()
}

func (e *transientError) Unwrap() error {
	return e.err
}

// MarkTransient wraps an error so Do will retry it once before giving up.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err was marked transient.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// Do runs a search function with the bounded retry policy. Transient
// failures are retried once with backoff; after the retry budget is
// exhausted the failure surfaces as ErrUnavailable. Non-transient
// failures are returned as-is without retrying.
func Do(
	ctx context.Context,
	search func(ctx context.Context) ([]Excerpt, error),
) ([]Excerpt, error) {
	var lastErr error

	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			delay := retryBase << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
			}
		}

		results, err := search(ctx)
		if err == nil {
			return results, nil
		}
		if !IsTransient(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w: %w", ErrUnavailable, lastErr)
}

// AssignRanks sorts excerpts by descending score and assigns 1-based
// ranks. The sort is stable, so ties keep the index service's original
// order.
func AssignRanks(excerpts []Excerpt) []Excerpt {
	ranked := make([]Excerpt, len(excerpts))
	copy(ranked, excerpts)

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	for i := range ranked {
		ranked[i].Rank = i + 1
	}

	return ranked
}
