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
	"sort"
)

// DefaultRRFConstant is the default k constant for RRF fusion.
// A value of 60 is commonly used in practice.
const DefaultRRFConstant = 60

// Fuse combines two result lists from the same index (for example a
// vector leg and a lexical leg of a hybrid search) using Reciprocal
// Rank Fusion.
//
// RRF formula: score = sum(1 / (k + rank)) for each ranking
// where k is a constant (default 60) and rank is 1-indexed.
//
// Results are keyed by source identifier, falling back to the excerpt
// text when the source is empty. The fused list is sorted by combined
// RRF score (highest first) with ranks reassigned.
func Fuse(primary, secondary []Excerpt, k float64) []Excerpt {
	if k <= 0 {
		k = DefaultRRFConstant
	}

	type fused struct {
		excerpt Excerpt
		score   float64
		order   int // First-seen position, for stable tie-breaking
	}

	resultMap := make(map[string]*fused)
	order := 0

	accumulate := func(results []Excerpt) {
		for i, r := range results {
			rank := i + 1 // 1-indexed
			key := r.Text
			if r.Source != "" {
				key = r.Source
			}

			if existing, ok := resultMap[key]; ok {
				existing.score += 1.0 / (k + float64(rank))
			} else {
				resultMap[key] = &fused{
					excerpt: r,
					score:   1.0 / (k + float64(rank)),
					order:   order,
				}
				order++
			}
		}
	}

	accumulate(primary)
	accumulate(secondary)

	combined := make([]*fused, 0, len(resultMap))
	for _, f := range resultMap {
		combined = append(combined, f)
	}

	sort.Slice(combined, func(i, j int) bool {
		if combined[i].score != combined[j].score {
			return combined[i].score > combined[j].score
		}
		return combined[i].order < combined[j].order
	})

	results := make([]Excerpt, len(combined))
	for i, f := range combined {
		e := f.excerpt
		e.Score = f.score
		e.Rank = i + 1
		results[i] = e
	}

	return results
}
