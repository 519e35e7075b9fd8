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
	"math"
	"testing"
)

func TestFuse_CombinesBothLists(t *testing.T) {
	primary := []Excerpt{
		{Source: "a", Text: "doc a", Score: 0.9},
		{Source: "b", Text: "doc b", Score: 0.8},
	}
	secondary := []Excerpt{
		{Source: "b", Text: "doc b", Score: 12.5},
		{Source: "c", Text: "doc c", Score: 10.0},
	}

	fused := Fuse(primary, secondary, 60)

	if len(fused) != 3 {
		t.Fatalf("expected 3 fused results, got %d", len(fused))
	}

	// "b" appears in both lists so it should rank first
	if fused[0].Source != "b" {
		t.Errorf("expected 'b' first, got '%s'", fused[0].Source)
	}

	expectedScore := 1.0/(60.0+2.0) + 1.0/(60.0+1.0)
	if math.Abs(fused[0].Score-expectedScore) > 1e-9 {
		t.Errorf("expected RRF score %f, got %f", expectedScore, fused[0].Score)
	}
}

func TestFuse_RanksReassigned(t *testing.T) {
	primary := []Excerpt{
		{Source: "a", Score: 0.9},
		{Source: "b", Score: 0.8},
		{Source: "c", Score: 0.7},
	}

	fused := Fuse(primary, nil, 0)

	for i, e := range fused {
		if e.Rank != i+1 {
			t.Errorf("expected rank %d at position %d, got %d", i+1, i, e.Rank)
		}
	}
}

func TestFuse_DefaultConstant(t *testing.T) {
	primary := []Excerpt{{Source: "a", Score: 1.0}}

	fused := Fuse(primary, nil, 0)

	expected := 1.0 / (DefaultRRFConstant + 1.0)
	if math.Abs(fused[0].Score-expected) > 1e-9 {
		t.Errorf("expected default-k score %f, got %f", expected, fused[0].Score)
	}
}

func TestFuse_KeyFallsBackToText(t *testing.T) {
	// Without source identifiers, identical text should merge
	primary := []Excerpt{{Text: "same snippet", Score: 0.9}}
	secondary := []Excerpt{{Text: "same snippet", Score: 5.0}}

	fused := Fuse(primary, secondary, 60)

	if len(fused) != 1 {
		t.Fatalf("expected 1 merged result, got %d", len(fused))
	}
}

func TestFuse_EmptyInputs(t *testing.T) {
	if got := Fuse(nil, nil, 60); len(got) != 0 {
		t.Errorf("expected empty result, got %d", len(got))
	}
}

func TestFuse_TiesKeepFirstSeenOrder(t *testing.T) {
	// Same rank position in disjoint lists produces equal RRF scores;
	// first-seen order breaks the tie.
	primary := []Excerpt{{Source: "a", Score: 0.9}}
	secondary := []Excerpt{{Source: "z", Score: 4.2}}

	fused := Fuse(primary, secondary, 60)

	if len(fused) != 2 {
		t.Fatalf("expected 2 results, got %d", len(fused))
	}
	if fused[0].Source != "a" || fused[1].Source != "z" {
		t.Errorf("expected first-seen order [a z], got [%s %s]",
			fused[0].Source, fused[1].Source)
	}
}
