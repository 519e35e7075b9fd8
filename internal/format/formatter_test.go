//-------------------------------------------------------------------------
//
// RAG Chat Server
//
// Copyright (c) 2026, the RAG Chat Server authors
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package format

import (
	"strings"
	"testing"

	"github.com/ragchat/rag-chat-server/internal/index"
)

func TestFormat(t *testing.T) {
	excerpts := []index.Excerpt{
		{Source: "guide.md", Rank: 1},
		{Source: "faq.md", Rank: 2},
	}

	answer := Format("The answer.", excerpts)

	if answer.Text != "The answer." {
		t.Errorf("text modified: %s", answer.Text)
	}
	if len(answer.Citations) != 2 {
		t.Fatalf("expected 2 citations, got %d", len(answer.Citations))
	}
	if answer.Citations[0] != "guide.md" || answer.Citations[1] != "faq.md" {
		t.Errorf("unexpected citation order: %v", answer.Citations)
	}
}

func TestFormat_DeduplicatesFirstSeen(t *testing.T) {
	excerpts := []index.Excerpt{
		{Source: "guide.md", Rank: 1},
		{Source: "faq.md", Rank: 2},
		{Source: "guide.md", Rank: 3},
	}

	answer := Format("text", excerpts)

	if len(answer.Citations) != 2 {
		t.Fatalf("expected 2 citations, got %d", len(answer.Citations))
	}
	if answer.Citations[0] != "guide.md" {
		t.Errorf("expected first-seen order, got %v", answer.Citations)
	}
}

func TestFormat_SkipsEmptySources(t *testing.T) {
	excerpts := []index.Excerpt{
		{Source: "", Rank: 1},
		{Source: "faq.md", Rank: 2},
	}

	answer := Format("text", excerpts)

	if len(answer.Citations) != 1 || answer.Citations[0] != "faq.md" {
		t.Errorf("unexpected citations: %v", answer.Citations)
	}
}

func TestFormat_NoExcerpts(t *testing.T) {
	answer := Format("text", nil)

	if answer.Citations != nil {
		t.Errorf("expected nil citations, got %v", answer.Citations)
	}
}

func TestDisplay(t *testing.T) {
	answer := Answer{
		Text:      "The answer.",
		Citations: []string{"guide.md", "faq.md"},
	}

	display := answer.Display()

	if !strings.HasPrefix(display, "The answer.") {
		t.Errorf("answer text missing: %s", display)
	}
	if !strings.Contains(display, "Sources:\n- guide.md\n- faq.md") {
		t.Errorf("sources block missing: %s", display)
	}
}

func TestDisplay_NoCitations(t *testing.T) {
	answer := Answer{Text: "Just text."}

	if answer.Display() != "Just text." {
		t.Errorf("unexpected display: %s", answer.Display())
	}
}

func TestDisplay_Idempotent(t *testing.T) {
	answer := Answer{
		Text:      "The answer.",
		Citations: []string{"guide.md"},
	}

	once := answer.Display()
	again := Answer{Text: once, Citations: answer.Citations}.Display()

	if once != again {
		t.Errorf("Display is not idempotent:\n%s\nvs\n%s", once, again)
	}
}
