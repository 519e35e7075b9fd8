//-------------------------------------------------------------------------
//
// RAG Chat Server
//
// Copyright (c) 2026, the RAG Chat Server authors
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package format turns raw model output into a cited answer.
package format

import (
	"strings"

	"github.com/ragchat/rag-chat-server/internal/index"
)

// Answer is a model response with the sources that informed it.
type Answer struct {
	Text      string   `json:"text"`
	Citations []string `json:"citations,omitempty"`
}

// Format attaches citations to a model response. Citations are the
// source identifiers of the excerpts that were included in the prompt,
// deduplicated in first-seen order. Excerpts without a source are
// skipped.
func Format(text string, excerpts []index.Excerpt) Answer {
	seen := make(map[string]bool)
	var citations []string

	for _, e := range excerpts {
		if e.Source == "" || seen[e.Source] {
			continue
		}
		seen[e.Source] = true
		citations = append(citations, e.Source)
	}

	return Answer{
		Text:      text,
		Citations: citations,
	}
}

// Display renders the answer with a trailing source list. Rendering an
// already rendered answer returns it unchanged.
func (a Answer) Display() string {
	if len(a.Citations) == 0 {
		return a.Text
	}

	var sb strings.Builder
	sb.WriteString("\n\nSources:\n")
	for _, c := range a.Citations {
		sb.WriteString("- ")
		sb.WriteString(c)
		sb.WriteString("\n")
	}
	block := strings.TrimSuffix(sb.String(), "\n")

	if strings.HasSuffix(a.Text, block) {
		return a.Text
	}
	return a.Text + block
}
