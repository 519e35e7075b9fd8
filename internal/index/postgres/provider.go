//-------------------------------------------------------------------------
//
// RAG Chat Server
//
// Copyright (c) 2026, the RAG Chat Server authors
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/ragchat/rag-chat-server/internal/config"
	"github.com/ragchat/rag-chat-server/internal/index"
	"github.com/ragchat/rag-chat-server/internal/llm"
)

// Provider implements index.Provider against a PostgreSQL table. When
// both a vector column and text search are configured, the two result
// sets are fused with reciprocal rank fusion.
type Provider struct {
	pool       *Pool
	embedder   llm.EmbeddingProvider
	table      config.TableSource
	textSearch bool
}

// NewProvider creates a Postgres index provider. The embedder may be
// nil when no vector column is configured.
func NewProvider(
	pool *Pool,
	embedder llm.EmbeddingProvider,
	cfg config.IndexConfig,
) *Provider {
	return &Provider{
		pool:       pool,
		embedder:   embedder,
		table:      cfg.Table,
		textSearch: cfg.TextSearchEnabled(),
	}
}

// parseTableIdentifier splits a table name into schema and table parts.
// Supports formats: "table", "schema.table"
func parseTableIdentifier(table string) pgx.Identifier {
	parts := strings.Split(table, ".")
	return pgx.Identifier(parts)
}

// formatVector converts a float32 slice to pgvector string format [x,y,z,...].
func formatVector(embedding []float32) string {
	strs := make([]string, len(embedding))
	for i, v := range embedding {
		strs[i] = fmt.Sprintf("%g", v)
	}
	return "[" + strings.Join(strs, ",") + "]"
}

// sourceExpr returns the SQL expression selecting the source identifier,
// or an empty-string literal when no source column is configured.
func (p *Provider) sourceExpr() string {
	if p.table.SourceColumn == "" {
		return "''"
	}
	return pgx.Identifier{p.table.SourceColumn}.Sanitize()
}

// buildVectorQuery builds the pgvector similarity query. The <=>
// operator returns cosine distance, so we subtract from 1 for similarity.
func (p *Provider) buildVectorQuery() string {
	vecCol := pgx.Identifier{p.table.VectorColumn}.Sanitize()
	return fmt.Sprintf(`
		SELECT
			%s AS source,
			%s AS text,
			1 - (%s <=> $1::vector) AS score
		FROM %s
		WHERE %s IS NOT NULL
		ORDER BY %s <=> $1::vector
		LIMIT $2`,
		p.sourceExpr(),
		pgx.Identifier{p.table.TextColumn}.Sanitize(),
		vecCol,
		parseTableIdentifier(p.table.Table).Sanitize(),
		vecCol,
		vecCol,
	)
}

// buildTextQuery builds the full-text search query using websearch
// syntax and ts_rank scoring.
func (p *Provider) buildTextQuery() string {
	textCol := pgx.Identifier{p.table.TextColumn}.Sanitize()
	return fmt.Sprintf(`
		SELECT
			%s AS source,
			%s AS text,
			ts_rank(to_tsvector('english', %s), websearch_to_tsquery('english', $1)) AS score
		FROM %s
		WHERE to_tsvector('english', %s) @@ websearch_to_tsquery('english', $1)
		ORDER BY score DESC
		LIMIT $2`,
		p.sourceExpr(),
		textCol,
		textCol,
		parseTableIdentifier(p.table.Table).Sanitize(),
		textCol,
	)
}

// runQuery executes a search query and collects the result rows.
func (p *Provider) runQuery(
	ctx context.Context,
	sql string,
	args ...any,
) ([]index.Excerpt, error) {
	rows, err := p.pool.Pool().Query(ctx, sql, args...)
	if err != nil {
		// A failed query against a reachable database is rare; the
		// common cause is a lost connection, so retry is worthwhile.
		return nil, index.MarkTransient(fmt.Errorf("index query failed: %w", err))
	}
	defer rows.Close()

	var excerpts []index.Excerpt
	for rows.Next() {
		var e index.Excerpt
		if err := rows.Scan(&e.Source, &e.Text, &e.Score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		excerpts = append(excerpts, e)
	}

	if err := rows.Err(); err != nil {
		return nil, index.MarkTransient(fmt.Errorf("error iterating rows: %w", err))
	}

	return excerpts, nil
}

// Search retrieves the topK most relevant excerpts for the query.
func (p *Provider) Search(
	ctx context.Context,
	query string,
	topK int,
) ([]index.Excerpt, error) {
	vectorEnabled := p.table.VectorColumn != "" && p.embedder != nil

	// Embed the query once, outside the retry loop. An embedding
	// failure is a model failure, not an index failure.
	var queryVector string
	if vectorEnabled {
		embedding, err := p.embedder.Embed(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("failed to embed query: %w", err)
		}
		queryVector = formatVector(embedding)
	}

	return index.Do(ctx, func(ctx context.Context) ([]index.Excerpt, error) {
		var vectorResults, textResults []index.Excerpt
		var err error

		if vectorEnabled {
			vectorResults, err = p.runQuery(ctx, p.buildVectorQuery(), queryVector, topK)
			if err != nil {
				return nil, err
			}
		}

		if p.textSearch {
			textResults, err = p.runQuery(ctx, p.buildTextQuery(), query, topK)
			if err != nil {
				return nil, err
			}
		}

		var excerpts []index.Excerpt
		switch {
		case vectorEnabled && p.textSearch:
			excerpts = index.Fuse(vectorResults, textResults, index.DefaultRRFConstant)
		case vectorEnabled:
			excerpts = vectorResults
		default:
			excerpts = textResults
		}

		if len(excerpts) > topK {
			excerpts = excerpts[:topK]
		}

		return index.AssignRanks(excerpts), nil
	})
}

// Close releases the underlying connection pool.
func (p *Provider) Close() {
	p.pool.Close()
}

// Ensure Provider implements the interface.
var _ index.Provider = (*Provider)(nil)
