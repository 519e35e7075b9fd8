//-------------------------------------------------------------------------
//
// RAG Chat Server
//
// Copyright (c) 2026, the RAG Chat Server authors
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package opensearch provides a document index gateway backed by an
// OpenSearch-compatible REST search service.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ragchat/rag-chat-server/internal/index"
)

const (
	defaultTimeout = 30
)

// Default fields queried when none are configured. Title matches are
// boosted over body matches.
var defaultFields = []string{"title^2", "content"}

// Client is a search gateway for one OpenSearch index.
type Client struct {
	httpClient *http.Client
	endpoint   string
	indexName  string
	username   string
	password   string
	fields     []string
}

// NewClient creates a new OpenSearch gateway.
func NewClient(endpoint, indexName string, opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: defaultTimeout * time.Second,
		},
		endpoint:  endpoint,
		indexName: indexName,
		fields:    defaultFields,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBasicAuth sets HTTP basic auth credentials.
func WithBasicAuth(username, password string) ClientOption {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(seconds int) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = time.Duration(seconds) * time.Second
	}
}

// WithFields sets the document fields searched by queries.
func WithFields(fields []string) ClientOption {
	return func(c *Client) {
		if len(fields) > 0 {
			c.fields = fields
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// searchRequest is the _search API request body.
type searchRequest struct {
	Size  int         `json:"size"`
	Query searchQuery `json:"query"`
}

type searchQuery struct {
	MultiMatch multiMatchQuery `json:"multi_match"`
}

type multiMatchQuery struct {
	Query  string   `json:"query"`
	Fields []string `json:"fields"`
}

// searchResponse is the _search API response body.
type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string  `json:"_id"`
			Score  float64 `json:"_score"`
			Source struct {
				Title   string `json:"title"`
				Content string `json:"content"`
			} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// errorResponse is the error body returned by the search service.
type errorResponse struct {
	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

// Search sends the query to the search index and returns ranked
// excerpts. Network failures and overloaded-node responses get the
// gateway's single bounded retry before surfacing as
// index.ErrUnavailable. An empty result set is returned as-is.
func (c *Client) Search(
	ctx context.Context,
	query string,
	topK int,
) ([]index.Excerpt, error) {
	return index.Do(ctx, func(ctx context.Context) ([]index.Excerpt, error) {
		return c.search(ctx, query, topK)
	})
}

// search performs a single _search request.
func (c *Client) search(
	ctx context.Context,
	query string,
	topK int,
) ([]index.Excerpt, error) {
	reqBody := searchRequest{
		Size: topK,
		Query: searchQuery{
			MultiMatch: multiMatchQuery{
				Query:  query,
				Fields: c.fields,
			},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	searchURL, err := url.JoinPath(c.endpoint, c.indexName, "_search")
	if err != nil {
		return nil, fmt.Errorf("invalid search endpoint: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, searchURL,
		bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Connection-level failure: retryable
		return nil, index.MarkTransient(fmt.Errorf("search request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, parseError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, index.MarkTransient(fmt.Errorf("failed to read response: %w", err))
	}

	var searchResp searchResponse
	if err := json.Unmarshal(body, &searchResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	excerpts := make([]index.Excerpt, 0, len(searchResp.Hits.Hits))
	for _, hit := range searchResp.Hits.Hits {
		source := hit.Source.Title
		if source == "" {
			source = hit.ID
		}
		excerpts = append(excerpts, index.Excerpt{
			Source: source,
			Text:   hit.Source.Content,
			Score:  hit.Score,
		})
	}

	return index.AssignRanks(excerpts), nil
}

// parseError extracts error information from an API response. Overload
// and gateway statuses are marked transient so the retry policy applies.
func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp errorResponse
	msg := string(body)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Reason != "" {
		msg = errResp.Error.Reason
	}

	err := fmt.Errorf("search error (status %d): %s", resp.StatusCode, msg)

	switch resp.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return index.MarkTransient(err)
	}

	return err
}

// Ensure Client implements the gateway interface.
var _ index.Provider = (*Client)(nil)
