// Package search provides the document index collaborator: a loose Document
// attribute bag and an HTTP client for the index server's JSON API.
//
// The client speaks the index's lexical query dialect. Callers construct
// queries like `title:"X"^2`, boolean operators and the exact-URL form
// `url:"…"`; the client only transports them.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultTimeout = 10 * time.Second

	// errorBodyLimit bounds how much of an error response ends up in logs
	// and error messages.
	errorBodyLimit = 512
)

// Config configures the search client.
type Config struct {
	// BaseURL is the index server root (e.g. "http://localhost:8080").
	BaseURL string

	// Timeout bounds each request.
	Timeout time.Duration

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Client queries the index server's JSON API.
type Client struct {
	baseURL    string
	timeout    time.Duration
	logger     *slog.Logger
	httpClient *http.Client
}

// New creates a search client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout:    cfg.Timeout,
		logger:     cfg.Logger,
		httpClient: &http.Client{},
	}
}

// searchResponse is the JSON API envelope.
type searchResponse struct {
	Response struct {
		RecordCount int64            `json:"record_count"`
		Result      []map[string]any `json:"result"`
	} `json:"response"`
}

// Search runs a lexical query and returns up to maxDocs hits with the
// index's default field set.
func (c *Client) Search(ctx context.Context, query string, maxDocs int) ([]Document, error) {
	return c.query(ctx, query, maxDocs, nil)
}

// FetchByIDs retrieves full documents for the given ids, requesting the
// named fields. Returns no error for an empty id list.
func (c *Client) FetchByIDs(ctx context.Context, docIDs, fields []string) ([]Document, error) {
	if len(docIDs) == 0 {
		return nil, nil
	}

	terms := make([]string, len(docIDs))
	for i, id := range docIDs {
		terms[i] = FieldDocID + `:"` + strings.ReplaceAll(id, `"`, `\"`) + `"`
	}
	return c.query(ctx, strings.Join(terms, " OR "), len(docIDs), fields)
}

func (c *Client) query(ctx context.Context, q string, num int, fields []string) ([]Document, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := url.Values{}
	params.Set("q", q)
	params.Set("num", strconv.Itoa(num))
	if len(fields) > 0 {
		params.Set("fields", strings.Join(fields, ","))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/json/?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading search response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := body
		if len(snippet) > errorBodyLimit {
			snippet = snippet[:errorBodyLimit]
		}
		return nil, fmt.Errorf("search API error (status %d): %s", resp.StatusCode, snippet)
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	docs := make([]Document, 0, len(parsed.Response.Result))
	for _, raw := range parsed.Response.Result {
		docs = append(docs, Document(raw))
	}

	c.logger.Debug("search completed",
		"query", q,
		"hits", len(docs),
		"record_count", parsed.Response.RecordCount)
	return docs, nil
}
