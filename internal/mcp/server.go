// Package mcp exposes the retrieval pipeline over the Model Context
// Protocol so editor assistants and other MCP clients can query the
// documentation index.
//
// Two tools are served:
//
//   - rag_ask: runs the full pipeline for a question and returns the
//     answer text with its numbered source list. Each call is one-shot;
//     conversation state is an API/TUI concern.
//   - search_documents: a thin passthrough to the lexical index,
//     returning matching documents as JSON.
//
// Pipeline failures surface as tool errors (IsError results) so the
// calling model can react to them; only transport-level faults become
// protocol errors.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/koopa0/ragchat/internal/chat"
	"github.com/koopa0/ragchat/internal/search"
)

// Limits for the search_documents tool.
const (
	defaultSearchDocs = 5
	maxSearchDocs     = 20
	snippetMaxRunes   = 500
)

// Server wraps the MCP SDK server around the chat pipeline.
type Server struct {
	mcpServer *mcp.Server
	chat      *chat.Service
	searcher  chat.Searcher
	logger    *slog.Logger
	name      string
	version   string
}

// Config holds MCP server configuration.
type Config struct {
	Name     string
	Version  string
	Chat     *chat.Service
	Searcher chat.Searcher
	Logger   *slog.Logger
}

// NewServer creates an MCP server with both tools registered.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("server name is required")
	}
	if cfg.Version == "" {
		return nil, fmt.Errorf("server version is required")
	}
	if cfg.Chat == nil {
		return nil, fmt.Errorf("chat service is required")
	}
	if cfg.Searcher == nil {
		return nil, fmt.Errorf("searcher is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		chat:     cfg.Chat,
		searcher: cfg.Searcher,
		logger:   cfg.Logger,
		name:     cfg.Name,
		version:  cfg.Version,
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}
	return s, nil
}

// Run serves the MCP protocol on the given transport. Blocking; returns
// when the transport closes or ctx is canceled.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	s.logger.Info("mcp server starting", "name", s.name, "version", s.version)
	return s.mcpServer.Run(ctx, transport)
}

func (s *Server) registerTools() error {
	askSchema, err := jsonschema.For[AskInput](nil)
	if err != nil {
		return fmt.Errorf("schema for rag_ask: %w", err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "rag_ask",
		Description: "Answer a question from the indexed documentation. Runs the full retrieval pipeline and returns the answer with a numbered source list.",
		InputSchema: askSchema,
	}, s.Ask)

	searchSchema, err := jsonschema.For[SearchInput](nil)
	if err != nil {
		return fmt.Errorf("schema for search_documents: %w", err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "search_documents",
		Description: "Search the documentation index directly. Returns matching documents as JSON with doc_id, title, url and snippet.",
		InputSchema: searchSchema,
	}, s.SearchDocuments)

	return nil
}

// AskInput defines the input schema for the rag_ask tool.
type AskInput struct {
	Question string `json:"question" jsonschema:"The question to answer from the indexed documentation"`
	Language string `json:"language,omitempty" jsonschema:"Optional response language override (e.g. 'en', 'ja')"`
}

// Ask handles the rag_ask MCP tool call. The nil callback turns the
// pipeline into a blocking call; MCP has no streaming channel to feed.
func (s *Server) Ask(ctx context.Context, _ *mcp.CallToolRequest, in AskInput) (*mcp.CallToolResult, any, error) {
	res, err := s.chat.Chat(ctx, chat.Request{
		Message:  in.Question,
		Language: in.Language,
	}, nil)
	if err != nil {
		s.logger.Warn("rag_ask failed", "error", err)
		return toolError(err.Error()), nil, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: renderAnswer(res)}},
	}, nil, nil
}

// renderAnswer appends the numbered source list the answer's [n] markers
// refer to.
func renderAnswer(res *chat.Result) string {
	if len(res.Sources) == 0 {
		return res.Content
	}

	var b strings.Builder
	_, _ = b.WriteString(res.Content)
	_, _ = b.WriteString("\n\nSources:\n")
	for _, src := range res.Sources {
		fmt.Fprintf(&b, "[%d] %s\n", src.Index, formatSource(src.Document))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatSource(doc search.Document) string {
	title := doc.Title()
	url := doc.URL()
	switch {
	case title != "" && url != "":
		return title + " (" + url + ")"
	case url != "":
		return url
	default:
		return title
	}
}

// SearchInput defines the input schema for the search_documents tool.
type SearchInput struct {
	Query   string `json:"query" jsonschema:"Lexical search query; supports +term required-word operators"`
	MaxDocs int    `json:"max_docs,omitempty" jsonschema:"Maximum number of documents to return (default 5, max 20)"`
}

// searchHit is one search_documents result row.
type searchHit struct {
	DocID   string `json:"doc_id,omitempty"`
	Title   string `json:"title,omitempty"`
	URL     string `json:"url,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// SearchDocuments handles the search_documents MCP tool call.
func (s *Server) SearchDocuments(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, any, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return toolError("query is required"), nil, nil
	}

	maxDocs := in.MaxDocs
	if maxDocs <= 0 {
		maxDocs = defaultSearchDocs
	}
	if maxDocs > maxSearchDocs {
		maxDocs = maxSearchDocs
	}

	docs, err := s.searcher.Search(ctx, query, maxDocs)
	if err != nil {
		s.logger.Warn("search_documents failed", "query", query, "error", err)
		return toolError(err.Error()), nil, nil
	}

	hits := make([]searchHit, 0, len(docs))
	for _, doc := range docs {
		snippet := doc.ContentDescription()
		if snippet == "" {
			snippet = doc.Content()
		}
		hits = append(hits, searchHit{
			DocID:   doc.DocID(),
			Title:   doc.Title(),
			URL:     doc.URL(),
			Snippet: truncateRunes(snippet, snippetMaxRunes),
		})
	}

	payload, err := json.Marshal(hits)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal hits: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(payload)}},
	}, nil, nil
}

// toolError builds an error result the calling model sees as tool output.
func toolError(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: "Error: " + message}},
		IsError: true,
	}
}

// truncateRunes caps s at max runes, marking the cut with an ellipsis.
func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
