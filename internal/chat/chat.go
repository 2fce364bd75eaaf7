// Package chat orchestrates the retrieval-augmented chat pipeline.
//
// A turn moves through a fixed state machine: intent detection routes the
// message to clarification, document summarization or index search; search
// hits are relevance-checked and fetched in full; the answer is streamed
// token by token. Callers observe progress through a Callback: paired phase
// start/complete events, response chunks ending in a single terminal done,
// and at most one error per turn.
//
// The Service owns no goroutines. Each call runs the pipeline synchronously
// on the caller's goroutine; concurrent calls are independent and the
// session store serializes per-session mutation.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/koopa0/ragchat/internal/llm"
	"github.com/koopa0/ragchat/internal/markdown"
	"github.com/koopa0/ragchat/internal/search"
	"github.com/koopa0/ragchat/internal/session"
)

const (
	// defaultMaxSearchDocs bounds hits requested per search.
	defaultMaxSearchDocs = 5

	// defaultHistoryMax bounds the stored conversation, counting both roles.
	defaultHistoryMax = 20

	// fallbackResponse replaces an empty model response so the transcript
	// never carries a blank assistant turn.
	fallbackResponse = "I apologize, but I couldn't generate a response. Please try rephrasing your question."

	// tracerScope names the instrumentation scope for pipeline spans.
	tracerScope = "github.com/koopa0/ragchat/internal/chat"
)

// ErrEmptyMessage rejects requests whose message is blank.
var ErrEmptyMessage = errors.New("empty message")

// Searcher is the slice of the search adapter the pipeline uses.
type Searcher interface {
	// Search runs a lexical query and returns up to maxDocs hits.
	Search(ctx context.Context, query string, maxDocs int) ([]search.Document, error)

	// FetchByIDs returns full documents for the given doc ids, restricted
	// to the requested fields.
	FetchByIDs(ctx context.Context, docIDs, fields []string) ([]search.Document, error)
}

var _ Searcher = (*search.Client)(nil)

// Fetcher supplies page text for documents indexed without a body.
type Fetcher interface {
	Enabled() bool
	Fetch(ctx context.Context, url string) (string, error)
}

// Request is one user turn.
type Request struct {
	// SessionID continues an existing conversation. Unknown or empty ids
	// start a fresh session; the result carries the effective id.
	SessionID string

	// Message is the user's input, required.
	Message string

	// UserID optionally tags new sessions with their owner.
	UserID string

	// Language overrides the configured response language for this turn.
	Language string
}

// Result is a completed turn.
type Result struct {
	SessionID string           `json:"session_id"`
	Content   string           `json:"content"`
	HTML      string           `json:"html"`
	Sources   []session.Source `json:"sources,omitempty"`
}

// Config configures the Service.
type Config struct {
	// LLM is the language-model façade, required.
	LLM *llm.Service

	// Searcher is the document index adapter, required.
	Searcher Searcher

	// Sessions is the conversation store, required.
	Sessions *session.Store

	// Fetcher retrieves web content for fetched documents whose index
	// record has no body. Nil disables the fallback.
	Fetcher Fetcher

	// Markdown renders assistant answers to sanitized HTML, defaulting to
	// markdown.New().
	Markdown *markdown.Renderer

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// RateLimiter, when set, is waited on before each turn touches the
	// backend.
	RateLimiter *rate.Limiter

	// MaxSearchDocs bounds hits per search, defaulting to 5.
	MaxSearchDocs int

	// ContentFields are the fields requested when fetching full documents,
	// defaulting to the canonical five.
	ContentFields []string

	// HistoryMaxMessages trims the stored conversation, defaulting to 20.
	// Negative disables trimming.
	HistoryMaxMessages int
}

func (c *Config) validate() error {
	if c.LLM == nil {
		return errors.New("llm service is required")
	}
	if c.Searcher == nil {
		return errors.New("searcher is required")
	}
	if c.Sessions == nil {
		return errors.New("session store is required")
	}
	return nil
}

// Service runs the pipeline. All methods are safe for concurrent use; each
// call executes synchronously on the caller's goroutine.
type Service struct {
	llm      *llm.Service
	search   Searcher
	sessions *session.Store
	fetcher  Fetcher
	markdown *markdown.Renderer
	logger   *slog.Logger
	limiter  *rate.Limiter
	tracer   trace.Tracer

	maxSearchDocs int
	contentFields []string
	historyMax    int
}

// New creates the pipeline service.
func New(cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid chat config: %w", err)
	}
	if cfg.Markdown == nil {
		cfg.Markdown = markdown.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxSearchDocs <= 0 {
		cfg.MaxSearchDocs = defaultMaxSearchDocs
	}
	if len(cfg.ContentFields) == 0 {
		cfg.ContentFields = []string{
			search.FieldDocID, search.FieldTitle, search.FieldURL,
			search.FieldContent, search.FieldContentDescription,
		}
	}
	if cfg.HistoryMaxMessages == 0 {
		cfg.HistoryMaxMessages = defaultHistoryMax
	}

	s := &Service{
		llm:           cfg.LLM,
		search:        cfg.Searcher,
		sessions:      cfg.Sessions,
		fetcher:       cfg.Fetcher,
		markdown:      cfg.Markdown,
		logger:        cfg.Logger,
		limiter:       cfg.RateLimiter,
		tracer:        otel.Tracer(tracerScope),
		maxSearchDocs: cfg.MaxSearchDocs,
		contentFields: cfg.ContentFields,
		historyMax:    cfg.HistoryMaxMessages,
	}

	s.logger.Info("chat service initialized",
		"max_search_docs", s.maxSearchDocs,
		"history_max_messages", s.historyMax,
		"web_fetch", s.fetcher != nil && s.fetcher.Enabled(),
	)
	return s, nil
}

// Chat runs one full pipeline turn. Progress is reported through cb; nil is
// allowed and turns the call into a plain blocking request. The completed
// exchange is appended to the session only on success; a failing turn leaves
// the session untouched.
func (s *Service) Chat(ctx context.Context, req Request, cb Callback) (*Result, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}
	if cb == nil {
		cb = nopCallback{}
	}
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	sess := s.sessions.GetOrCreate(req.SessionID, req.UserID)

	ctx, span := s.tracer.Start(ctx, "chat.turn",
		trace.WithAttributes(attribute.String("chat.session_id", sess.ID())))
	defer span.End()

	start := time.Now()
	s.logger.Debug("chat turn started",
		"session_id", sess.ID(),
		"message_length", len(req.Message),
		"language", req.Language,
	)

	t := &turn{
		llm:           s.llm.WithLanguage(req.Language),
		search:        s.search,
		fetcher:       s.fetcher,
		cb:            cb,
		tracer:        s.tracer,
		logger:        s.logger,
		message:       req.Message,
		history:       chatHistory(sess.Messages()),
		maxSearchDocs: s.maxSearchDocs,
		contentFields: s.contentFields,
	}

	docs, err := t.run(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	res := s.finishTurn(sess, req.Message, t.acc.String(), docs)
	s.logger.Debug("chat turn complete",
		"session_id", sess.ID(),
		"content_length", len(res.Content),
		"sources", len(res.Sources),
		"elapsed", time.Since(start),
	)
	return res, nil
}

// Generate answers without phase callbacks or intent routing: one search on
// the raw message, a full-content fetch of the hits, one blocking
// completion. Session handling matches Chat.
func (s *Service) Generate(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	sess := s.sessions.GetOrCreate(req.SessionID, req.UserID)
	svc := s.llm.WithLanguage(req.Language)
	history := chatHistory(sess.Messages())

	hits, err := s.search.Search(ctx, req.Message, s.maxSearchDocs)
	if err != nil {
		return nil, fmt.Errorf("searching documents: %w", err)
	}

	docs := hits
	if ids := docIDs(hits); len(ids) > 0 {
		if docs, err = s.search.FetchByIDs(ctx, ids, s.contentFields); err != nil {
			return nil, fmt.Errorf("fetching documents: %w", err)
		}
	}

	resp, err := svc.GenerateAnswer(ctx, req.Message, docs, history)
	if err != nil {
		return nil, err
	}
	return s.finishTurn(sess, req.Message, resp.Content, docs), nil
}

// DirectStream streams a completion with no retrieval and no phases, the
// non-RAG chat surface. fn receives the raw chunk stream; nil collects the
// response without forwarding. Session handling matches Chat.
func (s *Service) DirectStream(ctx context.Context, req Request, fn llm.StreamFunc) (*Result, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}
	if fn == nil {
		fn = func(string, bool) error { return nil }
	}
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	sess := s.sessions.GetOrCreate(req.SessionID, req.UserID)
	svc := s.llm.WithLanguage(req.Language)
	history := chatHistory(sess.Messages())

	var acc accumulator
	if err := svc.StreamDirectAnswer(ctx, req.Message, history, acc.sink(fn)); err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}
	if err := acc.finish(fn); err != nil {
		return nil, err
	}
	return s.finishTurn(sess, req.Message, acc.String(), nil), nil
}

// wait applies the optional proactive rate limit.
func (s *Service) wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rate limiter: %w", err)
	}
	return nil
}

// finishTurn renders and persists a completed exchange, then packages the
// result. An empty model response is replaced with a fixed apology so the
// transcript never carries a blank assistant turn.
func (s *Service) finishTurn(sess *session.Session, userMessage, content string, docs []search.Document) *Result {
	if strings.TrimSpace(content) == "" {
		s.logger.Warn("model returned empty response", "session_id", sess.ID())
		content = fallbackResponse
	}

	html := s.renderHTML(content)
	sources := numberSources(docs)

	sess.AppendTurn(
		session.Message{Role: session.RoleUser, Content: userMessage},
		session.Message{Role: session.RoleAssistant, Content: content, HTMLContent: html, Sources: sources},
		s.historyMax,
	)

	return &Result{
		SessionID: sess.ID(),
		Content:   content,
		HTML:      html,
		Sources:   sources,
	}
}

// renderHTML converts the answer to sanitized HTML, degrading to plain
// escaping when the renderer fails.
func (s *Service) renderHTML(content string) string {
	html, err := s.markdown.Render(content)
	if err != nil {
		s.logger.Warn("markdown render failed, escaping instead", "error", err)
		return markdown.EscapeHTML(content)
	}
	return html
}

// chatHistory projects the session transcript onto wire messages, dropping
// rendered HTML and source attachments.
func chatHistory(msgs []session.Message) []llm.Message {
	if len(msgs) == 0 {
		return nil
	}
	history := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		history[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	return history
}

// numberSources cites docs in presentation order, numbered from 1.
func numberSources(docs []search.Document) []session.Source {
	if len(docs) == 0 {
		return nil
	}
	sources := make([]session.Source, len(docs))
	for i, doc := range docs {
		sources[i] = session.Source{Index: i + 1, Document: doc}
	}
	return sources
}

// docIDs collects the non-blank doc ids of the hits in order.
func docIDs(hits []search.Document) []string {
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		if id := h.DocID(); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
