package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/koopa0/ragchat/internal/search"
)

const (
	// Classification calls (intent detection, relevance evaluation) use a
	// low temperature and a small token budget: the response is JSON, not
	// prose.
	classificationTemperature = 0.3
	classificationMaxTokens   = 500

	// contextHeader opens every answer-generation context block.
	contextHeader = "The following are documents that contain information to answer the question:\n\n"

	// truncationReserve keeps the truncated context comfortably under the
	// configured limit so the ellipsis and trailing separators fit.
	truncationReserve = 100

	defaultMaxTokens       = 2000
	defaultContextMaxChars = 8000
	defaultMaxRelevantDocs = 3
)

// Config configures the façade service.
type Config struct {
	// Driver is the LLM backend, required. Wiring normally passes the
	// registry here so every call is availability-gated.
	Driver Driver

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Templates override the built-in prompt templates per primitive.
	Templates Templates

	// SystemPrompt is the base answer-generation system prompt,
	// substituted for {{systemPrompt}}. Empty selects DefaultSystemPrompt.
	SystemPrompt string

	// Language is the default response language as a BCP 47 tag. Empty or
	// English adds no language instruction.
	Language string

	// Temperature and MaxTokens apply to answer generation. MaxTokens
	// defaults to 2000 when zero or negative.
	Temperature float64
	MaxTokens   int

	// ContextMaxChars bounds the generated context block in bytes,
	// defaulting to 8000.
	ContextMaxChars int

	// MaxRelevantDocs caps how many hits the evaluator may keep,
	// defaulting to 3.
	MaxRelevantDocs int
}

func (c *Config) validate() error {
	if c.Driver == nil {
		return ErrNoDriver
	}
	return nil
}

// Service implements the RAG primitives on top of a backend driver.
// All methods are safe for concurrent use.
type Service struct {
	driver          Driver
	logger          *slog.Logger
	templates       Templates
	systemPrompt    string
	language        string
	temperature     float64
	maxTokens       int
	contextMaxChars int
	maxRelevantDocs int
}

// New creates the façade service.
func New(cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid llm config: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.ContextMaxChars <= 0 {
		cfg.ContextMaxChars = defaultContextMaxChars
	}
	if cfg.MaxRelevantDocs <= 0 {
		cfg.MaxRelevantDocs = defaultMaxRelevantDocs
	}

	s := &Service{
		driver:          cfg.Driver,
		logger:          cfg.Logger,
		templates:       cfg.Templates,
		systemPrompt:    cfg.SystemPrompt,
		language:        cfg.Language,
		temperature:     cfg.Temperature,
		maxTokens:       cfg.MaxTokens,
		contextMaxChars: cfg.ContextMaxChars,
		maxRelevantDocs: cfg.MaxRelevantDocs,
	}

	s.logger.Info("llm service initialized",
		"backend", s.driver.Name(),
		"max_tokens", s.maxTokens,
		"context_max_chars", s.contextMaxChars,
		"max_relevant_docs", s.maxRelevantDocs,
	)
	return s, nil
}

// WithLanguage returns a service answering in the given language. It shares
// the driver with the receiver; use it for per-request language overrides.
func (s *Service) WithLanguage(lang string) *Service {
	if lang == "" || lang == s.language {
		return s
	}
	clone := *s
	clone.language = lang
	return &clone
}

// DetectIntent classifies the user message. Backend errors propagate;
// unusable classifier output falls back to a search intent carrying the
// original message.
func (s *Service) DetectIntent(ctx context.Context, userMessage string) (IntentResult, error) {
	start := time.Now()
	prompt := renderTemplate(s.templates.intent(), promptVars{
		UserMessage:         userMessage,
		LanguageInstruction: languageInstruction(s.language),
	})

	resp, err := s.classify(ctx, prompt)
	if err != nil {
		return IntentResult{}, fmt.Errorf("detecting intent: %w", err)
	}

	result := ParseIntent(resp.Content, userMessage)
	s.logger.Debug("intent detected",
		"intent", result.Intent,
		"query", result.Query,
		"url", result.URL,
		"reasoning", result.Reasoning,
		"elapsed", time.Since(start),
	)
	return result, nil
}

// EvaluateResults asks the backend which hits actually answer the question.
// Backend errors propagate; an unusable evaluator response degrades to
// treating every hit as relevant.
func (s *Service) EvaluateResults(ctx context.Context, userMessage, query string, hits []search.Document) (EvaluationResult, error) {
	if len(hits) == 0 {
		return EvaluationResult{}, nil
	}

	start := time.Now()
	prompt := renderTemplate(s.templates.evaluation(), promptVars{
		UserMessage:     userMessage,
		Query:           query,
		SearchResults:   formatHits(hits),
		MaxRelevantDocs: s.maxRelevantDocs,
	})

	resp, err := s.classify(ctx, prompt)
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("evaluating results: %w", err)
	}

	result, ok := ParseEvaluation(resp.Content, hits, s.maxRelevantDocs)
	if !ok {
		s.logger.Warn("unusable evaluation response, treating all results as relevant",
			"hits", len(hits),
			"response_length", len(resp.Content),
		)
		return AllRelevant(hits), nil
	}
	s.logger.Debug("results evaluated",
		"has_relevant", result.HasRelevant,
		"relevant", len(result.RelevantDocIDs),
		"elapsed", time.Since(start),
	)
	return result, nil
}

// classify runs a single-shot non-streaming completion with the
// classification budget.
func (s *Service) classify(ctx context.Context, prompt string) (*ChatResponse, error) {
	temp := classificationTemperature
	maxTokens := classificationMaxTokens
	return s.driver.Chat(ctx, ChatRequest{
		Messages:    []Message{{Role: RoleUser, Content: prompt}},
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
}

// GenerateAnswer produces a complete cited answer from the given documents.
func (s *Service) GenerateAnswer(ctx context.Context, userMessage string, docs []search.Document, history []Message) (*ChatResponse, error) {
	system := s.systemFor(s.templates.answer(), promptVars{
		UserMessage: userMessage,
		Context:     buildContext(docs, s.contextMaxChars),
	})
	resp, err := s.driver.Chat(ctx, s.chatRequest(system, history, userMessage))
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}
	return resp, nil
}

// StreamAnswer streams a cited answer from the given documents.
func (s *Service) StreamAnswer(ctx context.Context, userMessage string, docs []search.Document, history []Message, fn StreamFunc) error {
	system := s.systemFor(s.templates.answer(), promptVars{
		UserMessage: userMessage,
		Context:     buildContext(docs, s.contextMaxChars),
	})
	return s.stream(ctx, system, history, userMessage, fn)
}

// StreamFAQAnswer streams a direct, concise, cited answer for FAQ-type
// questions.
func (s *Service) StreamFAQAnswer(ctx context.Context, userMessage string, docs []search.Document, history []Message, fn StreamFunc) error {
	system := s.systemFor(s.templates.faq(), promptVars{
		UserMessage: userMessage,
		Context:     buildContext(docs, s.contextMaxChars),
	})
	return s.stream(ctx, system, history, userMessage, fn)
}

// StreamSummary streams a summary grounded in the full content of the given
// documents.
func (s *Service) StreamSummary(ctx context.Context, userMessage string, docs []search.Document, history []Message, fn StreamFunc) error {
	system := s.systemFor(s.templates.summary(), promptVars{
		UserMessage:     userMessage,
		DocumentContent: buildSummaryContent(docs),
	})
	return s.stream(ctx, system, history, userMessage, fn)
}

// StreamUnclearResponse streams a clarification request for questions too
// vague to search on.
func (s *Service) StreamUnclearResponse(ctx context.Context, userMessage string, history []Message, fn StreamFunc) error {
	system := s.systemFor(s.templates.unclear(), promptVars{UserMessage: userMessage})
	return s.stream(ctx, system, history, userMessage, fn)
}

// StreamNoResultsResponse streams a message explaining that the search
// produced nothing, with refinement suggestions.
func (s *Service) StreamNoResultsResponse(ctx context.Context, userMessage, query string, history []Message, fn StreamFunc) error {
	system := s.systemFor(s.templates.noResults(), promptVars{
		UserMessage: userMessage,
		Query:       query,
	})
	return s.stream(ctx, system, history, userMessage, fn)
}

// StreamDocumentNotFoundResponse streams a message explaining that the
// requested document URL is not in the index.
func (s *Service) StreamDocumentNotFoundResponse(ctx context.Context, userMessage, documentURL string, history []Message, fn StreamFunc) error {
	system := s.systemFor(s.templates.documentNotFound(), promptVars{
		UserMessage: userMessage,
		DocumentURL: documentURL,
	})
	return s.stream(ctx, system, history, userMessage, fn)
}

// StreamDirectAnswer streams a completion with only the base system prompt,
// bypassing retrieval. Used by the non-RAG chat surface.
func (s *Service) StreamDirectAnswer(ctx context.Context, userMessage string, history []Message, fn StreamFunc) error {
	system := renderTemplate(s.basePrompt(), promptVars{
		UserMessage:         userMessage,
		LanguageInstruction: languageInstruction(s.language),
	})
	return s.stream(ctx, system, history, userMessage, fn)
}

// Chat forwards a raw request to the backend driver.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return s.driver.Chat(ctx, req)
}

// ChatStream forwards a raw streaming request to the backend driver.
func (s *Service) ChatStream(ctx context.Context, req ChatRequest, fn StreamFunc) error {
	return s.driver.ChatStream(ctx, req, fn)
}

func (s *Service) basePrompt() string {
	return orDefault(s.systemPrompt, DefaultSystemPrompt)
}

// systemFor renders the base system prompt first, then the primitive's
// template with {{systemPrompt}} bound to the rendered base.
func (s *Service) systemFor(tmpl string, vars promptVars) string {
	vars.LanguageInstruction = languageInstruction(s.language)
	vars.SystemPrompt = renderTemplate(s.basePrompt(), vars)
	return renderTemplate(tmpl, vars)
}

func (s *Service) stream(ctx context.Context, system string, history []Message, userMessage string, fn StreamFunc) error {
	req := s.chatRequest(system, history, userMessage)
	req.Stream = true
	return s.driver.ChatStream(ctx, req, fn)
}

func (s *Service) chatRequest(system string, history []Message, userMessage string) ChatRequest {
	msgs := make([]Message, 0, len(history)+2)
	if system != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: system})
	}
	msgs = append(msgs, history...)
	msgs = append(msgs, Message{Role: RoleUser, Content: userMessage})

	temp := s.temperature
	maxTokens := s.maxTokens
	return ChatRequest{Messages: msgs, Temperature: &temp, MaxTokens: &maxTokens}
}

// formatHits renders hits the way the evaluation prompt expects:
// 1-based index, title and excerpt per hit, blank line separated.
func formatHits(hits []search.Document) string {
	var b strings.Builder
	for i, doc := range hits {
		fmt.Fprintf(&b, "[%d] Title: %s\nDescription: %s\n\n", i+1, doc.Title(), doc.ContentDescription())
	}
	return b.String()
}

// buildContext concatenates documents into the answer-generation context
// block, numbering them from 1. Each entry carries title, URL and content,
// falling back to the excerpt when the full body is missing. The block is
// truncated at maxChars with a trailing ellipsis; truncation never splits
// a UTF-8 rune.
func buildContext(docs []search.Document, maxChars int) string {
	var b strings.Builder
	b.WriteString(contextHeader)
	total := len(contextHeader)
	index := 1

	for _, doc := range docs {
		var entry strings.Builder
		fmt.Fprintf(&entry, "[%d] ", index)
		if title := doc.Title(); title != "" {
			entry.WriteString(title)
			entry.WriteByte('\n')
		}
		if url := doc.URL(); url != "" {
			entry.WriteString("URL: ")
			entry.WriteString(url)
			entry.WriteByte('\n')
		}
		content := doc.Content()
		if content == "" {
			content = doc.ContentDescription()
		}
		entry.WriteString(content)
		entry.WriteString("\n\n")

		if total+entry.Len() > maxChars {
			remaining := maxChars - total - truncationReserve
			if remaining > 0 && entry.Len() > remaining {
				cut := entry.String()
				for remaining > 0 && !utf8.RuneStart(cut[remaining]) {
					remaining--
				}
				b.WriteString(cut[:remaining])
				b.WriteString("...\n\n")
			}
			break
		}
		b.WriteString(entry.String())
		total += entry.Len()
		index++
	}
	return b.String()
}

// buildSummaryContent renders full documents for summarization, one block
// per document.
func buildSummaryContent(docs []search.Document) string {
	var b strings.Builder
	for _, doc := range docs {
		b.WriteString("=== Document ===\n")
		if title := doc.Title(); title != "" {
			b.WriteString("Title: ")
			b.WriteString(title)
			b.WriteByte('\n')
		}
		if url := doc.URL(); url != "" {
			b.WriteString("URL: ")
			b.WriteString(url)
			b.WriteByte('\n')
		}
		if content := doc.Content(); content != "" {
			b.WriteString("Content:\n")
			b.WriteString(content)
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	return b.String()
}
