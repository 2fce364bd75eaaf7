package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/koopa0/ragchat/internal/llm"
	"github.com/koopa0/ragchat/internal/search"
)

// Phase identifies one stage of the pipeline state machine.
type Phase string

// Pipeline phases in execution order. All answer-producing stages report
// under PhaseAnswer regardless of which template generates the text.
const (
	PhaseIntent   Phase = "intent"
	PhaseSearch   Phase = "search"
	PhaseEvaluate Phase = "evaluate"
	PhaseFetch    Phase = "fetch"
	PhaseAnswer   Phase = "answer"
)

// Human-readable phase labels shown by progress UIs.
const (
	labelIntent    = "Analyzing your question..."
	labelSearch    = "Searching documents..."
	labelSearchURL = "Searching for document..."
	labelEvaluate  = "Evaluating relevance..."
	labelFetch     = "Retrieving document content..."
	labelAnswer    = "Generating response..."
	labelSummary   = "Generating summary..."
)

// Callback observes pipeline progress. Phase start/complete events arrive in
// pairs; chunks arrive only between the answer phase's start and complete
// events and end with exactly one done chunk; a failing turn reports OnError
// once with the failing phase, after which no further events follow.
//
// Callbacks run on the goroutine executing the turn and should return
// quickly. An error returned from OnChunk aborts the stream.
type Callback interface {
	OnPhaseStart(phase Phase, label, detail string)
	OnPhaseComplete(phase Phase)
	OnChunk(chunk string, done bool) error
	OnError(phase Phase, message string)
}

// Callbacks adapts plain functions to Callback. Nil fields are skipped, so
// callers wire only the hooks they need.
type Callbacks struct {
	PhaseStart    func(phase Phase, label, detail string)
	PhaseComplete func(phase Phase)
	Chunk         func(chunk string, done bool) error
	Error         func(phase Phase, message string)
}

func (c *Callbacks) OnPhaseStart(phase Phase, label, detail string) {
	if c.PhaseStart != nil {
		c.PhaseStart(phase, label, detail)
	}
}

func (c *Callbacks) OnPhaseComplete(phase Phase) {
	if c.PhaseComplete != nil {
		c.PhaseComplete(phase)
	}
}

func (c *Callbacks) OnChunk(chunk string, done bool) error {
	if c.Chunk == nil {
		return nil
	}
	return c.Chunk(chunk, done)
}

func (c *Callbacks) OnError(phase Phase, message string) {
	if c.Error != nil {
		c.Error(phase, message)
	}
}

// nopCallback drops all progress events, turning Chat into a blocking call.
type nopCallback struct{}

func (nopCallback) OnPhaseStart(Phase, string, string) {}
func (nopCallback) OnPhaseComplete(Phase)              {}
func (nopCallback) OnChunk(string, bool) error         { return nil }
func (nopCallback) OnError(Phase, string)              {}

// turn carries one request through the state machine.
type turn struct {
	llm     *llm.Service
	search  Searcher
	fetcher Fetcher
	cb      Callback
	tracer  trace.Tracer
	logger  *slog.Logger

	message string
	history []llm.Message

	maxSearchDocs int
	contentFields []string

	acc accumulator
}

// run drives the state machine and returns the documents backing the answer.
func (t *turn) run(ctx context.Context) ([]search.Document, error) {
	intent, err := t.detectIntent(ctx)
	if err != nil {
		return nil, err
	}

	switch intent.Intent {
	case llm.IntentUnclear:
		return nil, t.answer(ctx, labelAnswer, func(ctx context.Context, fn llm.StreamFunc) error {
			return t.llm.StreamUnclearResponse(ctx, t.message, t.history, fn)
		})
	case llm.IntentSummary:
		return t.runSummary(ctx, intent.URL)
	default:
		return t.runRetrieval(ctx, intent)
	}
}

// runSummary resolves a document URL through the index and summarizes its
// full content.
func (t *turn) runSummary(ctx context.Context, url string) ([]search.Document, error) {
	hits, err := t.searchIndex(ctx, labelSearchURL, url, exactURLQuery(url))
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, t.answer(ctx, labelAnswer, func(ctx context.Context, fn llm.StreamFunc) error {
			return t.llm.StreamDocumentNotFoundResponse(ctx, t.message, url, t.history, fn)
		})
	}

	docs := hits
	if ids := docIDs(hits); len(ids) > 0 {
		if docs, err = t.fetchContent(ctx, ids); err != nil {
			return nil, err
		}
	}
	return docs, t.answer(ctx, labelSummary, func(ctx context.Context, fn llm.StreamFunc) error {
		return t.llm.StreamSummary(ctx, t.message, docs, t.history, fn)
	})
}

// runRetrieval is the search/faq flow: search, evaluate, fetch, answer.
func (t *turn) runRetrieval(ctx context.Context, intent llm.IntentResult) ([]search.Document, error) {
	query := strings.TrimSpace(intent.Query)
	if query == "" {
		query = t.message
	}

	hits, err := t.searchIndex(ctx, labelSearch, query, query)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, t.noResults(ctx, query)
	}

	eval, err := t.evaluateHits(ctx, query, hits)
	if err != nil {
		return nil, err
	}
	if !eval.HasRelevant || len(eval.RelevantDocIDs) == 0 {
		return nil, t.noResults(ctx, query)
	}

	docs, err := t.fetchContent(ctx, eval.RelevantDocIDs)
	if err != nil {
		return nil, err
	}

	if intent.Intent == llm.IntentFAQ {
		return docs, t.answer(ctx, labelAnswer, func(ctx context.Context, fn llm.StreamFunc) error {
			return t.llm.StreamFAQAnswer(ctx, t.message, docs, t.history, fn)
		})
	}
	return docs, t.answer(ctx, labelAnswer, func(ctx context.Context, fn llm.StreamFunc) error {
		return t.llm.StreamAnswer(ctx, t.message, docs, t.history, fn)
	})
}

func (t *turn) detectIntent(ctx context.Context) (llm.IntentResult, error) {
	var intent llm.IntentResult
	err := t.phase(ctx, PhaseIntent, labelIntent, "", func(ctx context.Context) error {
		var err error
		intent, err = t.llm.DetectIntent(ctx, t.message)
		return err
	})
	return intent, err
}

func (t *turn) searchIndex(ctx context.Context, label, detail, query string) ([]search.Document, error) {
	var hits []search.Document
	err := t.phase(ctx, PhaseSearch, label, detail, func(ctx context.Context) error {
		var err error
		if hits, err = t.search.Search(ctx, query, t.maxSearchDocs); err != nil {
			return fmt.Errorf("searching documents: %w", err)
		}
		t.logger.Debug("search complete", "query", query, "hits", len(hits))
		return nil
	})
	return hits, err
}

func (t *turn) evaluateHits(ctx context.Context, query string, hits []search.Document) (llm.EvaluationResult, error) {
	var eval llm.EvaluationResult
	err := t.phase(ctx, PhaseEvaluate, labelEvaluate, "", func(ctx context.Context) error {
		var err error
		eval, err = t.llm.EvaluateResults(ctx, t.message, query, hits)
		return err
	})
	return eval, err
}

// fetchContent retrieves full documents for the given ids and, when the web
// fallback is enabled, fills bodies the index does not carry.
func (t *turn) fetchContent(ctx context.Context, ids []string) ([]search.Document, error) {
	var docs []search.Document
	err := t.phase(ctx, PhaseFetch, labelFetch, "", func(ctx context.Context) error {
		var err error
		if docs, err = t.search.FetchByIDs(ctx, ids, t.contentFields); err != nil {
			return fmt.Errorf("fetching documents: %w", err)
		}
		t.fillContent(ctx, docs)
		return nil
	})
	return docs, err
}

// fillContent fetches page text for documents with an empty body.
// Best-effort: failures leave the document as indexed.
func (t *turn) fillContent(ctx context.Context, docs []search.Document) {
	if t.fetcher == nil || !t.fetcher.Enabled() {
		return
	}
	for _, doc := range docs {
		if doc.Content() != "" {
			continue
		}
		url := doc.URL()
		if url == "" {
			continue
		}
		text, err := t.fetcher.Fetch(ctx, url)
		if err != nil {
			t.logger.Warn("web content fallback failed", "url", url, "error", err)
			continue
		}
		doc[search.FieldContent] = text
	}
}

func (t *turn) noResults(ctx context.Context, query string) error {
	return t.answer(ctx, labelAnswer, func(ctx context.Context, fn llm.StreamFunc) error {
		return t.llm.StreamNoResultsResponse(ctx, t.message, query, t.history, fn)
	})
}

// answer runs the terminal streaming phase, teeing chunks to the callback
// and the accumulator. A backend that ends its stream without a terminal
// chunk still yields exactly one done=true.
func (t *turn) answer(ctx context.Context, label string, stream func(context.Context, llm.StreamFunc) error) error {
	return t.phase(ctx, PhaseAnswer, label, "", func(ctx context.Context) error {
		if err := stream(ctx, t.acc.sink(t.cb.OnChunk)); err != nil {
			return fmt.Errorf("generating answer: %w", err)
		}
		return t.acc.finish(t.cb.OnChunk)
	})
}

// phase brackets fn between the paired progress events and a trace span.
// A failing fn reports OnError once with this phase's tag; OnPhaseComplete
// is not emitted for failed phases.
func (t *turn) phase(ctx context.Context, phase Phase, label, detail string, fn func(context.Context) error) error {
	ctx, span := t.tracer.Start(ctx, "chat."+string(phase))
	if detail != "" {
		span.SetAttributes(attribute.String("chat.detail", detail))
	}
	defer span.End()

	t.cb.OnPhaseStart(phase, label, detail)
	start := time.Now()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.cb.OnError(phase, err.Error())
		return err
	}

	t.cb.OnPhaseComplete(phase)
	t.logger.Debug("phase complete", "phase", phase, "elapsed", time.Since(start))
	return nil
}

// exactURLQuery builds the index dialect's exact-URL lookup.
func exactURLQuery(url string) string {
	return `url:"` + url + `"`
}
