// Package llm implements the language-model façade for retrieval-augmented
// chat. It owns the RAG primitives (intent detection, relevance evaluation,
// answer generation) on top of a pluggable backend driver, plus the prompt
// templates and the tolerant JSON parsing those primitives need.
//
// Concrete drivers live in the subpackages openai, gemini and ollama; the
// registry subpackage selects and health-checks the configured one.
package llm

import "context"

// Message roles on the chat wire. Drivers translate RoleAssistant to their
// backend's naming where it differs (Gemini uses "model").
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a backend-neutral chat completion request.
type ChatRequest struct {
	// Messages in conversation order: optional system message first,
	// then alternating user/assistant history, then the current user turn.
	Messages []Message

	// Model overrides the driver's configured model when non-empty.
	Model string

	// Temperature and MaxTokens are omitted from the wire request when nil,
	// leaving the choice to the backend.
	Temperature *float64
	MaxTokens   *int

	// Stream requests incremental delivery. Drivers set this themselves in
	// ChatStream; callers normally leave it false.
	Stream bool
}

// ChatResponse is a completed (non-streaming) chat response.
type ChatResponse struct {
	Content      string
	Model        string
	FinishReason string

	// Token usage as reported by the backend; zero when not reported.
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// StreamFunc receives streamed response chunks. The final call has done set
// to true and usually an empty chunk. Returning a non-nil error aborts the
// stream; the driver stops reading and returns that error.
type StreamFunc func(chunk string, done bool) error

// Driver is one LLM backend (OpenAI, Gemini, Ollama).
//
// Implementations must be safe for concurrent use.
type Driver interface {
	// Name returns the backend identifier ("openai", "gemini", "ollama").
	Name() string

	// Chat performs a non-streaming chat completion.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// ChatStream performs a streaming chat completion, delivering chunks
	// through fn until the backend signals completion.
	ChatStream(ctx context.Context, req ChatRequest, fn StreamFunc) error

	// CheckAvailability probes the backend. It reports false instead of
	// returning an error; misconfiguration (blank URL or credentials)
	// also reports false.
	CheckAvailability(ctx context.Context) bool
}

// Intent classifies what the user wants from the pipeline.
type Intent string

// Intent values produced by DetectIntent. The lowercase forms double as the
// wire values the classifier prompt asks for.
const (
	IntentSearch  Intent = "search"
	IntentFAQ     Intent = "faq"
	IntentSummary Intent = "summary"
	IntentUnclear Intent = "unclear"
)

// IntentResult is the outcome of intent detection.
type IntentResult struct {
	Intent    Intent `json:"intent"`
	Query     string `json:"query,omitempty"`     // search/faq: index query string
	URL       string `json:"url,omitempty"`       // summary: document URL
	Reasoning string `json:"reasoning,omitempty"` // classifier's explanation
}

// FallbackSearch is the intent used when the classifier output is unusable:
// search with the user's original message as the query. The pipeline never
// blocks on a malformed classifier response; downstream evaluation filters
// irrelevant hits.
func FallbackSearch(userMessage string) IntentResult {
	return IntentResult{
		Intent:    IntentSearch,
		Query:     userMessage,
		Reasoning: "could not parse intent, falling back to search",
	}
}

// EvaluationResult is the outcome of relevance evaluation over search hits.
type EvaluationResult struct {
	// HasRelevant reports whether the evaluator found any hit relevant.
	HasRelevant bool

	// RelevantIndexes are the 1-based hit positions judged relevant,
	// deduplicated in response order, restricted to the hit range and
	// capped at the configured maximum. Nil when the evaluation fell back
	// to treating every hit as relevant.
	RelevantIndexes []int

	// RelevantDocIDs are the doc_id values of the relevant hits, skipping
	// hits with a blank doc_id.
	RelevantDocIDs []string
}
