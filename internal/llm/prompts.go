package llm

import (
	"strconv"
	"strings"

	"github.com/koopa0/ragchat/internal/i18n"
)

// DefaultSystemPrompt is the base system prompt for answer generation when
// none is configured.
const DefaultSystemPrompt = `You are a helpful assistant for a document search system. Answer the user's question based ONLY on the provided documents. Always cite your sources using [1], [2], etc. If the documents do not contain the information needed to answer, say so instead of guessing.

{{languageInstruction}}`

// defaultIntentPrompt classifies the user message and extracts an index
// query. The response must be JSON so ParseIntent can read it back.
const defaultIntentPrompt = `Analyze the following user question and determine the intent.
Return a JSON object with:
- "intent": one of:
  - "search": user wants to search for documents
  - "summary": user wants a summary of a specific document (extract URL from question)
  - "faq": user is asking a FAQ-type question
  - "unclear": cannot determine what documents to search (question is too vague)
- "query": Lucene query string for search (required for search/faq intents)
- "url": the document URL to summarize (required for summary intent)
- "reasoning": brief explanation of your decision

LUCENE QUERY GUIDELINES:
- Proper nouns/product names: use quotation marks (e.g., "Acme")
- Title boosting: for important terms, use title:"term"^2
- Required terms: use + prefix (e.g., +Acme +Docker)
- Optional/synonym terms: use OR grouping (e.g., (tutorial OR guide OR howto))
- Multi-word phrases: use quotation marks

IMPORTANT RULES:
1. ALWAYS generate a Lucene query for search/faq intents. Use "unclear" only if truly ambiguous.
2. Do NOT answer from your own knowledge. All responses must be based on document search.
3. If user mentions a specific URL or document path, use "summary" intent.

EXAMPLES:
Input: "Acme"
Output: {"intent":"search","query":"title:\"Acme\"^2 OR \"Acme\"","reasoning":"Product name search"}

Input: "How to use Acme with Docker"
Output: {"intent":"search","query":"+\"Acme\" +Docker (usage OR howto OR tutorial)","reasoning":"Tutorial query"}

{{languageInstruction}}
Question: {{userMessage}}

Response (JSON only):`

// defaultEvaluationPrompt asks which search hits actually answer the
// question. {{searchResults}} already ends with a blank line per hit.
const defaultEvaluationPrompt = `Given the user question and search results, identify the most relevant documents.
Return a JSON object with:
- "relevant_indexes": array of 1-based indexes of relevant documents (max {{maxRelevantDocs}})
- "has_relevant": boolean indicating if any results are relevant

Question: {{userMessage}}
Query: {{query}}

Search Results:
{{searchResults}}Response (JSON only):`

const defaultAnswerPrompt = `{{systemPrompt}}

{{context}}`

const defaultFAQPrompt = `{{systemPrompt}}

The user is asking a frequently asked question. Provide a direct, concise answer based solely on the following documents. If the answer is clearly stated in the documents, provide it without unnecessary elaboration. Always cite your sources using [1], [2], etc.

{{context}}`

const defaultSummaryPrompt = `{{systemPrompt}}

You are summarizing specific documents for the user. Base your summary ONLY on the provided document content. Do NOT add information from your own knowledge.

Document content:
{{documentContent}}`

const defaultUnclearPrompt = `You are a helpful assistant for a document search system. The user's question is too vague to determine what documents to search for. Generate a polite message asking for clarification. Ask them:
- What specific topic or document are they looking for?
- Can they provide more details or keywords?
- What kind of information would be helpful?

IMPORTANT: Do NOT provide any answers from your own knowledge. Only ask for clarification to help with document search.

{{languageInstruction}}`

const defaultNoResultsPrompt = `You are a helpful assistant for a document search system. The search for relevant documents returned no results matching the user's query. Generate a polite message informing the user that no documents matching their query were found. Suggest ways they could refine their search, such as:
- Using different keywords
- Being more specific or more general
- Checking for spelling errors
- Trying related terms

IMPORTANT: Do NOT provide any answers from your own knowledge. Only inform them about the search results and offer suggestions for refining their search.

{{languageInstruction}}`

const defaultDocumentNotFoundPrompt = `You are a helpful assistant for a document search system. The user requested a summary of a document, but the specified URL was not found in the system. URL searched: {{documentUrl}}

Generate a polite message informing the user that:
- The specified document could not be found
- The URL might be incorrect or the document may not be indexed
- They can try searching with keywords instead

IMPORTANT: Do NOT provide any information from your own knowledge. Only inform them about the search result.

{{languageInstruction}}`

// Templates holds the prompt templates for the RAG primitives. Empty fields
// fall back to the built-in defaults, so configuration is optional.
type Templates struct {
	IntentDetection  string
	Evaluation       string
	Answer           string
	FAQ              string
	Summary          string
	Unclear          string
	NoResults        string
	DocumentNotFound string
}

func (t Templates) intent() string {
	return orDefault(t.IntentDetection, defaultIntentPrompt)
}

func (t Templates) evaluation() string {
	return orDefault(t.Evaluation, defaultEvaluationPrompt)
}

func (t Templates) answer() string {
	return orDefault(t.Answer, defaultAnswerPrompt)
}

func (t Templates) faq() string {
	return orDefault(t.FAQ, defaultFAQPrompt)
}

func (t Templates) summary() string {
	return orDefault(t.Summary, defaultSummaryPrompt)
}

func (t Templates) unclear() string {
	return orDefault(t.Unclear, defaultUnclearPrompt)
}

func (t Templates) noResults() string {
	return orDefault(t.NoResults, defaultNoResultsPrompt)
}

func (t Templates) documentNotFound() string {
	return orDefault(t.DocumentNotFound, defaultDocumentNotFoundPrompt)
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// promptVars carries the values substituted into a prompt template.
type promptVars struct {
	UserMessage         string
	Query               string
	SearchResults       string
	DocumentURL         string
	MaxRelevantDocs     int
	SystemPrompt        string
	Context             string
	DocumentContent     string
	LanguageInstruction string
}

// renderTemplate substitutes every supported placeholder by pure text
// replacement. Replaced values are not rescanned, so placeholder-looking
// text inside a user message stays literal.
func renderTemplate(tmpl string, vars promptVars) string {
	r := strings.NewReplacer(
		"{{userMessage}}", vars.UserMessage,
		"{{query}}", vars.Query,
		"{{searchResults}}", vars.SearchResults,
		"{{documentUrl}}", vars.DocumentURL,
		"{{maxRelevantDocs}}", strconv.Itoa(vars.MaxRelevantDocs),
		"{{systemPrompt}}", vars.SystemPrompt,
		"{{context}}", vars.Context,
		"{{documentContent}}", vars.DocumentContent,
		"{{languageInstruction}}", vars.LanguageInstruction,
	)
	return strings.TrimSpace(r.Replace(tmpl))
}

// languageInstruction returns the prompt line forcing responses into the
// given language: empty for English or unset languages, otherwise an
// explicit directive with the language's display name.
func languageInstruction(lang string) string {
	if lang == "" || i18n.IsEnglish(lang) {
		return ""
	}
	name := i18n.DisplayName(lang)
	if name == "" {
		return ""
	}
	return "IMPORTANT: You MUST respond in " + name + "."
}
