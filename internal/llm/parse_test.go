package llm

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/koopa0/ragchat/internal/search"
)

func TestStripCodeFences(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "plain json unchanged",
			in:   `{"intent":"search"}`,
			want: `{"intent":"search"}`,
		},
		{
			name: "json fence",
			in:   "```json\n{\"intent\":\"search\"}\n```",
			want: `{"intent":"search"}`,
		},
		{
			name: "bare fence",
			in:   "```\n{\"intent\":\"faq\"}\n```",
			want: `{"intent":"faq"}`,
		},
		{
			name: "surrounding whitespace",
			in:   "  \n```json\n{}\n```  \n",
			want: "{}",
		},
		{
			name: "missing closing fence",
			in:   "```json\n{\"a\":1}",
			want: `{"a":1}`,
		},
		{
			name: "empty",
			in:   "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := stripCodeFences(tt.in); got != tt.want {
				t.Errorf("stripCodeFences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseIntent(t *testing.T) {
	t.Parallel()

	const userMessage = "how do I configure the crawler"

	tests := []struct {
		name     string
		response string
		want     IntentResult
	}{
		{
			name:     "clean search json",
			response: `{"intent":"search","query":"+crawler +configure","reasoning":"setup question"}`,
			want:     IntentResult{Intent: IntentSearch, Query: "+crawler +configure", Reasoning: "setup question"},
		},
		{
			name:     "fenced faq json",
			response: "```json\n{\"intent\":\"faq\",\"query\":\"crawler interval\"}\n```",
			want:     IntentResult{Intent: IntentFAQ, Query: "crawler interval"},
		},
		{
			name:     "summary with url",
			response: `{"intent":"summary","url":"https://example.com/doc","reasoning":"explicit url"}`,
			want:     IntentResult{Intent: IntentSummary, URL: "https://example.com/doc", Reasoning: "explicit url"},
		},
		{
			name:     "unclear",
			response: `{"intent":"unclear","reasoning":"too vague"}`,
			want:     IntentResult{Intent: IntentUnclear, Reasoning: "too vague"},
		},
		{
			name:     "uppercase intent value",
			response: `{"intent":"SEARCH","query":"docker"}`,
			want:     IntentResult{Intent: IntentSearch, Query: "docker"},
		},
		{
			name:     "json embedded in prose",
			response: `Sure, here is the classification: {"intent":"search","query":"docker"} hope that helps`,
			want:     IntentResult{Intent: IntentSearch, Query: "docker"},
		},
		{
			name:     "escaped quotes via regex fallback",
			response: `Result: {"intent":"search","query":"title:\"Acme\"^2"}`,
			want:     IntentResult{Intent: IntentSearch, Query: `title:"Acme"^2`},
		},
		{
			name:     "missing query stays empty",
			response: `{"intent":"search"}`,
			want:     IntentResult{Intent: IntentSearch},
		},
		{
			name:     "prose refusal falls back to search",
			response: "I cannot determine the intent of this question.",
			want:     FallbackSearch(userMessage),
		},
		{
			name:     "unknown intent value collapses to unclear",
			response: `{"intent":"browse","query":"docker"}`,
			want:     IntentResult{Intent: IntentUnclear, Reasoning: `unknown intent "browse"`},
		},
		{
			name:     "blank intent value collapses to unclear",
			response: `{"intent":"","query":"docker"}`,
			want:     IntentResult{Intent: IntentUnclear, Reasoning: `unknown intent ""`},
		},
		{
			name:     "empty response falls back to search",
			response: "",
			want:     FallbackSearch(userMessage),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ParseIntent(tt.response, userMessage)
			if got != tt.want {
				t.Errorf("ParseIntent() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

// TestParseIntent_RoundTrip verifies that marshaling a valid result and
// parsing it back is the identity, so drivers and tests can exchange intent
// JSON freely.
func TestParseIntent_RoundTrip(t *testing.T) {
	t.Parallel()

	results := []IntentResult{
		{Intent: IntentSearch, Query: `title:"Acme"^2 OR "Acme"`, Reasoning: "product name"},
		{Intent: IntentFAQ, Query: "+install +requirements"},
		{Intent: IntentSummary, URL: "https://example.com/guide.html", Reasoning: "url given"},
		{Intent: IntentUnclear, Reasoning: "no searchable topic"},
	}

	for _, want := range results {
		data, err := json.Marshal(want)
		if err != nil {
			t.Fatalf("marshal %+v: %v", want, err)
		}
		if got := ParseIntent(string(data), "original message"); got != want {
			t.Errorf("ParseIntent(%s) = %+v, want %+v", data, got, want)
		}
	}
}

func evalHits() []search.Document {
	return []search.Document{
		{"doc_id": "d1", "title": "First doc", "content_description": "first description"},
		{"doc_id": "d2", "title": "Second doc", "content_description": "second description"},
		{"doc_id": "", "title": "No id doc", "content_description": "third description"},
		{"doc_id": "d4", "title": "Fourth doc", "content_description": "fourth description"},
	}
}

func TestParseEvaluation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		response    string
		maxRelevant int
		want        EvaluationResult
		wantOK      bool
	}{
		{
			name:        "clean json",
			response:    `{"has_relevant":true,"relevant_indexes":[1,4]}`,
			maxRelevant: 3,
			want: EvaluationResult{
				HasRelevant:     true,
				RelevantIndexes: []int{1, 4},
				RelevantDocIDs:  []string{"d1", "d4"},
			},
			wantOK: true,
		},
		{
			name:        "fenced json",
			response:    "```json\n{\"has_relevant\": true, \"relevant_indexes\": [2]}\n```",
			maxRelevant: 3,
			want: EvaluationResult{
				HasRelevant:     true,
				RelevantIndexes: []int{2},
				RelevantDocIDs:  []string{"d2"},
			},
			wantOK: true,
		},
		{
			name:        "dedupes preserving order",
			response:    `{"has_relevant":true,"relevant_indexes":[2,1,2,1]}`,
			maxRelevant: 5,
			want: EvaluationResult{
				HasRelevant:     true,
				RelevantIndexes: []int{2, 1},
				RelevantDocIDs:  []string{"d2", "d1"},
			},
			wantOK: true,
		},
		{
			name:        "filters out of range indexes",
			response:    `{"has_relevant":true,"relevant_indexes":[0,1,5,99]}`,
			maxRelevant: 5,
			want: EvaluationResult{
				HasRelevant:     true,
				RelevantIndexes: []int{1},
				RelevantDocIDs:  []string{"d1"},
			},
			wantOK: true,
		},
		{
			name:        "caps at max relevant",
			response:    `{"has_relevant":true,"relevant_indexes":[1,2,4]}`,
			maxRelevant: 2,
			want: EvaluationResult{
				HasRelevant:     true,
				RelevantIndexes: []int{1, 2},
				RelevantDocIDs:  []string{"d1", "d2"},
			},
			wantOK: true,
		},
		{
			name:        "blank doc id kept as index only",
			response:    `{"has_relevant":true,"relevant_indexes":[3,2]}`,
			maxRelevant: 3,
			want: EvaluationResult{
				HasRelevant:     true,
				RelevantIndexes: []int{3, 2},
				RelevantDocIDs:  []string{"d2"},
			},
			wantOK: true,
		},
		{
			name:        "nothing relevant",
			response:    `{"has_relevant":false,"relevant_indexes":[]}`,
			maxRelevant: 3,
			want:        EvaluationResult{},
			wantOK:      true,
		},
		{
			name:        "prose around json uses regex fallback",
			response:    `Looking at the hits: "has_relevant": true, "relevant_indexes": [1, 2, x]`,
			maxRelevant: 3,
			want: EvaluationResult{
				HasRelevant:     true,
				RelevantIndexes: []int{1, 2},
				RelevantDocIDs:  []string{"d1", "d2"},
			},
			wantOK: true,
		},
		{
			name:        "relevant but no usable indexes",
			response:    `{"has_relevant":true}`,
			maxRelevant: 3,
			want:        EvaluationResult{HasRelevant: true},
			wantOK:      true,
		},
		{
			name:        "unusable response",
			response:    "the documents look fine to me",
			maxRelevant: 3,
			want:        EvaluationResult{},
			wantOK:      false,
		},
		{
			name:        "indexes without verdict is unusable",
			response:    `{"relevant_indexes":[1]}`,
			maxRelevant: 3,
			want:        EvaluationResult{},
			wantOK:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := ParseEvaluation(tt.response, evalHits(), tt.maxRelevant)
			if ok != tt.wantOK {
				t.Fatalf("ParseEvaluation() ok = %v, want %v", ok, tt.wantOK)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseEvaluation() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestAllRelevant(t *testing.T) {
	t.Parallel()

	got := AllRelevant(evalHits())
	if !got.HasRelevant {
		t.Error("AllRelevant().HasRelevant = false, want true")
	}
	wantIDs := []string{"d1", "d2", "d4"}
	if !reflect.DeepEqual(got.RelevantDocIDs, wantIDs) {
		t.Errorf("AllRelevant().RelevantDocIDs = %v, want %v", got.RelevantDocIDs, wantIDs)
	}
	if got.RelevantIndexes != nil {
		t.Errorf("AllRelevant().RelevantIndexes = %v, want nil", got.RelevantIndexes)
	}
}

func TestExtractString_Unescaping(t *testing.T) {
	t.Parallel()

	payload := `not json, but contains "query": "say \"hello\" to C:\\tmp"`
	got, ok := extractString(payload, "query")
	if !ok {
		t.Fatal("extractString() ok = false, want true")
	}
	want := `say "hello" to C:\tmp`
	if got != want {
		t.Errorf("extractString() = %q, want %q", got, want)
	}
}

func TestExtractBool_CaseInsensitive(t *testing.T) {
	t.Parallel()

	got, ok := extractBool(`response: "HAS_RELEVANT": TRUE`, "has_relevant")
	if !ok {
		t.Fatal("extractBool() ok = false, want true")
	}
	if !got {
		t.Error("extractBool() = false, want true")
	}
}
