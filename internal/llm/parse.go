package llm

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/koopa0/ragchat/internal/search"
)

// stripCodeFences removes a surrounding markdown code fence. Models often
// wrap the requested JSON in ```json ... ``` despite instructions.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if after, ok := strings.CutPrefix(s, "```json"); ok {
		s = after
	} else if after, ok := strings.CutPrefix(s, "```"); ok {
		s = after
	}
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// extractString reads a string field from a JSON payload, falling back to a
// regex scan when the payload is not well-formed JSON or the field is not a
// string there. Reports false when the field cannot be found either way.
func extractString(payload, key string) (string, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(payload), &obj); err == nil {
		if s, ok := obj[key].(string); ok {
			return s, true
		}
	}
	re := regexp.MustCompile(`"` + regexp.QuoteMeta(key) + `"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	m := re.FindStringSubmatch(payload)
	if m == nil {
		return "", false
	}
	return unescapeJSON(m[1]), true
}

// unescapeJSON undoes the two escapes the string regex can capture.
func unescapeJSON(s string) string {
	s = strings.ReplaceAll(s, `\"`, `"`)
	return strings.ReplaceAll(s, `\\`, `\`)
}

func extractBool(payload, key string) (bool, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(payload), &obj); err == nil {
		if b, ok := obj[key].(bool); ok {
			return b, true
		}
	}
	re := regexp.MustCompile(`(?i)"` + regexp.QuoteMeta(key) + `"\s*:\s*(true|false)`)
	m := re.FindStringSubmatch(payload)
	if m == nil {
		return false, false
	}
	return strings.EqualFold(m[1], "true"), true
}

func extractIntArray(payload, key string) ([]int, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(payload), &obj); err == nil {
		if arr, ok := obj[key].([]any); ok {
			out := make([]int, 0, len(arr))
			for _, e := range arr {
				if f, ok := e.(float64); ok && f == math.Trunc(f) {
					out = append(out, int(f))
				}
			}
			return out, true
		}
	}
	re := regexp.MustCompile(`"` + regexp.QuoteMeta(key) + `"\s*:\s*\[([^\]]*)\]`)
	m := re.FindStringSubmatch(payload)
	if m == nil {
		return nil, false
	}
	var out []int
	for _, part := range strings.Split(m[1], ",") {
		part = strings.TrimSpace(part)
		if !isDigits(part) {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// ParseIntent reads the classifier's response. A response with no
// extractable intent field falls back to searching with the user's original
// message, so a malformed classifier output never blocks the pipeline. An
// extractable but unknown intent value collapses to unclear, carrying the
// bad value as reasoning.
func ParseIntent(response, userMessage string) IntentResult {
	payload := stripCodeFences(response)
	value, ok := extractString(payload, "intent")
	if !ok {
		return FallbackSearch(userMessage)
	}
	reasoning, _ := extractString(payload, "reasoning")
	switch Intent(strings.ToLower(strings.TrimSpace(value))) {
	case IntentSearch:
		query, _ := extractString(payload, "query")
		return IntentResult{Intent: IntentSearch, Query: query, Reasoning: reasoning}
	case IntentFAQ:
		query, _ := extractString(payload, "query")
		return IntentResult{Intent: IntentFAQ, Query: query, Reasoning: reasoning}
	case IntentSummary:
		url, _ := extractString(payload, "url")
		return IntentResult{Intent: IntentSummary, URL: url, Reasoning: reasoning}
	case IntentUnclear:
		return IntentResult{Intent: IntentUnclear, Reasoning: reasoning}
	}
	return IntentResult{Intent: IntentUnclear, Reasoning: "unknown intent " + strconv.Quote(value)}
}

// ParseEvaluation reads the evaluator's response against the hits it judged.
// Indexes are deduplicated in response order, restricted to 1..len(hits) and
// capped at maxRelevant; surviving indexes map to their hits' doc_ids. The
// second return is false when the response is unusable, in which case the
// caller should treat every hit as relevant (see AllRelevant).
func ParseEvaluation(response string, hits []search.Document, maxRelevant int) (EvaluationResult, bool) {
	payload := stripCodeFences(response)
	hasRelevant, ok := extractBool(payload, "has_relevant")
	if !ok {
		return EvaluationResult{}, false
	}
	if !hasRelevant {
		return EvaluationResult{}, true
	}
	indexes, _ := extractIntArray(payload, "relevant_indexes")
	seen := make(map[int]bool, len(indexes))
	var kept []int
	var ids []string
	for _, idx := range indexes {
		if idx < 1 || idx > len(hits) || seen[idx] {
			continue
		}
		if maxRelevant > 0 && len(kept) >= maxRelevant {
			break
		}
		seen[idx] = true
		kept = append(kept, idx)
		if id := hits[idx-1].DocID(); id != "" {
			ids = append(ids, id)
		}
	}
	return EvaluationResult{HasRelevant: true, RelevantIndexes: kept, RelevantDocIDs: ids}, true
}

// AllRelevant treats every hit with a doc_id as relevant. It is the
// evaluation fallback when the evaluator's output is unusable.
func AllRelevant(hits []search.Document) EvaluationResult {
	var ids []string
	for _, d := range hits {
		if id := d.DocID(); id != "" {
			ids = append(ids, id)
		}
	}
	return EvaluationResult{HasRelevant: true, RelevantDocIDs: ids}
}
