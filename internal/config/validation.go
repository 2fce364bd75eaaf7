package config

import (
	"fmt"
	"log/slog"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
//
// Missing backend credentials are deliberately NOT errors: a backend with a
// blank API key or URL is reported as unavailable by the registry probe, and
// the rest of the application keeps working. Validation only rejects values
// that can never be right.
func (c *Config) Validate() error {
	// 0. Check for nil config
	if c == nil {
		return ErrConfigNil
	}

	// 1. Backend selection
	validTypes := []string{LLMTypeNone, LLMTypeOllama, LLMTypeOpenAI, LLMTypeGemini}
	if !slices.Contains(validTypes, c.RAG.LLMType) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidLLMType, c.RAG.LLMType, validTypes)
	}

	// 2. Generation parameters
	// Temperature range: 0.0 (deterministic) to 2.0 (maximum creativity)
	if c.RAG.Temperature < 0.0 || c.RAG.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.RAG.Temperature)
	}

	if c.RAG.MaxTokens < 1 {
		return fmt.Errorf("%w: must be at least 1, got %d", ErrInvalidMaxTokens, c.RAG.MaxTokens)
	}

	// 3. Context budgets
	if c.RAG.ContextMaxDocuments < 1 {
		return fmt.Errorf("%w: context_max_documents must be at least 1, got %d",
			ErrInvalidContextLimit, c.RAG.ContextMaxDocuments)
	}

	if c.RAG.ContextMaxChars < 1 {
		return fmt.Errorf("%w: context_max_chars must be at least 1, got %d",
			ErrInvalidContextLimit, c.RAG.ContextMaxChars)
	}

	if c.RAG.EvaluationMaxRelevantDocs < 1 {
		return fmt.Errorf("%w: must be at least 1, got %d",
			ErrInvalidEvaluationLimit, c.RAG.EvaluationMaxRelevantDocs)
	}

	if c.RAG.HistoryMaxMessages < 0 {
		return fmt.Errorf("%w: must be zero or positive, got %d",
			ErrInvalidHistoryLimit, c.RAG.HistoryMaxMessages)
	}

	// 4. Full-content fetch fields
	if len(c.RAG.ContentFieldList()) == 0 {
		return fmt.Errorf("%w: content_fields cannot be empty", ErrMissingContentFields)
	}

	// 5. Selected backend sanity
	if backend, ok := c.Backend(c.RAG.LLMType); ok {
		if backend.Model == "" {
			return fmt.Errorf("%w: %s.model must be set", ErrMissingModel, c.RAG.LLMType)
		}
		if backend.Timeout < 0 {
			return fmt.Errorf("%w: %s.timeout cannot be negative", ErrInvalidTimeout, c.RAG.LLMType)
		}
		// Blank credentials degrade to "unavailable", so only warn here.
		if backend.APIURL == "" {
			slog.Warn("backend API URL not set, backend will be reported unavailable",
				"llm_type", c.RAG.LLMType)
		}
		needsKey := c.RAG.LLMType == LLMTypeOpenAI || c.RAG.LLMType == LLMTypeGemini
		if needsKey && backend.APIKey == "" {
			slog.Warn("backend API key not set, backend will be reported unavailable",
				"llm_type", c.RAG.LLMType,
				"hint", fmt.Sprintf("set the %s_API_KEY environment variable", upperLLMType(c.RAG.LLMType)))
		}
	}

	// 6. Search index server
	if c.Search.BaseURL == "" {
		return fmt.Errorf("%w: search.base_url must be set", ErrMissingSearchURL)
	}

	if c.Search.Timeout < 0 {
		return fmt.Errorf("%w: search.timeout cannot be negative", ErrInvalidTimeout)
	}

	// 7. Serve mode
	if c.Server.RateLimitRPS < 0 {
		return fmt.Errorf("%w: rate_limit_rps cannot be negative, got %g",
			ErrInvalidRateLimit, c.Server.RateLimitRPS)
	}

	if c.Server.RateLimitBurst < 0 {
		return fmt.Errorf("%w: rate_limit_burst cannot be negative, got %d",
			ErrInvalidRateLimit, c.Server.RateLimitBurst)
	}

	// 8. Fetch fallback
	if c.Fetch.Timeout < 0 {
		return fmt.Errorf("%w: fetch.timeout cannot be negative", ErrInvalidTimeout)
	}

	return nil
}

// upperLLMType maps a backend name to its API key env var prefix.
func upperLLMType(llmType string) string {
	switch llmType {
	case LLMTypeOpenAI:
		return "OPENAI"
	case LLMTypeGemini:
		return "GEMINI"
	default:
		return "RAGCHAT"
	}
}
