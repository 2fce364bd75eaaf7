// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.ragchat/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - RAG chat: feature flag, backend selection, generation and context budgets, prompt overrides
//   - Backends: OpenAI / Gemini / Ollama endpoint, credentials, model, timeout
//   - Search: index server base URL and timeout
//   - Session: in-memory session eviction
//   - Server: HTTP serve mode (address, CORS, rate limiting)
//   - Tracing: OTLP trace export (see internal/observability)
//   - Fetch: web content fallback for documents indexed without content
//
// Security: Sensitive data (API keys) are never logged; config directory uses 0750 permissions.
//
// Error Handling:
//   - Uses sentinel errors for Go-idiomatic error checking with errors.Is()
//   - Wrap with context using fmt.Errorf("%w: details", ErrXxx)
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidLLMType indicates the selected LLM backend is not supported.
	ErrInvalidLLMType = errors.New("invalid llm type")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidContextLimit indicates a context budget value is out of range.
	ErrInvalidContextLimit = errors.New("invalid context limit")

	// ErrInvalidEvaluationLimit indicates the relevant-document cap is out of range.
	ErrInvalidEvaluationLimit = errors.New("invalid evaluation limit")

	// ErrInvalidHistoryLimit indicates the history message cap is negative.
	ErrInvalidHistoryLimit = errors.New("invalid history limit")

	// ErrMissingModel indicates the selected backend has no model configured.
	ErrMissingModel = errors.New("missing model")

	// ErrMissingContentFields indicates the full-content field list is empty.
	ErrMissingContentFields = errors.New("missing content fields")

	// ErrMissingSearchURL indicates the search base URL is empty.
	ErrMissingSearchURL = errors.New("missing search URL")

	// ErrInvalidTimeout indicates a timeout value is negative.
	ErrInvalidTimeout = errors.New("invalid timeout")

	// ErrInvalidRateLimit indicates a rate limit value is negative.
	ErrInvalidRateLimit = errors.New("invalid rate limit")
)

// LLM backend identifiers used in RAGConfig.LLMType.
const (
	LLMTypeNone   = "none"
	LLMTypeOllama = "ollama"
	LLMTypeOpenAI = "openai"
	LLMTypeGemini = "gemini"
)

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (API keys, tokens), update MarshalJSON.
type Config struct {
	// RAG chat pipeline configuration
	RAG RAGConfig `mapstructure:"rag_chat" json:"rag_chat"`

	// LLM backend configuration (one block per backend; RAG.LLMType selects)
	OpenAI BackendConfig `mapstructure:"openai" json:"openai"`
	Gemini BackendConfig `mapstructure:"gemini" json:"gemini"`
	Ollama BackendConfig `mapstructure:"ollama" json:"ollama"`

	// Search index server
	Search SearchConfig `mapstructure:"search" json:"search"`

	// In-memory session store
	Session SessionConfig `mapstructure:"session" json:"session"`

	// HTTP serve mode
	Server ServerConfig `mapstructure:"server" json:"server"`

	// OTLP tracing (disabled when Endpoint is empty)
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`

	// Web content fallback
	Fetch FetchConfig `mapstructure:"fetch" json:"fetch"`
}

// RAGConfig controls the retrieval-augmented chat pipeline.
type RAGConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`   // Feature flag; false reports the backend unavailable
	LLMType string `mapstructure:"llm_type" json:"llm_type"` // "none", "ollama", "openai", "gemini"

	// Generation parameters applied to answer-phase requests
	Temperature float64 `mapstructure:"temperature" json:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" json:"max_tokens"`

	// Context assembly budgets
	ContextMaxDocuments       int `mapstructure:"context_max_documents" json:"context_max_documents"`
	ContextMaxChars           int `mapstructure:"context_max_chars" json:"context_max_chars"`
	EvaluationMaxRelevantDocs int `mapstructure:"evaluation_max_relevant_docs" json:"evaluation_max_relevant_docs"`

	// Conversation history cap (messages, counting both roles)
	HistoryMaxMessages int `mapstructure:"history_max_messages" json:"history_max_messages"`

	// SystemPrompt is the base system prompt for answer, FAQ and summary generation.
	SystemPrompt string `mapstructure:"system_prompt" json:"system_prompt"`

	// AvailabilityCheckInterval re-probes the backend; zero or negative disables the loop.
	AvailabilityCheckInterval time.Duration `mapstructure:"availability_check_interval" json:"availability_check_interval"`

	// ContentFields is the comma-separated field list requested when fetching full documents.
	ContentFields string `mapstructure:"content_fields" json:"content_fields"`

	// Language is the default response language as a BCP 47 tag (e.g. "en", "ja", "zh-TW").
	Language string `mapstructure:"language" json:"language"`

	// Prompts overrides the built-in prompt templates; empty fields keep the defaults.
	Prompts PromptsConfig `mapstructure:"prompts" json:"prompts"`
}

// ContentFieldList splits ContentFields on commas, dropping blank entries.
func (r RAGConfig) ContentFieldList() []string {
	parts := strings.Split(r.ContentFields, ",")
	fields := make([]string, 0, len(parts))
	for _, p := range parts {
		if f := strings.TrimSpace(p); f != "" {
			fields = append(fields, f)
		}
	}
	return fields
}

// PromptsConfig overrides the built-in prompt templates.
// Placeholders like {{userMessage}} and {{context}} are documented in internal/llm.
type PromptsConfig struct {
	IntentDetection  string `mapstructure:"intent_detection" json:"intent_detection"`
	Evaluation       string `mapstructure:"evaluation" json:"evaluation"`
	Answer           string `mapstructure:"answer" json:"answer"`
	FAQ              string `mapstructure:"faq" json:"faq"`
	Summary          string `mapstructure:"summary" json:"summary"`
	Unclear          string `mapstructure:"unclear" json:"unclear"`
	NoResults        string `mapstructure:"no_results" json:"no_results"`
	DocumentNotFound string `mapstructure:"document_not_found" json:"document_not_found"`
}

// BackendConfig holds the connection settings for one LLM backend.
type BackendConfig struct {
	// APIURL is the backend base URL (e.g. "https://api.openai.com/v1")
	APIURL string `mapstructure:"api_url" json:"api_url"`
	// APIKey authenticates requests; unused by Ollama
	APIKey string `mapstructure:"api_key" json:"api_key" sensitive:"true"` // SENSITIVE: masked in MarshalJSON
	// Model is the model identifier (e.g. "gpt-4o-mini", "gemini-2.5-flash", "llama3.3")
	Model string `mapstructure:"model" json:"model"`
	// Timeout bounds non-streaming calls and the response-header wait of streaming calls
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
func (b BackendConfig) MarshalJSON() ([]byte, error) {
	type alias BackendConfig
	a := alias(b)
	a.APIKey = maskSecret(a.APIKey)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal backend config: %w", err)
	}
	return data, nil
}

// SearchConfig holds the search index server connection settings.
type SearchConfig struct {
	// BaseURL is the index server's JSON API root (e.g. "http://localhost:8080")
	BaseURL string        `mapstructure:"base_url" json:"base_url"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
}

// SessionConfig controls the in-memory session store.
type SessionConfig struct {
	// IdleTimeout evicts sessions untouched for this long; zero or negative disables eviction.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" json:"idle_timeout"`
}

// ServerConfig holds HTTP serve mode settings.
type ServerConfig struct {
	Addr        string   `mapstructure:"addr" json:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"` // Trust X-Real-IP/X-Forwarded-For (set true behind reverse proxy)

	// Per-client-IP rate limit; RPS 0 disables limiting
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps" json:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst" json:"rate_limit_burst"`
}

// TracingConfig holds OTLP trace export settings.
// Tracing is disabled when Endpoint is empty.
type TracingConfig struct {
	// Endpoint is the OTLP/HTTP collector endpoint (e.g. "localhost:4318")
	Endpoint string `mapstructure:"endpoint" json:"endpoint"`
	// ServiceName is the service name tag (default: ragchat)
	ServiceName string `mapstructure:"service_name" json:"service_name"`
	// Environment is the deployment environment tag (default: dev)
	Environment string `mapstructure:"environment" json:"environment"`
}

// FetchConfig controls the web content fallback for documents whose index
// record carries no content. AllowPrivate opens the fetcher to private and
// loopback addresses for intranet indexes; the cloud metadata endpoint stays
// blocked regardless.
type FetchConfig struct {
	Enabled      bool          `mapstructure:"enabled" json:"enabled"`
	Timeout      time.Duration `mapstructure:"timeout" json:"timeout"`
	AllowPrivate bool          `mapstructure:"allow_private" json:"allow_private"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	// Configuration directory: ~/.ragchat/
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".ragchat")

	// Ensure directory exists (use 0750 permission for better security)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	// Configure Viper
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	// Set default values
	setDefaults()

	// Bind environment variables
	bindEnvVariables()

	// Read configuration file (if exists)
	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	// Use Unmarshal to automatically map to struct (type-safe)
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// Validate immediately (fail-fast)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// RAG chat defaults
	viper.SetDefault("rag_chat.enabled", true)
	viper.SetDefault("rag_chat.llm_type", LLMTypeOllama)
	viper.SetDefault("rag_chat.temperature", 0.2)
	viper.SetDefault("rag_chat.max_tokens", 2000)
	viper.SetDefault("rag_chat.context_max_documents", 5)
	viper.SetDefault("rag_chat.context_max_chars", 8000)
	viper.SetDefault("rag_chat.evaluation_max_relevant_docs", 3)
	viper.SetDefault("rag_chat.history_max_messages", 20)
	viper.SetDefault("rag_chat.availability_check_interval", time.Minute)
	viper.SetDefault("rag_chat.content_fields", "doc_id,title,url,content,content_description")
	viper.SetDefault("rag_chat.language", "en")

	// Backend defaults
	viper.SetDefault("openai.api_url", "https://api.openai.com/v1")
	viper.SetDefault("openai.model", "gpt-4o-mini")
	viper.SetDefault("openai.timeout", time.Minute)
	viper.SetDefault("gemini.api_url", "https://generativelanguage.googleapis.com/v1beta")
	viper.SetDefault("gemini.model", "gemini-2.5-flash")
	viper.SetDefault("gemini.timeout", time.Minute)
	viper.SetDefault("ollama.api_url", "http://localhost:11434")
	viper.SetDefault("ollama.model", "llama3.3")
	viper.SetDefault("ollama.timeout", time.Minute)

	// Search defaults
	viper.SetDefault("search.base_url", "http://localhost:8080")
	viper.SetDefault("search.timeout", 10*time.Second)

	// Session defaults
	viper.SetDefault("session.idle_timeout", 30*time.Minute)

	// Server defaults
	viper.SetDefault("server.addr", "127.0.0.1:3404")
	viper.SetDefault("server.cors_origins", []string{})
	viper.SetDefault("server.trust_proxy", false)
	viper.SetDefault("server.rate_limit_rps", 5.0)
	viper.SetDefault("server.rate_limit_burst", 10)

	// Tracing defaults (endpoint empty = disabled)
	viper.SetDefault("tracing.service_name", "ragchat")
	viper.SetDefault("tracing.environment", "dev")

	// Fetch defaults
	viper.SetDefault("fetch.enabled", false)
	viper.SetDefault("fetch.timeout", 15*time.Second)
	viper.SetDefault("fetch.allow_private", false)
}

// bindEnvVariables binds environment variables explicitly.
// Secrets come only from the environment, never from defaults:
//  1. OPENAI_API_KEY - OpenAI backend credential
//  2. GEMINI_API_KEY - Gemini backend credential
//
// A handful of RAGCHAT_* overrides cover deployment-specific values.
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail)
	// If this panics, it's a BUG in our code, not a runtime error
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	// Backend credentials
	mustBind("openai.api_key", "OPENAI_API_KEY")
	mustBind("gemini.api_key", "GEMINI_API_KEY")

	// Backend selection and endpoints
	mustBind("rag_chat.llm_type", "RAGCHAT_LLM_TYPE")
	mustBind("rag_chat.language", "RAGCHAT_LANGUAGE")
	mustBind("ollama.api_url", "RAGCHAT_OLLAMA_URL")
	mustBind("search.base_url", "RAGCHAT_SEARCH_URL")

	// Serve mode (behind reverse proxy)
	mustBind("server.cors_origins", "RAGCHAT_CORS_ORIGINS")
	mustBind("server.trust_proxy", "RAGCHAT_TRUST_PROXY")

	// Tracing uses the standard OTel endpoint variable
	mustBind("tracing.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// Backend returns the connection settings for the named backend.
// The second return value is false for "none" and unknown names.
func (c *Config) Backend(llmType string) (BackendConfig, bool) {
	switch llmType {
	case LLMTypeOpenAI:
		return c.OpenAI, true
	case LLMTypeGemini:
		return c.Gemini, true
	case LLMTypeOllama:
		return c.Ollama, true
	default:
		return BackendConfig{}, false
	}
}

// maskedValue is the placeholder for masked sensitive data.
// Using ████████ (full-width blocks U+2588) to avoid substring matching
// against real secret characters.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 characters or fewer are fully masked; longer secrets keep the
// first and last 2 characters for debug utility.
// This defends against accidental logging of real secrets, nothing more.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	prefix := make([]byte, 2)
	suffix := make([]byte, 2)
	copy(prefix, s[:2])
	copy(suffix, s[len(s)-2:])
	return string(prefix) + "<" + maskedValue + ">" + string(suffix)
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked:
//   - OpenAI.APIKey, Gemini.APIKey, Ollama.APIKey (via BackendConfig.MarshalJSON)
//
// When adding new sensitive fields, update this method or the nested struct's MarshalJSON.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	data, err := json.Marshal(alias(c))
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
