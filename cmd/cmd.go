// Package cmd provides the ragchat CLI commands.
//
// Commands:
//   - serve: HTTP API server with SSE streaming
//   - chat: interactive terminal chat with Bubble Tea TUI
//   - ask: one-shot question from the command line
//   - mcp: Model Context Protocol server for assistant integration
//
// Signal handling and graceful shutdown are implemented for all commands
// via context cancellation.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/koopa0/ragchat/internal/chat"
	"github.com/koopa0/ragchat/internal/config"
	"github.com/koopa0/ragchat/internal/fetch"
	"github.com/koopa0/ragchat/internal/llm"
	"github.com/koopa0/ragchat/internal/llm/gemini"
	"github.com/koopa0/ragchat/internal/llm/ollama"
	"github.com/koopa0/ragchat/internal/llm/openai"
	"github.com/koopa0/ragchat/internal/llm/registry"
	"github.com/koopa0/ragchat/internal/search"
	"github.com/koopa0/ragchat/internal/session"
)

// Execute is the main entry point for the ragchat CLI.
func Execute() error {
	// Initialize logger once at entry point. Logs go to stderr; stdout is
	// reserved for command output (and JSON-RPC in mcp mode).
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "serve":
		return runServe()
	case "chat":
		return runChat()
	case "ask":
		return runAsk()
	case "mcp":
		return runMCP()
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("ragchat - retrieval-augmented chat over a document index")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  ragchat serve [addr]   Start the HTTP API server (default: 127.0.0.1:3404)")
	fmt.Println("  ragchat chat           Start the interactive terminal client")
	fmt.Println("  ragchat ask <question> Ask one question and print the answer")
	fmt.Println("  ragchat mcp            Start the MCP server on stdio")
	fmt.Println("  ragchat --version      Show version information")
	fmt.Println("  ragchat --help         Show this help")
	fmt.Println()
	fmt.Println("Ask flags:")
	fmt.Println("  --render               Pretty-print the answer as markdown")
	fmt.Println("  --direct               Skip retrieval and ask the model directly")
	fmt.Println("  --lang <tag>           Response language (BCP 47 tag, e.g. ja)")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  DEBUG                  Enable debug logging")
	fmt.Println("  RAGCHAT_LLM_TYPE       LLM backend: ollama, openai, gemini, none")
	fmt.Println("  RAGCHAT_SEARCH_URL     Search index base URL")
	fmt.Println("  OPENAI_API_KEY         OpenAI backend credential")
	fmt.Println("  GEMINI_API_KEY         Gemini backend credential")
	fmt.Println()
	fmt.Println("Configuration file: ~/.ragchat/config.yaml")
}

// runtime is the wired service graph shared by every command.
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *registry.Registry
	searcher *search.Client
	sessions *session.Store
	chat     *chat.Service
}

// newRuntime wires the full stack from configuration. Background loops
// (availability re-probes, session eviction) are not started here; commands
// that want them run registry.Run and sessions.Run themselves.
func newRuntime(cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	reg := registry.New(registry.Config{
		Enabled:  cfg.RAG.Enabled,
		LLMType:  cfg.RAG.LLMType,
		Interval: cfg.RAG.AvailabilityCheckInterval,
		OpenAI: openai.Config{
			APIURL:  cfg.OpenAI.APIURL,
			APIKey:  cfg.OpenAI.APIKey,
			Model:   cfg.OpenAI.Model,
			Timeout: cfg.OpenAI.Timeout,
			Logger:  logger,
		},
		Gemini: gemini.Config{
			APIURL:  cfg.Gemini.APIURL,
			APIKey:  cfg.Gemini.APIKey,
			Model:   cfg.Gemini.Model,
			Timeout: cfg.Gemini.Timeout,
			Logger:  logger,
		},
		Ollama: ollama.Config{
			APIURL:  cfg.Ollama.APIURL,
			Model:   cfg.Ollama.Model,
			Timeout: cfg.Ollama.Timeout,
			Logger:  logger,
		},
		Logger: logger,
	})

	facade, err := llm.New(llm.Config{
		Driver:          reg,
		Logger:          logger,
		Templates:       promptTemplates(cfg.RAG.Prompts),
		SystemPrompt:    cfg.RAG.SystemPrompt,
		Language:        cfg.RAG.Language,
		Temperature:     cfg.RAG.Temperature,
		MaxTokens:       cfg.RAG.MaxTokens,
		ContextMaxChars: cfg.RAG.ContextMaxChars,
		MaxRelevantDocs: cfg.RAG.EvaluationMaxRelevantDocs,
	})
	if err != nil {
		return nil, fmt.Errorf("creating llm service: %w", err)
	}

	searcher := search.New(search.Config{
		BaseURL: cfg.Search.BaseURL,
		Timeout: cfg.Search.Timeout,
		Logger:  logger,
	})

	sessions := session.New(session.Config{
		IdleTimeout: cfg.Session.IdleTimeout,
		Logger:      logger,
	})

	fetcher := fetch.New(fetch.Config{
		Enabled:      cfg.Fetch.Enabled,
		Timeout:      cfg.Fetch.Timeout,
		AllowPrivate: cfg.Fetch.AllowPrivate,
		Logger:       logger,
	})

	svc, err := chat.New(chat.Config{
		LLM:                facade,
		Searcher:           searcher,
		Sessions:           sessions,
		Fetcher:            fetcher,
		Logger:             logger,
		MaxSearchDocs:      cfg.RAG.ContextMaxDocuments,
		ContentFields:      cfg.RAG.ContentFieldList(),
		HistoryMaxMessages: cfg.RAG.HistoryMaxMessages,
	})
	if err != nil {
		return nil, fmt.Errorf("creating chat service: %w", err)
	}

	return &runtime{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		searcher: searcher,
		sessions: sessions,
		chat:     svc,
	}, nil
}

// promptTemplates maps configured prompt overrides onto the façade's
// template set; empty fields keep the built-ins.
func promptTemplates(p config.PromptsConfig) llm.Templates {
	return llm.Templates{
		IntentDetection:  p.IntentDetection,
		Evaluation:       p.Evaluation,
		Answer:           p.Answer,
		FAQ:              p.FAQ,
		Summary:          p.Summary,
		Unclear:          p.Unclear,
		NoResults:        p.NoResults,
		DocumentNotFound: p.DocumentNotFound,
	}
}
