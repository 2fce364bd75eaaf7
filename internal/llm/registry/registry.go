// Package registry selects the active LLM backend by configured name and
// gates access on cached availability.
//
// The registry itself implements llm.Driver: callers hold one Driver for the
// life of the process while the registry owns backend selection, the cached
// availability bit and the periodic re-probe loop. Chat calls made while the
// backend is unavailable fail fast with llm.ErrUnavailable instead of hitting
// the wire.
package registry

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/koopa0/ragchat/internal/llm"
	"github.com/koopa0/ragchat/internal/llm/gemini"
	"github.com/koopa0/ragchat/internal/llm/ollama"
	"github.com/koopa0/ragchat/internal/llm/openai"
)

// Backend type names accepted in Config.LLMType.
const (
	TypeNone   = "none"
	TypeOllama = "ollama"
	TypeOpenAI = "openai"
	TypeGemini = "gemini"
)

// Config configures the registry.
type Config struct {
	// Enabled is the global feature flag. When false the registry reports
	// unavailable regardless of backend state.
	Enabled bool

	// LLMType selects the active backend: "none", "ollama", "openai" or
	// "gemini". "none" and unknown names leave the registry without an
	// active driver.
	LLMType string

	// Interval between availability re-probes; zero or negative disables
	// the Run loop.
	Interval time.Duration

	// Per-backend connection settings. Every known backend is constructed
	// so a config reload away from "none" only needs a process restart,
	// not new wiring.
	OpenAI openai.Config
	Gemini gemini.Config
	Ollama ollama.Config

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Registry holds one driver per known backend and exposes the configured one.
type Registry struct {
	enabled  bool
	llmType  string
	interval time.Duration
	drivers  map[string]llm.Driver
	logger   *slog.Logger

	// available caches the last probe result for the active driver.
	// nil means no probe has run yet; Available then probes synchronously.
	available atomic.Pointer[bool]
}

var _ llm.Driver = (*Registry)(nil)

// New creates a registry with all known backend drivers constructed.
func New(cfg Config) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := &Registry{
		enabled:  cfg.Enabled,
		llmType:  cfg.LLMType,
		interval: cfg.Interval,
		drivers: map[string]llm.Driver{
			TypeOpenAI: openai.New(cfg.OpenAI),
			TypeGemini: gemini.New(cfg.Gemini),
			TypeOllama: ollama.New(cfg.Ollama),
		},
		logger: cfg.Logger,
	}

	r.logger.Info("llm registry initialized",
		"backend", cfg.LLMType,
		"enabled", cfg.Enabled,
		"check_interval", cfg.Interval)

	return r
}

// Active returns the configured backend driver. The second return value is
// false when the configured type is "none" or unknown.
func (r *Registry) Active() (llm.Driver, bool) {
	d, ok := r.drivers[r.llmType]
	return d, ok
}

// Available reports whether chat requests can currently be served: the
// feature flag is on, a backend is configured, and the last probe succeeded.
// Before the first probe it checks the backend synchronously.
func (r *Registry) Available(ctx context.Context) bool {
	if !r.enabled {
		return false
	}
	d, ok := r.Active()
	if !ok {
		return false
	}
	if v := r.available.Load(); v != nil {
		return *v
	}
	return r.probe(ctx, d)
}

// Run re-probes the active backend on the configured interval until ctx is
// canceled. It probes once up front so the first Available query after
// startup is already cached. Callers must track the goroutine with a
// WaitGroup. Returns immediately when probing is pointless or disabled.
func (r *Registry) Run(ctx context.Context) {
	if !r.enabled {
		return
	}
	d, ok := r.Active()
	if !ok {
		return
	}

	r.probe(ctx, d)

	if r.interval <= 0 {
		r.logger.Debug("availability re-probing disabled", "backend", d.Name())
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.probe(ctx, d)
		}
	}
}

// probe runs one availability check, updates the cache and logs transitions.
// Probe failures only flip the cached bit; they never raise.
func (r *Registry) probe(ctx context.Context, d llm.Driver) bool {
	ok := d.CheckAvailability(ctx)
	prev := r.available.Swap(&ok)
	if prev == nil || *prev != ok {
		r.logger.Info("llm backend availability changed",
			"backend", d.Name(),
			"available", ok)
	}
	return ok
}

// driver returns the active driver after the availability gate.
func (r *Registry) driver(ctx context.Context) (llm.Driver, error) {
	if !r.Available(ctx) {
		return nil, llm.ErrUnavailable
	}
	d, _ := r.Active()
	return d, nil
}

// Name implements llm.Driver. It reports the configured backend name, or
// "none" when no backend is configured.
func (r *Registry) Name() string {
	if d, ok := r.Active(); ok {
		return d.Name()
	}
	return TypeNone
}

// Chat implements llm.Driver by delegating to the active backend.
// Returns llm.ErrUnavailable when no backend is configured or the last
// probe failed.
func (r *Registry) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	d, err := r.driver(ctx)
	if err != nil {
		return nil, err
	}
	return d.Chat(ctx, req)
}

// ChatStream implements llm.Driver by delegating to the active backend.
func (r *Registry) ChatStream(ctx context.Context, req llm.ChatRequest, fn llm.StreamFunc) error {
	d, err := r.driver(ctx)
	if err != nil {
		return err
	}
	return d.ChatStream(ctx, req, fn)
}

// CheckAvailability implements llm.Driver. Unlike Available it always
// re-probes the backend, refreshing the cache.
func (r *Registry) CheckAvailability(ctx context.Context) bool {
	if !r.enabled {
		return false
	}
	d, ok := r.Active()
	if !ok {
		return false
	}
	return r.probe(ctx, d)
}
