package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/koopa0/ragchat/internal/chat"
	"github.com/koopa0/ragchat/internal/session"
)

const (
	defaultRateLimitRPS   = 5.0
	defaultRateLimitBurst = 10
)

// Config configures the API server.
type Config struct {
	// Chat runs the pipeline, required.
	Chat *chat.Service

	// Sessions backs the session endpoints, required.
	Sessions *session.Store

	// Backend reports the active LLM backend, required.
	Backend Backend

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// CORSOrigins lists origins allowed to call the API cross-site. Empty
	// disables CORS headers entirely.
	CORSOrigins []string

	// TrustProxy reads the client IP from X-Real-IP / X-Forwarded-For.
	// Enable only behind a reverse proxy that sets them.
	TrustProxy bool

	// RateLimitRPS is the per-IP token refill rate, defaulting to 5.
	RateLimitRPS float64

	// RateLimitBurst is the per-IP bucket size, defaulting to 10.
	RateLimitBurst int
}

func (c *Config) validate() error {
	if c.Chat == nil {
		return errors.New("chat service is required")
	}
	if c.Sessions == nil {
		return errors.New("session store is required")
	}
	if c.Backend == nil {
		return errors.New("backend is required")
	}
	return nil
}

// Server is the HTTP server for the chat API.
type Server struct {
	mux *http.ServeMux
}

// NewServer builds the full route table and middleware stack.
func NewServer(cfg Config) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid api config: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ch := &chatHandler{chat: cfg.Chat, logger: logger}
	sh := &sessionsHandler{store: cfg.Sessions, logger: logger}
	bh := &backendHandler{backend: cfg.Backend}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/chat", ch.stream)
	mux.HandleFunc("GET /api/v1/sessions", sh.list)
	mux.HandleFunc("GET /api/v1/sessions/{id}", sh.get)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", sh.delete)
	mux.HandleFunc("GET /api/v1/backend", bh.status)

	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = defaultRateLimitRPS
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = defaultRateLimitBurst
	}
	rl := newRateLimiter(rps, burst)

	// Middleware stack, outermost first. RequestID precedes Logging so the
	// id appears in request logs; CORS precedes RateLimit so preflight
	// responses carry CORS headers even when the bucket is empty.
	var handler http.Handler = mux
	handler = securityHeadersMiddleware()(handler)
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes bypass the middleware stack.
	top := http.NewServeMux()
	top.HandleFunc("GET /health", health)
	top.Handle("GET /ready", readiness(cfg.Backend))
	top.Handle("/", handler)

	return &Server{mux: top}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
