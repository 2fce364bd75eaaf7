// Package api provides the JSON/SSE HTTP server for ragchat.
//
// # Architecture
//
// Routing uses Go 1.22+ method patterns behind a layered middleware stack:
//
//	Recovery → RequestID → Logging → CORS → RateLimit → SecurityHeaders → Routes
//
// Health probes (/health, /ready) bypass the middleware stack via a
// top-level mux, keeping them fast and exempt from rate limiting.
//
// # Endpoints
//
// Health probes (no middleware):
//   - GET /health — liveness, returns {"status":"ok"}
//   - GET /ready  — readiness, 503 while the LLM backend is unavailable
//
// Chat:
//   - POST /api/v1/chat — runs one pipeline turn, streaming SSE events
//
// Sessions:
//   - GET    /api/v1/sessions      — list sessions, most recent first
//   - GET    /api/v1/sessions/{id} — session transcript
//   - DELETE /api/v1/sessions/{id} — evict a session
//
// Backend:
//   - GET /api/v1/backend — active backend {"name","available"}
//
// # SSE Streaming
//
// POST /api/v1/chat accepts {"message","session_id","language"} and
// responds with text/event-stream. Events mirror the pipeline callbacks:
//
//   - phase_start:    {"phase","label","detail"} — a pipeline phase began
//   - phase_complete: {"phase"} — the phase finished
//   - chunk:          {"text"} — incremental answer text
//   - done:           {"session_id","content","html","sources"} — final result
//   - error:          {"code","message"} — the turn failed; terminal
//
// Exactly one of done or error terminates the stream. phase_start and
// phase_complete are paired per phase; a failing phase emits error instead
// of phase_complete.
//
// # Error Handling
//
// Pre-stream failures (malformed body, blank message) are plain JSON
// responses; once SSE headers are committed, failures become error events.
// Both use the envelope {"error":{"code","message"}} with codes
// invalid_request, unavailable, upstream_error, timeout, canceled,
// rate_limited, not_found and internal.
//
// # Security
//
// The middleware stack enforces:
//   - Per-IP token-bucket rate limiting with inline stale-entry cleanup
//   - CORS with an explicit origin allowlist
//   - Security headers (CSP, X-Frame-Options, nosniff, Referrer-Policy)
//   - 1 MB request body cap on POST
//
// TLS and HSTS are left to the reverse proxy in front of the server.
package api
