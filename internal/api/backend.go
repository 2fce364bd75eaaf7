package api

import (
	"context"
	"net/http"

	"github.com/koopa0/ragchat/internal/llm/registry"
)

// Backend reports the configured LLM backend and its probed availability.
// *registry.Registry satisfies it.
type Backend interface {
	Name() string
	Available(ctx context.Context) bool
}

var _ Backend = (*registry.Registry)(nil)

type backendStatus struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

type backendHandler struct {
	backend Backend
}

// status reports the active backend so clients can surface availability
// before sending a message.
func (h *backendHandler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, backendStatus{
		Name:      h.backend.Name(),
		Available: h.backend.Available(r.Context()),
	})
}
