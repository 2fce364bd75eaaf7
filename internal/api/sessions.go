package api

import (
	"net/http"
	"time"

	"github.com/koopa0/ragchat/internal/log"
	"github.com/koopa0/ragchat/internal/session"
)

type sessionsHandler struct {
	store  *session.Store
	logger log.Logger
}

type sessionSummary struct {
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	MessageCount int       `json:"message_count"`
}

type sessionTranscript struct {
	SessionID    string            `json:"session_id"`
	UserID       string            `json:"user_id,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActivity time.Time         `json:"last_activity"`
	Messages     []session.Message `json:"messages"`
}

// list returns all live sessions, most recently active first.
func (h *sessionsHandler) list(w http.ResponseWriter, _ *http.Request) {
	sessions := h.store.List()
	out := make([]sessionSummary, len(sessions))
	for i, s := range sessions {
		out[i] = sessionSummary{
			SessionID:    s.ID(),
			UserID:       s.UserID(),
			CreatedAt:    s.CreatedAt(),
			LastActivity: s.LastActivity(),
			MessageCount: s.Len(),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// get returns the full transcript for one session.
func (h *sessionsHandler) get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s, ok := h.store.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, codeNotFound, "session not found")
		return
	}

	writeJSON(w, http.StatusOK, sessionTranscript{
		SessionID:    s.ID(),
		UserID:       s.UserID(),
		CreatedAt:    s.CreatedAt(),
		LastActivity: s.LastActivity(),
		Messages:     s.Messages(),
	})
}

// delete evicts a session.
func (h *sessionsHandler) delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.store.Delete(id) {
		writeError(w, http.StatusNotFound, codeNotFound, "session not found")
		return
	}

	h.logger.Debug("session deleted via api", "session_id", id)
	w.WriteHeader(http.StatusNoContent)
}
