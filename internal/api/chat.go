package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/koopa0/ragchat/internal/chat"
	"github.com/koopa0/ragchat/internal/llm"
	"github.com/koopa0/ragchat/internal/log"
)

// maxRequestBody caps chat request bodies at 1 MB.
const maxRequestBody = 1 << 20

// SSE event types emitted by the chat stream.
const (
	eventPhaseStart    = "phase_start"
	eventPhaseComplete = "phase_complete"
	eventChunk         = "chunk"
	eventDone          = "done"
	eventError         = "error"
)

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	Language  string `json:"language"`
}

type phaseStartPayload struct {
	Phase  string `json:"phase"`
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
}

type phaseCompletePayload struct {
	Phase string `json:"phase"`
}

type chunkPayload struct {
	Text string `json:"text"`
}

type chatHandler struct {
	chat   *chat.Service
	logger log.Logger
}

// stream runs one pipeline turn over SSE. Request validation failures are
// plain JSON errors; once the event stream is committed, failures become
// terminal error events.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, codeInternal, "streaming not supported")
		return
	}

	var req chatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "message is required")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ctx := r.Context()
	h.logger.Debug("chat stream started",
		"request_id", requestIDFromContext(ctx),
		"session_id", req.SessionID,
	)

	cb := &chat.Callbacks{
		PhaseStart: func(phase chat.Phase, label, detail string) {
			_ = writeEvent(w, flusher, eventPhaseStart, phaseStartPayload{
				Phase:  string(phase),
				Label:  label,
				Detail: detail,
			})
		},
		PhaseComplete: func(phase chat.Phase) {
			_ = writeEvent(w, flusher, eventPhaseComplete, phaseCompletePayload{Phase: string(phase)})
		},
		Chunk: func(text string, done bool) error {
			if done || text == "" {
				return nil
			}
			return writeEvent(w, flusher, eventChunk, chunkPayload{Text: text})
		},
	}

	res, err := h.chat.Chat(ctx, chat.Request{
		SessionID: req.SessionID,
		Message:   req.Message,
		Language:  req.Language,
	}, cb)
	if err != nil {
		if ctx.Err() != nil {
			h.logger.Info("chat stream client disconnected", "session_id", req.SessionID)
			return
		}
		h.logger.Warn("chat stream failed", "session_id", req.SessionID, "error", err)
		_ = writeEvent(w, flusher, eventError, errorPayload{
			Code:    errorCode(err),
			Message: err.Error(),
		})
		return
	}

	_ = writeEvent(w, flusher, eventDone, res)
	h.logger.Debug("chat stream complete",
		"session_id", res.SessionID,
		"content_length", len(res.Content),
		"sources", len(res.Sources),
	)
}

// errorCode maps a pipeline error onto the wire error taxonomy.
func errorCode(err error) string {
	var apiErr *llm.APIError
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		return codeInvalidRequest
	case errors.Is(err, llm.ErrUnavailable):
		return codeUnavailable
	case errors.As(err, &apiErr):
		return codeUpstreamError
	case errors.Is(err, context.DeadlineExceeded):
		return codeTimeout
	case errors.Is(err, context.Canceled):
		return codeCanceled
	default:
		return codeInternal
	}
}

// writeEvent writes one SSE event ("event: <type>\ndata: <json>\n\n") and
// flushes it to the client.
func writeEvent[T any](w io.Writer, flusher http.Flusher, event string, data T) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	flusher.Flush()
	return nil
}
