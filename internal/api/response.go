package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

// Error codes shared by JSON error responses and SSE error events.
const (
	codeInvalidRequest = "invalid_request"
	codeUnavailable    = "unavailable"
	codeUpstreamError  = "upstream_error"
	codeTimeout        = "timeout"
	codeCanceled       = "canceled"
	codeRateLimited    = "rate_limited"
	codeNotFound       = "not_found"
	codeInternal       = "internal"
)

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

// writeJSON writes a JSON response, encoding into a buffer first so headers
// are committed only after a successful encode.
func writeJSON(w http.ResponseWriter, status int, data any) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		slog.Error("encoding JSON response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		// Client disconnects are routine.
		slog.Debug("writing response body", "error", err)
	}
}

// writeError writes the {"error":{"code","message"}} envelope.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorPayload{Code: code, Message: message}})
}
