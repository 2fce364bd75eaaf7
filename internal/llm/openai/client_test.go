package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/ragchat/internal/llm"
)

func ptr[T any](v T) *T { return &v }

func newTestClient(apiURL string) *Client {
	return New(Config{
		APIURL:  apiURL,
		APIKey:  "test-key",
		Model:   "gpt-4o-mini",
		Timeout: 5 * time.Second,
		Logger:  slog.New(slog.DiscardHandler),
	})
}

func TestChat(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o-mini", body["model"])
		assert.Equal(t, false, body["stream"])
		assert.Equal(t, 0.2, body["temperature"])
		assert.Equal(t, float64(100), body["max_tokens"])
		_, hasCompletionTokens := body["max_completion_tokens"]
		assert.False(t, hasCompletionTokens)

		msgs, ok := body["messages"].([]any)
		require.True(t, ok)
		require.Len(t, msgs, 2)

		fmt.Fprint(w, `{
			"model": "gpt-4o-mini-2024",
			"choices": [{"message": {"role": "assistant", "content": "Hello!"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	resp, err := c.Chat(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "be brief"},
			{Role: llm.RoleUser, Content: "hi"},
		},
		Temperature: ptr(0.2),
		MaxTokens:   ptr(100),
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello!", resp.Content)
	assert.Equal(t, "gpt-4o-mini-2024", resp.Model)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 12, resp.PromptTokens)
	assert.Equal(t, 3, resp.CompletionTokens)
	assert.Equal(t, 15, resp.TotalTokens)
}

func TestChat_ReasoningModelUsesMaxCompletionTokens(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(256), body["max_completion_tokens"])
		_, hasMaxTokens := body["max_tokens"]
		assert.False(t, hasMaxTokens, "reasoning models must not send max_tokens")

		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Chat(context.Background(), llm.ChatRequest{
		Model:     "o1-mini",
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		MaxTokens: ptr(256),
	})
	require.NoError(t, err)
}

func TestUsesCompletionTokens(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model string
		want  bool
	}{
		{"gpt-4o-mini", false},
		{"gpt-4.1", false},
		{"o1-preview", true},
		{"o3", true},
		{"o4-mini", true},
		{"gpt-5-turbo", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, usesCompletionTokens(tt.model), "model %s", tt.model)
	}
}

func TestChat_ModelFallsBackToResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	resp, err := c.Chat(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	// The response omitted the model, so the requested one is reported.
	assert.Equal(t, "gpt-4o-mini", resp.Model)
}

func TestChat_APIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited"}}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Chat(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)

	var apiErr *llm.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "openai", apiErr.Backend)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestChat_EmptyChoices(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Chat(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	assert.ErrorIs(t, err, llm.ErrEmptyResponse)
}

func TestChatStream(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["stream"])

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, ": keep-alive comment\n\n")
		fmt.Fprint(w, "data: {malformed json\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)

	var chunks []string
	var doneCount int
	err := c.ChatStream(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	}, func(chunk string, done bool) error {
		if done {
			doneCount++
			return nil
		}
		chunks = append(chunks, chunk)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello", strings.Join(chunks, ""))
	assert.Equal(t, 1, doneCount, "stream must complete exactly once")
}

func TestChatStream_DoneMarkerWithoutFinishReason(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)

	var doneCount int
	err := c.ChatStream(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	}, func(chunk string, done bool) error {
		if done {
			doneCount++
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, doneCount)
}

func TestChatStream_APIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "backend exploded")
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	err := c.ChatStream(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	}, func(string, bool) error { return nil })

	var apiErr *llm.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
}

func TestChatStream_CallbackErrorAborts(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n\n")
	}))
	defer srv.Close()

	errStop := errors.New("stop now")
	c := newTestClient(srv.URL)
	err := c.ChatStream(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	}, func(string, bool) error { return errStop })

	assert.ErrorIs(t, err, errStop)
}

func TestCheckAvailability(t *testing.T) {
	t.Parallel()

	t.Run("reachable", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/models", r.URL.Path)
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
			fmt.Fprint(w, `{"data":[]}`)
		}))
		defer srv.Close()

		assert.True(t, newTestClient(srv.URL).CheckAvailability(context.Background()))
	})

	t.Run("server error", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		assert.False(t, newTestClient(srv.URL).CheckAvailability(context.Background()))
	})

	t.Run("missing api key skips the probe", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
		}))
		defer srv.Close()

		c := New(Config{APIURL: srv.URL, Logger: slog.New(slog.DiscardHandler)})
		assert.False(t, c.CheckAvailability(context.Background()))
		assert.Zero(t, calls.Load())
	})

	t.Run("unreachable server", func(t *testing.T) {
		t.Parallel()
		c := New(Config{
			APIURL:  "http://127.0.0.1:1",
			APIKey:  "k",
			Timeout: 500 * time.Millisecond,
			Logger:  slog.New(slog.DiscardHandler),
		})
		assert.False(t, c.CheckAvailability(context.Background()))
	})
}
