// Package openai implements the llm.Driver for OpenAI-compatible chat
// completion APIs.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/koopa0/ragchat/internal/llm"
)

const name = "openai"

const (
	defaultAPIURL  = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 60 * time.Second

	// streamLineLimit bounds a single SSE line. Chunks are tiny; anything
	// near this size is a misbehaving server.
	streamLineLimit = 1024 * 1024
)

// Config configures the OpenAI client.
type Config struct {
	// APIURL is the API base, including the version path.
	APIURL string

	// APIKey authenticates requests. A blank key makes the client report
	// unavailable instead of failing construction.
	APIKey string

	// Model is the default model for requests that do not name one.
	Model string

	// Timeout bounds non-streaming calls and, for streams, the wait for
	// response headers. Streams themselves may run longer.
	Timeout time.Duration

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Client talks to an OpenAI-compatible chat completion API.
type Client struct {
	apiURL     string
	apiKey     string
	model      string
	timeout    time.Duration
	logger     *slog.Logger
	httpClient *http.Client
}

var _ llm.Driver = (*Client)(nil)

// New creates an OpenAI client. Missing credentials are tolerated here; the
// availability probe reports them.
func New(cfg Config) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.Timeout

	return &Client{
		apiURL:     strings.TrimRight(cfg.APIURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		logger:     cfg.Logger,
		httpClient: &http.Client{Transport: transport},
	}
}

// Name implements llm.Driver.
func (c *Client) Name() string { return name }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature *float64      `json:"temperature,omitempty"`

	// Reasoning models reject max_tokens and require
	// max_completion_tokens; exactly one of these is set.
	MaxTokens           *int `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int `json:"max_completion_tokens,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason *string     `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// usesCompletionTokens reports whether the model takes the
// max_completion_tokens parameter instead of max_tokens.
func usesCompletionTokens(model string) bool {
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

func (c *Client) buildBody(req llm.ChatRequest, stream bool) chatRequest {
	model := req.Model
	if model == "" {
		model = c.model
	}
	msgs := make([]chatMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = chatMessage{Role: m.Role, Content: m.Content}
	}
	body := chatRequest{
		Model:       model,
		Messages:    msgs,
		Stream:      stream,
		Temperature: req.Temperature,
	}
	if req.MaxTokens != nil {
		if usesCompletionTokens(model) {
			body.MaxCompletionTokens = req.MaxTokens
		} else {
			body.MaxTokens = req.MaxTokens
		}
	}
	return body
}

func (c *Client) post(ctx context.Context, body chatRequest) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling openai request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating openai request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	return c.httpClient.Do(req)
}

// Chat implements llm.Driver.
func (c *Client) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body := c.buildBody(req, false)
	c.logger.Debug("openai chat", "model", body.Model, "messages", len(body.Messages))

	resp, err := c.post(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("openai chat request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading openai response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, llm.NewAPIError(name, resp.StatusCode, respBody)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decoding openai response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("openai chat: %w", llm.ErrEmptyResponse)
	}

	choice := parsed.Choices[0]
	model := parsed.Model
	if model == "" {
		model = body.Model
	}
	finishReason := ""
	if choice.FinishReason != nil {
		finishReason = *choice.FinishReason
	}
	return &llm.ChatResponse{
		Content:          choice.Message.Content,
		Model:            model,
		FinishReason:     finishReason,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
		TotalTokens:      parsed.Usage.TotalTokens,
	}, nil
}

// ChatStream implements llm.Driver. The response is server-sent events; each
// data line carries a delta chunk, and either a non-null finish_reason or
// the [DONE] marker ends the stream.
func (c *Client) ChatStream(ctx context.Context, req llm.ChatRequest, fn llm.StreamFunc) error {
	body := c.buildBody(req, true)
	c.logger.Debug("openai chat stream", "model", body.Model, "messages", len(body.Messages))

	resp, err := c.post(ctx, body)
	if err != nil {
		return fmt.Errorf("openai stream request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return llm.NewAPIError(name, resp.StatusCode, errBody)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), streamLineLimit)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if payload == "[DONE]" {
			return fn("", true)
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			c.logger.Warn("skipping malformed openai stream line", "error", err)
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			if err := fn(choice.Delta.Content, false); err != nil {
				return err
			}
		}
		if fr := choice.FinishReason; fr != nil && *fr != "" && *fr != "null" {
			return fn("", true)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading openai stream: %w", err)
	}
	return fn("", true)
}

// CheckAvailability implements llm.Driver by listing models.
func (c *Client) CheckAvailability(ctx context.Context) bool {
	if c.apiKey == "" || c.apiURL == "" {
		c.logger.Debug("openai unavailable", "reason", "missing api key or url")
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/models", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("openai availability check failed", "error", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
