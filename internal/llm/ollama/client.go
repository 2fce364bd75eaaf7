// Package ollama implements the llm.Driver for a local Ollama server.
package ollama

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

const name = "ollama"

const (
	defaultAPIURL  = "http://localhost:11434"
	defaultModel   = "llama3.3"
	defaultTimeout = 60 * time.Second

	streamLineLimit = 1024 * 1024
)

// Config configures the Ollama client.
type Config struct {
	APIURL string
	Model  string

	// Timeout bounds non-streaming calls and, for streams, the wait for
	// response headers. Local models can be slow to load, so generous
	// values are normal here.
	Timeout time.Duration

	Logger *slog.Logger
}

// Client talks to an Ollama server's chat API. Ollama has no
// authentication.
type Client struct {
	apiURL     string
	model      string
	timeout    time.Duration
	logger     *slog.Logger
	httpClient *http.Client
}

var _ llm.Driver = (*Client)(nil)

// New creates an Ollama client.
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

type chatOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  *int     `json:"num_predict,omitempty"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  *chatOptions  `json:"options,omitempty"`
}

type chatResponse struct {
	Model           string      `json:"model"`
	Message         chatMessage `json:"message"`
	Done            bool        `json:"done"`
	DoneReason      string      `json:"done_reason"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
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
	body := chatRequest{Model: model, Messages: msgs, Stream: stream}
	if req.Temperature != nil || req.MaxTokens != nil {
		body.Options = &chatOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		}
	}
	return body
}

func (c *Client) post(ctx context.Context, body chatRequest) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling ollama request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.httpClient.Do(req)
}

// Chat implements llm.Driver.
func (c *Client) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body := c.buildBody(req, false)
	c.logger.Debug("ollama chat", "model", body.Model, "messages", len(body.Messages))

	resp, err := c.post(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("ollama chat request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading ollama response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, llm.NewAPIError(name, resp.StatusCode, respBody)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decoding ollama response: %w", err)
	}

	model := parsed.Model
	if model == "" {
		model = body.Model
	}
	return &llm.ChatResponse{
		Content:          parsed.Message.Content,
		Model:            model,
		FinishReason:     parsed.DoneReason,
		PromptTokens:     parsed.PromptEvalCount,
		CompletionTokens: parsed.EvalCount,
		TotalTokens:      parsed.PromptEvalCount + parsed.EvalCount,
	}, nil
}

// ChatStream implements llm.Driver. The response is newline-delimited JSON;
// each object carries a message fragment, and done marks the last one.
func (c *Client) ChatStream(ctx context.Context, req llm.ChatRequest, fn llm.StreamFunc) error {
	body := c.buildBody(req, true)
	c.logger.Debug("ollama chat stream", "model", body.Model, "messages", len(body.Messages))

	resp, err := c.post(ctx, body)
	if err != nil {
		return fmt.Errorf("ollama stream request: %w", err)
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

		var chunk chatResponse
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			c.logger.Warn("skipping malformed ollama stream line", "error", err)
			continue
		}
		if chunk.Message.Content != "" {
			if err := fn(chunk.Message.Content, false); err != nil {
				return err
			}
		}
		if chunk.Done {
			return fn("", true)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading ollama stream: %w", err)
	}
	return fn("", true)
}

// CheckAvailability implements llm.Driver by listing installed models. When
// a model is configured it must be installed, matching either exactly or as
// the untagged name of an installed "model:tag".
func (c *Client) CheckAvailability(ctx context.Context) bool {
	if c.apiURL == "" {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("ollama availability check failed", "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}
	if c.model == "" {
		return true
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return true
	}
	var tags tagsResponse
	if err := json.Unmarshal(respBody, &tags); err != nil {
		c.logger.Warn("unparseable ollama tags response, assuming model is installed", "error", err)
		return true
	}
	for _, m := range tags.Models {
		if m.Name == c.model || strings.HasPrefix(m.Name, c.model+":") {
			return true
		}
	}
	c.logger.Warn("configured ollama model is not installed", "model", c.model)
	return false
}
