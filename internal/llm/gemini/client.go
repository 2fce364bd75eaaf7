// Package gemini implements the llm.Driver for the Google Gemini
// generateContent API.
package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/koopa0/ragchat/internal/llm"
)

const name = "gemini"

const (
	defaultAPIURL  = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-2.5-flash"
	defaultTimeout = 60 * time.Second

	streamLineLimit = 1024 * 1024
)

// Config configures the Gemini client.
type Config struct {
	APIURL string
	APIKey string
	Model  string

	// Timeout bounds non-streaming calls and, for streams, the wait for
	// response headers.
	Timeout time.Duration

	Logger *slog.Logger
}

// Client talks to the Gemini REST API.
type Client struct {
	apiURL     string
	apiKey     string
	model      string
	timeout    time.Duration
	logger     *slog.Logger
	httpClient *http.Client
}

var _ llm.Driver = (*Client)(nil)

// New creates a Gemini client. Missing credentials are tolerated here; the
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

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type generateRequest struct {
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	Contents          []content         `json:"contents"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason *string `json:"finishReason"`
	} `json:"candidates"`
	ModelVersion  string `json:"modelVersion"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// buildRequest converts the neutral request to Gemini's shape: system
// messages join into a single systemInstruction, assistant turns become
// "model" turns.
func buildRequest(req llm.ChatRequest) generateRequest {
	var systemParts []string
	contents := make([]content, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			systemParts = append(systemParts, m.Content)
		case llm.RoleAssistant:
			contents = append(contents, content{Role: "model", Parts: []part{{Text: m.Content}}})
		default:
			contents = append(contents, content{Role: "user", Parts: []part{{Text: m.Content}}})
		}
	}

	out := generateRequest{Contents: contents}
	if len(systemParts) > 0 {
		out.SystemInstruction = &content{Parts: []part{{Text: strings.Join(systemParts, "\n")}}}
	}
	if req.Temperature != nil || req.MaxTokens != nil {
		out.GenerationConfig = &generationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		}
	}
	return out
}

func (c *Client) endpoint(model, verb string) string {
	return c.apiURL + "/models/" + model + ":" + verb + "?key=" + url.QueryEscape(c.apiKey)
}

func (c *Client) post(ctx context.Context, endpoint string, body generateRequest) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling gemini request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.httpClient.Do(req)
}

func (c *Client) requestModel(req llm.ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return c.model
}

// Chat implements llm.Driver.
func (c *Client) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	model := c.requestModel(req)
	c.logger.Debug("gemini chat", "model", model, "messages", len(req.Messages))

	resp, err := c.post(ctx, c.endpoint(model, "generateContent"), buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("gemini chat request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading gemini response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, llm.NewAPIError(name, resp.StatusCode, respBody)
	}

	var parsed generateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decoding gemini response: %w", err)
	}
	if len(parsed.Candidates) == 0 {
		return nil, fmt.Errorf("gemini chat: %w", llm.ErrEmptyResponse)
	}

	cand := parsed.Candidates[0]
	text := ""
	if len(cand.Content.Parts) > 0 {
		text = cand.Content.Parts[0].Text
	}
	finishReason := ""
	if cand.FinishReason != nil {
		finishReason = *cand.FinishReason
	}
	respModel := parsed.ModelVersion
	if respModel == "" {
		respModel = model
	}
	return &llm.ChatResponse{
		Content:          text,
		Model:            respModel,
		FinishReason:     finishReason,
		PromptTokens:     parsed.UsageMetadata.PromptTokenCount,
		CompletionTokens: parsed.UsageMetadata.CandidatesTokenCount,
		TotalTokens:      parsed.UsageMetadata.TotalTokenCount,
	}, nil
}

// ChatStream implements llm.Driver. streamGenerateContent answers with a
// JSON array streamed incrementally; array punctuation lines are skipped and
// each remaining line is one response object. A candidate with a non-null
// finishReason ends the stream.
func (c *Client) ChatStream(ctx context.Context, req llm.ChatRequest, fn llm.StreamFunc) error {
	model := c.requestModel(req)
	c.logger.Debug("gemini chat stream", "model", model, "messages", len(req.Messages))

	resp, err := c.post(ctx, c.endpoint(model, "streamGenerateContent"), buildRequest(req))
	if err != nil {
		return fmt.Errorf("gemini stream request: %w", err)
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
		if line == "" || line == "[" || line == "]" || line == "," {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, ","))

		var chunk generateResponse
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			c.logger.Warn("skipping malformed gemini stream line", "error", err)
			continue
		}
		if len(chunk.Candidates) == 0 {
			continue
		}
		cand := chunk.Candidates[0]
		if len(cand.Content.Parts) > 0 && cand.Content.Parts[0].Text != "" {
			if err := fn(cand.Content.Parts[0].Text, false); err != nil {
				return err
			}
		}
		if fr := cand.FinishReason; fr != nil && *fr != "" && *fr != "null" {
			return fn("", true)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading gemini stream: %w", err)
	}
	return fn("", true)
}

// CheckAvailability implements llm.Driver by listing models.
func (c *Client) CheckAvailability(ctx context.Context) bool {
	if c.apiKey == "" || c.apiURL == "" {
		c.logger.Debug("gemini unavailable", "reason", "missing api key or url")
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/models?key="+url.QueryEscape(c.apiKey), nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("gemini availability check failed", "error", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
