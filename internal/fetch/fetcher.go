// Package fetch retrieves web page content for index documents whose
// stored record carries no body text. Downloads go through the SSRF
// guard in internal/security; extraction prefers readability and falls
// back to a selector sweep for pages readability gives up on.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/koopa0/ragchat/internal/security"
)

// ErrDisabled reports that the web content fallback is turned off.
var ErrDisabled = errors.New("web content fetching is disabled")

const defaultTimeout = 15 * time.Second

// fallbackSelectors are tried in order when readability extraction
// comes back empty.
var fallbackSelectors = []string{"article", "main", "#content", ".content", "body"}

// Config carries the fetcher settings.
type Config struct {
	Enabled      bool
	Timeout      time.Duration
	AllowPrivate bool
	Logger       *slog.Logger
}

// Fetcher downloads document URLs over a guarded HTTP client and
// extracts their readable text.
type Fetcher struct {
	enabled bool
	guard   *security.Guard
	client  *http.Client
	logger  *slog.Logger
}

// New builds a Fetcher from cfg. The timeout defaults to 15s.
func New(cfg Config) *Fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	guard := security.New(security.Config{
		AllowPrivate: cfg.AllowPrivate,
		Logger:       logger,
	})
	return &Fetcher{
		enabled: cfg.Enabled,
		guard:   guard,
		client:  guard.Client(timeout),
		logger:  logger,
	}
}

// Enabled reports whether the content fallback is turned on.
func (f *Fetcher) Enabled() bool {
	return f.enabled
}

// Fetch downloads rawURL and returns the readable text of the page.
// HTML pages go through extraction; plain text is returned as-is.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	if !f.enabled {
		return "", ErrDisabled
	}
	if err := f.guard.ValidateURL(rawURL); err != nil {
		return "", fmt.Errorf("validating document URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating fetch request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")
	req.Header.Set("User-Agent", "ragchat/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetching %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, security.MaxBodySize))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", rawURL, err)
	}
	if int64(len(body)) == int64(security.MaxBodySize) {
		// One extra byte distinguishes an exactly-full body from an
		// oversized one.
		extra := make([]byte, 1)
		if n, _ := resp.Body.Read(extra); n > 0 {
			return "", fmt.Errorf("fetching %s: body exceeds %d bytes", rawURL, security.MaxBodySize)
		}
	}

	mediaType := resp.Header.Get("Content-Type")
	if mt, _, parseErr := mime.ParseMediaType(mediaType); parseErr == nil {
		mediaType = mt
	}
	switch mediaType {
	case "text/plain":
		return strings.TrimSpace(string(body)), nil
	case "text/html", "application/xhtml+xml", "":
	default:
		return "", fmt.Errorf("fetching %s: unsupported content type %q", rawURL, mediaType)
	}

	text := f.extract(body, rawURL)
	if text == "" {
		return "", fmt.Errorf("no readable content in %s", rawURL)
	}
	f.logger.Debug("fetched document content",
		"url", rawURL,
		"body_bytes", len(body),
		"text_chars", len(text))
	return text, nil
}

// extract pulls the main text out of an HTML page.
func (f *Fetcher) extract(body []byte, rawURL string) string {
	pageURL, _ := url.Parse(rawURL)
	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err == nil {
		if text := collapseSpace(article.TextContent); text != "" {
			return text
		}
	} else {
		f.logger.Debug("readability extraction failed", "url", rawURL, "error", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	doc.Find("script, style, noscript, nav, header, footer, aside").Remove()
	for _, selector := range fallbackSelectors {
		sel := doc.Find(selector)
		if sel.Length() == 0 {
			continue
		}
		if text := collapseSpace(sel.First().Text()); text != "" {
			return text
		}
	}
	return ""
}

// collapseSpace trims each line and squeezes runs of blank lines so the
// extracted text reads as prose rather than page layout.
func collapseSpace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := true
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}
