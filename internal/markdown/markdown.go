// Package markdown renders model-emitted Markdown into sanitized HTML.
//
// Rendering and sanitization are separate passes: goldmark converts the
// Markdown, then a bluemonday UGC policy strips anything unsafe from the
// resulting HTML, whatever its origin.
package markdown

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Renderer converts Markdown to sanitized HTML.
// Safe for concurrent use.
type Renderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

// New creates a GitHub-flavored Markdown renderer with a UGC sanitizer.
func New() *Renderer {
	return &Renderer{
		md:     goldmark.New(goldmark.WithExtensions(extension.GFM)),
		policy: bluemonday.UGCPolicy(),
	}
}

// Render converts Markdown to sanitized HTML.
func (r *Renderer) Render(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("converting markdown: %w", err)
	}
	return string(r.policy.SanitizeBytes(buf.Bytes())), nil
}

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

// EscapeHTML escapes the HTML-significant characters of text. Callers use it
// as the degraded path when Render fails: the raw Markdown stays readable
// without becoming markup.
func EscapeHTML(text string) string {
	return htmlEscaper.Replace(text)
}
