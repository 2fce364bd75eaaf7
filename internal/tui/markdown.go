package tui

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// markdownRenderer converts Markdown to styled terminal output. The
// underlying glamour renderer is cached and only rebuilt when the wrap
// width actually changes, since construction is expensive.
type markdownRenderer struct {
	renderer *glamour.TermRenderer
	width    int
}

func newTermRenderer(width int) (*glamour.TermRenderer, error) {
	return glamour.NewTermRenderer(
		glamour.WithAutoStyle(), // Detect light/dark terminal
		glamour.WithWordWrap(width),
	)
}

// newMarkdownRenderer creates a renderer with terminal-appropriate styling.
// Returns nil if initialization fails; a nil renderer degrades to plain text.
func newMarkdownRenderer(width int) *markdownRenderer {
	if width <= 0 {
		width = 80 // Default terminal width
	}

	r, err := newTermRenderer(width)
	if err != nil {
		return nil
	}

	return &markdownRenderer{renderer: r, width: width}
}

// UpdateWidth rebuilds the renderer when the width changed.
// Returns true if the renderer was rebuilt.
func (m *markdownRenderer) UpdateWidth(width int) bool {
	if m == nil || width <= 0 || m.width == width {
		return false
	}

	r, err := newTermRenderer(width)
	if err != nil {
		// Keep existing renderer on error
		return false
	}

	m.renderer = r
	m.width = width
	return true
}

// Render converts Markdown to styled terminal output.
// Returns the original text if rendering fails.
func (m *markdownRenderer) Render(markdown string) string {
	if m == nil || m.renderer == nil {
		return markdown
	}

	rendered, err := m.renderer.Render(markdown)
	if err != nil {
		return markdown
	}

	// Trim trailing newlines added by glamour
	return strings.TrimSuffix(rendered, "\n")
}
