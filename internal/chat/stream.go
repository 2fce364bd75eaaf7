package chat

import (
	"strings"

	"github.com/koopa0/ragchat/internal/llm"
)

// accumulator tees a chunk stream into a buffer so the full response text is
// available for rendering and session persistence after streaming ends.
type accumulator struct {
	b    strings.Builder
	done bool
}

// sink returns a StreamFunc that records each chunk before forwarding it to
// next.
func (a *accumulator) sink(next llm.StreamFunc) llm.StreamFunc {
	return func(chunk string, done bool) error {
		if chunk != "" {
			a.b.WriteString(chunk)
		}
		if done {
			a.done = true
		}
		return next(chunk, done)
	}
}

// finish delivers the terminal chunk when the stream ended without one, so
// downstream consumers always observe exactly one done=true.
func (a *accumulator) finish(next llm.StreamFunc) error {
	if a.done {
		return nil
	}
	a.done = true
	return next("", true)
}

// String returns the accumulated response text.
func (a *accumulator) String() string {
	return a.b.String()
}
