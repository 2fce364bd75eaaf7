package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/koopa0/ragchat/internal/llm"
	"github.com/koopa0/ragchat/internal/session"
)

// TitleMaxLength bounds generated session titles in runes.
const TitleMaxLength = 50

const (
	titleTimeout       = 5 * time.Second
	titleInputMaxRunes = 500
	titleTemperature   = 0.3
	titleMaxTokens     = 100
)

const titlePromptFormat = `Generate a concise title (max %d characters) for a chat session based on this first message.
The title should capture the main topic or intent.
Return ONLY the title text, no quotes, no explanations, no punctuation at the end.

Message: %s

Title:`

// GenerateTitle derives a short title from the session's first user message.
// Best-effort: a backend failure falls back to truncating the message
// itself, and an unknown or empty session yields "".
func (s *Service) GenerateTitle(ctx context.Context, sessionID string) string {
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return ""
	}

	var first string
	for _, m := range sess.Messages() {
		if m.Role == session.RoleUser {
			first = m.Content
			break
		}
	}
	if strings.TrimSpace(first) == "" {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, titleTimeout)
	defer cancel()

	temp := titleTemperature
	maxTokens := titleMaxTokens
	prompt := fmt.Sprintf(titlePromptFormat, TitleMaxLength, truncateRunes(first, titleInputMaxRunes))

	resp, err := s.llm.Chat(ctx, llm.ChatRequest{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		s.logger.Debug("title generation failed", "session_id", sessionID, "error", err)
		return truncateRunes(first, TitleMaxLength)
	}

	title := strings.TrimSpace(resp.Content)
	if title == "" {
		return truncateRunes(first, TitleMaxLength)
	}
	return truncateRunes(title, TitleMaxLength)
}

// truncateRunes cuts s to at most max runes, marking a cut with an ellipsis.
func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
