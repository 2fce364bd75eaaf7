// Package session keeps chat conversations in memory.
//
// A Store maps opaque session ids to Session values. Sessions are created on
// first use, mutated by the chat pipeline at the end of each successful turn,
// and evicted after a configurable idle window.
//
// Thread safety: Store operations are safe for concurrent use; mutation of a
// single Session is serialized by a per-session lock.
package session

import (
	"sync"
	"time"

	"github.com/koopa0/ragchat/internal/search"
)

// Role constants for chat messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Source is one cited document, numbered from 1 in the order it was
// presented to the model.
type Source struct {
	Index    int             `json:"index"`
	Document search.Document `json:"document"`
}

// Message is a single conversation entry.
// HTMLContent and Sources are set only on assistant messages.
type Message struct {
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	HTMLContent string    `json:"html_content,omitempty"`
	Sources     []Source  `json:"sources,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Session is one conversation. Messages appear in append order, alternating
// user/assistant, and the history never exceeds the trim limit applied by
// AppendTurn.
//
// The zero value is not useful; sessions come from Store.GetOrCreate.
type Session struct {
	mu           sync.RWMutex
	id           string
	userID       string
	createdAt    time.Time
	lastActivity time.Time
	messages     []Message
}

// ID returns the opaque session id.
func (s *Session) ID() string { return s.id }

// UserID returns the optional user id supplied at creation.
func (s *Session) UserID() string { return s.userID }

// CreatedAt returns the creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// LastActivity returns the time of the last turn or lookup.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// Messages returns a copy of the conversation history.
func (s *Session) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of messages.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// AppendTurn appends one completed user/assistant exchange and trims the
// history to maxMessages in a single critical section, so concurrent readers
// never observe a half-appended turn. maxMessages <= 0 disables trimming.
func (s *Session) AppendTurn(user, assistant Message, maxMessages int) {
	now := time.Now()
	if user.Role == "" {
		user.Role = RoleUser
	}
	if assistant.Role == "" {
		assistant.Role = RoleAssistant
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if assistant.CreatedAt.IsZero() {
		assistant.CreatedAt = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, user, assistant)
	s.trimLocked(maxMessages)
	s.lastActivity = now
}

// TrimHistory removes the oldest messages until the history length is at
// most maxMessages. Entries are dropped as user/assistant pairs to preserve
// alternation. maxMessages <= 0 is a no-op.
func (s *Session) TrimHistory(maxMessages int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trimLocked(maxMessages)
}

func (s *Session) trimLocked(maxMessages int) {
	if maxMessages <= 0 || len(s.messages) <= maxMessages {
		return
	}
	excess := len(s.messages) - maxMessages
	if excess%2 != 0 {
		excess++
	}
	if excess > len(s.messages) {
		excess = len(s.messages)
	}
	// Copy instead of reslicing so trimmed entries are released.
	s.messages = append([]Message(nil), s.messages[excess:]...)
}

// touch updates the last-activity time.
func (s *Session) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

// idleSince reports whether the session has been inactive since the cutoff.
func (s *Session) idleSince(cutoff time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity.Before(cutoff)
}
