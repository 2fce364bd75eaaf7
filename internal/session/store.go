package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config configures the Store.
type Config struct {
	// IdleTimeout evicts sessions untouched for this long; zero or negative
	// disables eviction.
	IdleTimeout time.Duration

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Store holds sessions keyed by id.
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	idleTimeout time.Duration
	logger      *slog.Logger
}

// New creates an empty session store.
func New(cfg Config) *Store {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Store{
		sessions:    make(map[string]*Session),
		idleTimeout: cfg.IdleTimeout,
		logger:      cfg.Logger,
	}
}

// GetOrCreate returns the session for id when it is known, otherwise a new
// session under a freshly generated opaque id. Unknown ids are not adopted;
// the caller learns the real id from the returned session.
func (st *Store) GetOrCreate(id, userID string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	if id != "" {
		if s, ok := st.sessions[id]; ok {
			s.touch()
			return s
		}
	}

	now := time.Now()
	s := &Session{
		id:           uuid.NewString(),
		userID:       userID,
		createdAt:    now,
		lastActivity: now,
	}
	st.sessions[s.id] = s

	st.logger.Debug("created session", "session_id", s.id, "user_id", userID)
	return s
}

// Get returns the session for id without refreshing its activity time.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

// Delete removes the session for id, reporting whether it existed.
func (st *Store) Delete(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[id]; !ok {
		return false
	}
	delete(st.sessions, id)
	st.logger.Debug("deleted session", "session_id", id)
	return true
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// List returns all sessions ordered by last activity, most recent first.
func (st *Store) List() []*Session {
	st.mu.RLock()
	out := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, s)
	}
	st.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity().After(out[j].LastActivity())
	})
	return out
}

// Run evicts idle sessions periodically until ctx is canceled. The sweep
// interval is half the idle timeout. Callers must track the goroutine with a
// WaitGroup. Returns immediately when eviction is disabled.
func (st *Store) Run(ctx context.Context) {
	if st.idleTimeout <= 0 {
		return
	}

	interval := st.idleTimeout / 2
	if interval < time.Millisecond {
		interval = time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st.sweep(time.Now())
		}
	}
}

// sweep removes sessions whose last activity predates now minus the idle
// timeout, returning the number evicted.
func (st *Store) sweep(now time.Time) int {
	cutoff := now.Add(-st.idleTimeout)

	st.mu.Lock()
	var evicted []string
	for id, s := range st.sessions {
		if s.idleSince(cutoff) {
			evicted = append(evicted, id)
			delete(st.sessions, id)
		}
	}
	st.mu.Unlock()

	if len(evicted) > 0 {
		st.logger.Info("evicted idle sessions", "count", len(evicted))
	}
	return len(evicted)
}
