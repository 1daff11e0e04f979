package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Turn is one completed user/assistant exchange. Turns are immutable once
// appended.
type Turn struct {
	ID         string                 `json:"turn_id"`
	UserInput  string                 `json:"user_input"`
	Response   string                 `json:"response"`
	Intent     string                 `json:"intent"`
	Confidence float64                `json:"confidence"`
	ToolsUsed  []string               `json:"tools_used"`
	Success    bool                   `json:"success"`
	Timestamp  time.Time              `json:"timestamp"`
	Duration   time.Duration          `json:"duration"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
}

type cacheEntry struct {
	storedAt time.Time
	value    interface{}
}

// Session holds one conversation: its full history, a bounded recency window
// and a per-session tool result cache. All fields are guarded by the owning
// store's mutex.
type Session struct {
	ID           string
	UserID       string
	CreatedAt    time.Time
	LastActivity time.Time
	History      []Turn
	Meta         map[string]interface{}

	window []Turn
	cache  map[string]cacheEntry
}

// Store is an in-memory, non-durable session registry. A background
// reclaimer drops sessions idle longer than the configured timeout.
type Store struct {
	mu         sync.RWMutex
	sessions   map[string]*Session
	windowSize int
	timeout    time.Duration
	period     time.Duration
	logger     *slog.Logger

	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a session store. windowSize bounds the recency window,
// timeout is the idle lifetime, period the reclaimer interval.
func NewStore(windowSize int, timeout, period time.Duration, opts ...Option) *Store {
	if windowSize <= 0 {
		windowSize = 20
	}
	if timeout <= 0 {
		timeout = 24 * time.Hour
	}
	if period <= 0 {
		period = time.Hour
	}
	s := &Store{
		sessions:   make(map[string]*Session),
		windowSize: windowSize,
		timeout:    timeout,
		period:     period,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func randomHex(n int) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	if n > len(hex) {
		n = len(hex)
	}
	return hex[:n]
}

// newSessionID mirrors the wire format clients already depend on:
// session_<yyyymmdd_HHMMSS>_<8 hex>.
func (s *Store) newSessionID() string {
	return fmt.Sprintf("session_%s_%s", s.now().Format("20060102_150405"), randomHex(8))
}

// GetOrCreate resolves a session id to a live session. A known id refreshes
// its activity timestamp; an unknown non-empty id creates a session under
// that id; an empty id creates a session with a generated id.
func (s *Store) GetOrCreate(id, userID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" {
		if sess, ok := s.sessions[id]; ok {
			sess.LastActivity = s.now()
			return sess
		}
	} else {
		id = s.newSessionID()
	}

	now := s.now()
	sess := &Session{
		ID:           id,
		UserID:       userID,
		CreatedAt:    now,
		LastActivity: now,
		Meta:         make(map[string]interface{}),
		cache:        make(map[string]cacheEntry),
	}
	s.sessions[id] = sess
	s.logger.Debug("session created", "session_id", id)
	return sess
}

// Get returns the session for id, or nil when unknown. Does not touch
// activity.
func (s *Store) Get(id string) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}

// AppendTurn records a completed exchange on the session, assigning the turn
// id from the history length. The recency window keeps only the most recent
// turns.
func (s *Store) AppendTurn(sessionID string, turn Turn) (Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return Turn{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	turn.ID = fmt.Sprintf("turn_%d_%s", len(sess.History), randomHex(6))
	if turn.Timestamp.IsZero() {
		turn.Timestamp = s.now()
	}
	sess.History = append(sess.History, turn)

	sess.window = append(sess.window, turn)
	if len(sess.window) > s.windowSize {
		sess.window = sess.window[len(sess.window)-s.windowSize:]
	}

	sess.LastActivity = s.now()
	return turn, nil
}

// RecentTurns returns up to n turns from the recency window, oldest first.
// n <= 0 returns the whole window.
func (s *Store) RecentTurns(sessionID string, n int) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}

	window := sess.window
	if n > 0 && len(window) > n {
		window = window[len(window)-n:]
	}
	out := make([]Turn, len(window))
	copy(out, window)
	return out
}

// CacheKey builds the canonical tool cache key: "<tool>:<json>" with the
// argument keys sorted, so argument ordering never splits cache slots.
func CacheKey(tool string, args map[string]interface{}) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(tool)
	b.WriteString(":{")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(",")
		}
		kj, _ := json.Marshal(k)
		vj, _ := json.Marshal(args[k])
		b.Write(kj)
		b.WriteString(":")
		b.Write(vj)
	}
	b.WriteString("}")
	return b.String()
}

// GetCached returns a cached tool result when present and fresh. ttl <= 0
// means no expiry within the session lifetime.
func (s *Store) GetCached(sessionID, key string, ttl time.Duration) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	entry, ok := sess.cache[key]
	if !ok {
		return nil, false
	}
	if ttl > 0 && s.now().Sub(entry.storedAt) > ttl {
		return nil, false
	}
	return entry.value, true
}

// SetCached stores a tool result under the canonical key.
func (s *Store) SetCached(sessionID, key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	sess.cache[key] = cacheEntry{storedAt: s.now(), value: value}
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Reap removes sessions idle longer than the timeout and returns how many
// were dropped.
func (s *Store) Reap() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.timeout)
	removed := 0
	for id, sess := range s.sessions {
		if sess.LastActivity.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("reaped idle sessions", "count", removed)
	}
	return removed
}

// StartReclaimer runs Reap on the configured period until ctx is done.
func (s *Store) StartReclaimer(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Reap()
			}
		}
	}()
}
