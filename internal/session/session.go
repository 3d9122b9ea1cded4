// Package session keeps a bounded, in-memory conversation history per
// identity. Histories are capped to the most recent N entries and swept
// once idle beyond a timeout; nothing survives a restart.
package session

import (
	"sync"
	"time"

	"github.com/stupiduntilnot/chatrelay/internal/model"
)

// Entry is one recorded message of a conversation.
type Entry struct {
	Role      string
	Content   string
	CreatedAt time.Time
}

// Store owns all per-identity conversation state.
type Store struct {
	maxHistory int
	timeout    time.Duration
	now        func() time.Time

	mu       sync.RWMutex
	sessions map[int64]*conversation
}

// conversation holds one identity's entries, oldest first, plus the last
// time it was read or written. Its mutex serializes access so an append
// is atomic: either the full entry lands or none does. dead is set,
// under mu, when the sweep removes the session; a caller holding a stale
// pointer must re-fetch instead of writing into the orphan.
type conversation struct {
	mu           sync.Mutex
	dead         bool
	entries      []Entry
	lastActivity time.Time
}

// NewStore creates a store bounding each history to maxHistory entries
// and expiring sessions idle longer than timeout.
func NewStore(maxHistory int, timeout time.Duration) *Store {
	if maxHistory <= 0 {
		maxHistory = 5
	}
	if timeout <= 0 {
		timeout = time.Hour
	}
	return &Store{
		maxHistory: maxHistory,
		timeout:    timeout,
		now:        time.Now,
		sessions:   make(map[int64]*conversation),
	}
}

// get returns identity's session, creating it lazily.
func (s *Store) get(identity int64) *conversation {
	s.mu.RLock()
	c := s.sessions[identity]
	s.mu.RUnlock()
	if c != nil {
		return c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c = s.sessions[identity]; c == nil {
		c = &conversation{lastActivity: s.now()}
		s.sessions[identity] = c
	}
	return c
}

// live fetches identity's session and returns it locked, re-fetching if
// a concurrent sweep removed it between lookup and lock.
func (s *Store) live(identity int64) *conversation {
	for {
		c := s.get(identity)
		c.mu.Lock()
		if !c.dead {
			return c
		}
		c.mu.Unlock()
	}
}

func (s *Store) append(identity int64, role, content string) {
	now := s.now()

	c := s.live(identity)
	defer c.mu.Unlock()

	if len(c.entries) >= s.maxHistory {
		// Evict the oldest; the history never exceeds maxHistory at rest.
		c.entries = append(c.entries[:0], c.entries[1:]...)
	}
	c.entries = append(c.entries, Entry{Role: role, Content: content, CreatedAt: now})
	c.lastActivity = now
}

// AppendUser records a message from the user.
func (s *Store) AppendUser(identity int64, content string) {
	s.append(identity, model.RoleUser, content)
}

// AppendAssistant records a reply from the assistant.
func (s *Store) AppendAssistant(identity int64, content string) {
	s.append(identity, model.RoleAssistant, content)
}

// History returns identity's entries oldest-first as completion-request
// messages. The returned slice is a snapshot; callers may hold it across
// a blocking gateway call without touching store locks.
func (s *Store) History(identity int64) []model.Message {
	c := s.live(identity)
	defer c.mu.Unlock()

	messages := make([]model.Message, 0, len(c.entries))
	for _, e := range c.entries {
		messages = append(messages, model.Message{Role: e.Role, Content: e.Content})
	}
	c.lastActivity = s.now()
	return messages
}

// Reset empties identity's history but keeps the session tracked with a
// fresh last-activity timestamp, so a following Info reports zero
// messages rather than an unknown session.
func (s *Store) Reset(identity int64) {
	c := s.live(identity)
	defer c.mu.Unlock()
	c.entries = nil
	c.lastActivity = s.now()
}

// Info describes one identity's session.
type Info struct {
	MessageCount      int
	TimeSinceActivity time.Duration
}

// Info reports identity's entry count and idle time. Reading refreshes
// the session's last activity; the reported idle time is from before the
// refresh.
func (s *Store) Info(identity int64) Info {
	now := s.now()

	c := s.live(identity)
	defer c.mu.Unlock()

	info := Info{
		MessageCount:      len(c.entries),
		TimeSinceActivity: now.Sub(c.lastActivity),
	}
	c.lastActivity = now
	return info
}

// SweepExpired removes every session idle beyond the store timeout and
// returns how many were removed. This is the only path that deletes a
// session's storage entirely.
func (s *Store) SweepExpired() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for identity, c := range s.sessions {
		c.mu.Lock()
		if now.Sub(c.lastActivity) > s.timeout {
			// Mark before delete so an append holding this pointer
			// re-fetches rather than writing into an orphan.
			c.dead = true
			delete(s.sessions, identity)
			removed++
		}
		c.mu.Unlock()
	}
	return removed
}

// Stats describes the store's aggregate state.
type Stats struct {
	ActiveSessions int
	TotalEntries   int
	MaxHistory     int
	Timeout        time.Duration
}

// Stats returns aggregate counters; they are read-mostly statistics and
// may lag concurrent appends.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, c := range s.sessions {
		c.mu.Lock()
		total += len(c.entries)
		c.mu.Unlock()
	}
	return Stats{
		ActiveSessions: len(s.sessions),
		TotalEntries:   total,
		MaxHistory:     s.maxHistory,
		Timeout:        s.timeout,
	}
}
