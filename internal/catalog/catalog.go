// Package catalog owns the in-memory session state of the gateway: an
// ordered collection of sessions with at most one active, and the per-session
// message ledger. It is a plain store with no network knowledge; services
// decide when a mutation is confirmed enough to apply.
package catalog

import (
	"sync"
	"time"

	"github.com/tunablelabs/codebase-rag/internal/domain"
)

// Catalog is the ordered session store. All reads return snapshot copies so
// callers can never mutate shared state behind the lock.
type Catalog struct {
	mu       sync.RWMutex
	sessions []*domain.Session
	active   string
	now      func() time.Time
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{now: time.Now}
}

// Create appends a new session, marks it active and returns its snapshot.
// Callers are responsible for calling this exactly once per ingested
// repository; the catalog does not deduplicate.
func (c *Catalog) Create(displayName, sessionID string) domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	s := &domain.Session{
		ID:          sessionID,
		DisplayName: displayName,
		CreatedAt:   now,
		LastActive:  now,
	}
	c.sessions = append(c.sessions, s)
	c.active = sessionID
	return snapshotSession(s)
}

// Select marks the given session active.
func (c *Catalog) Select(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.find(sessionID) == nil {
		return domain.ErrNotFound
	}
	c.active = sessionID
	return nil
}

// ActiveID returns the active session id, or "" when none is selected.
func (c *Catalog) ActiveID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// Active returns a snapshot of the active session.
func (c *Catalog) Active() (domain.Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.find(c.active)
	if s == nil {
		return domain.Session{}, false
	}
	return snapshotSession(s), true
}

// Get returns a snapshot of the given session.
func (c *Catalog) Get(sessionID string) (domain.Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.find(sessionID)
	if s == nil {
		return domain.Session{}, false
	}
	return snapshotSession(s), true
}

// List returns snapshots of all sessions in insertion order.
func (c *Catalog) List() []domain.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, snapshotSession(s))
	}
	return out
}

// Len returns the number of sessions.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

// Rename sets the display name. The caller must already hold backend
// confirmation; the catalog applies it unconditionally.
func (c *Catalog) Rename(sessionID, displayName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.find(sessionID)
	if s == nil {
		return domain.ErrNotFound
	}
	s.DisplayName = displayName
	return nil
}

// Remove deletes the session. When the removed session was active, selection
// falls back to the most recently created remaining session, or to none when
// the catalog is empty.
func (c *Catalog) Remove(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := -1
	for i, s := range c.sessions {
		if s.ID == sessionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.ErrNotFound
	}
	c.sessions = append(c.sessions[:idx], c.sessions[idx+1:]...)

	if c.active == sessionID {
		c.active = ""
		if n := len(c.sessions); n > 0 {
			c.active = c.sessions[n-1].ID
		}
	}
	return nil
}

// Hydrate replaces the catalog contents. Sessions are expected in creation
// order; the most recently created one becomes active.
func (c *Catalog) Hydrate(sessions []domain.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sessions = c.sessions[:0]
	c.active = ""
	for i := range sessions {
		s := sessions[i]
		c.sessions = append(c.sessions, &s)
	}
	if n := len(c.sessions); n > 0 {
		c.active = c.sessions[n-1].ID
	}
}

// find returns the live record for id. Caller holds the lock.
func (c *Catalog) find(id string) *domain.Session {
	if id == "" {
		return nil
	}
	for _, s := range c.sessions {
		if s.ID == id {
			return s
		}
	}
	return nil
}

func snapshotSession(s *domain.Session) domain.Session {
	out := *s
	out.Messages = snapshotMessages(s.Messages)
	return out
}

func snapshotMessages(msgs []domain.Message) []domain.Message {
	out := make([]domain.Message, len(msgs))
	for i, m := range msgs {
		out[i] = snapshotMessage(m)
	}
	return out
}

func snapshotMessage(m domain.Message) domain.Message {
	if m.Metric != nil {
		metric := make(map[string]any, len(m.Metric))
		for k, v := range m.Metric {
			metric[k] = v
		}
		m.Metric = metric
	}
	return m
}
