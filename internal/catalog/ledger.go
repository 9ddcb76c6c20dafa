package catalog

import (
	"github.com/google/uuid"

	"github.com/tunablelabs/codebase-rag/internal/domain"
)

// Append inserts a message at the tail of the session's ledger. A missing id
// is generated, a zero timestamp is set to now, and the session's LastActive
// is touched. Returns the stored message.
func (c *Catalog) Append(sessionID string, msg domain.Message) (domain.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.find(sessionID)
	if s == nil {
		return domain.Message{}, domain.ErrNotFound
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = c.now()
	}
	msg.SessionID = sessionID

	s.Messages = append(s.Messages, msg)
	s.LastActive = c.now()
	return snapshotMessage(msg), nil
}

// UpdateByID applies the patch to the message with the given id, preserving
// its id and original timestamp. Message count and order never change. A
// missing session or message is a silent no-op: late frames for a cleared
// session must not fail.
func (c *Catalog) UpdateByID(sessionID, messageID string, patch domain.MessagePatch) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.find(sessionID)
	if s == nil {
		return
	}
	for i := range s.Messages {
		if s.Messages[i].ID != messageID {
			continue
		}
		if patch.Role != nil {
			s.Messages[i].Role = *patch.Role
		}
		if patch.Text != nil {
			s.Messages[i].Text = *patch.Text
		}
		if patch.Metric != nil {
			s.Messages[i].Metric = patch.Metric
		}
		return
	}
}

// Messages returns a snapshot of the session's ledger in insertion order.
func (c *Catalog) Messages(sessionID string) []domain.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.find(sessionID)
	if s == nil {
		return nil
	}
	return snapshotMessages(s.Messages)
}

// Message returns a snapshot of one message by id.
func (c *Catalog) Message(sessionID, messageID string) (domain.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.find(sessionID)
	if s == nil {
		return domain.Message{}, false
	}
	for _, m := range s.Messages {
		if m.ID == messageID {
			return snapshotMessage(m), true
		}
	}
	return domain.Message{}, false
}

// Touch updates the session's LastActive timestamp, used on reconnection.
func (c *Catalog) Touch(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s := c.find(sessionID); s != nil {
		s.LastActive = c.now()
	}
}
