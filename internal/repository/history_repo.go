package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/tunablelabs/codebase-rag/internal/domain"
)

// HistoryRepository persists the session catalog and message ledgers into the
// local cache so past conversations survive a restart with an unreachable
// backend.
type HistoryRepository struct {
	db *DB
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// SaveSession inserts or updates a session row.
func (r *HistoryRepository) SaveSession(session domain.Session) error {
	_, err := r.db.Exec(`
		INSERT INTO sessions (id, display_name, created_at, last_active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET display_name = excluded.display_name, last_active = excluded.last_active
	`, session.ID, session.DisplayName, session.CreatedAt, session.LastActive)
	return err
}

// DeleteSession removes a session and, via cascade, its messages.
func (r *HistoryRepository) DeleteSession(sessionID string) error {
	_, err := r.db.Exec(`DELETE FROM sessions WHERE id = ?`, sessionID)
	return err
}

// SaveMessage inserts or updates one ledger entry. The seq column preserves
// ledger order independently of message timestamps.
func (r *HistoryRepository) SaveMessage(msg domain.Message, seq int) error {
	var metricJSON sql.NullString
	if msg.Metric != nil {
		b, err := json.Marshal(msg.Metric)
		if err != nil {
			return fmt.Errorf("encode metric: %w", err)
		}
		metricJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err := r.db.Exec(`
		INSERT INTO messages (id, session_id, seq, role, text, metric, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET text = excluded.text, metric = excluded.metric
	`, msg.ID, msg.SessionID, seq, msg.Role, msg.Text, metricJSON, msg.Timestamp)
	return err
}

// ReplaceAll overwrites the whole cache with the given sessions, messages
// included. Used after a successful hydration from the backend.
func (r *HistoryRepository) ReplaceAll(sessions []domain.Session) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM messages`); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM sessions`); err != nil {
		return err
	}

	for _, s := range sessions {
		if _, err := tx.Exec(`
			INSERT INTO sessions (id, display_name, created_at, last_active)
			VALUES (?, ?, ?, ?)
		`, s.ID, s.DisplayName, s.CreatedAt, s.LastActive); err != nil {
			return err
		}
		for seq, m := range s.Messages {
			var metricJSON sql.NullString
			if m.Metric != nil {
				b, err := json.Marshal(m.Metric)
				if err != nil {
					return fmt.Errorf("encode metric: %w", err)
				}
				metricJSON = sql.NullString{String: string(b), Valid: true}
			}
			if _, err := tx.Exec(`
				INSERT INTO messages (id, session_id, seq, role, text, metric, timestamp)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, m.ID, s.ID, seq, m.Role, m.Text, metricJSON, m.Timestamp); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// LoadSessions reads the cached catalog, messages included, in creation order.
func (r *HistoryRepository) LoadSessions() ([]domain.Session, error) {
	rows, err := r.db.Query(`
		SELECT id, display_name, created_at, last_active
		FROM sessions ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		var s domain.Session
		if err := rows.Scan(&s.ID, &s.DisplayName, &s.CreatedAt, &s.LastActive); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range sessions {
		msgs, err := r.loadMessages(sessions[i].ID)
		if err != nil {
			return nil, err
		}
		sessions[i].Messages = msgs
	}
	return sessions, nil
}

func (r *HistoryRepository) loadMessages(sessionID string) ([]domain.Message, error) {
	rows, err := r.db.Query(`
		SELECT id, session_id, role, text, metric, timestamp
		FROM messages WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var m domain.Message
		var metricJSON sql.NullString

		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Text, &metricJSON, &m.Timestamp); err != nil {
			return nil, err
		}
		if metricJSON.Valid && metricJSON.String != "" {
			json.Unmarshal([]byte(metricJSON.String), &m.Metric)
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}
