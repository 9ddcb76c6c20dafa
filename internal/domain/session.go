package domain

import "time"

// Message roles
const (
	RoleUser = "user"
	RoleBot  = "bot"
)

// Message represents one entry in a session's conversation. Bot messages are
// created as empty placeholders and revised in place while an answer streams,
// so ID stays stable for the life of the message.
type Message struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Role      string         `json:"role"`
	Text      string         `json:"text"`
	Metric    map[string]any `json:"metric,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// MessagePatch describes an in-place revision of an existing message.
// Nil fields are left untouched; Metric replaces the previous value outright.
type MessagePatch struct {
	Role   *string
	Text   *string
	Metric map[string]any
}

// Session is a persistent conversation scoped to one ingested repository.
type Session struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Messages    []Message `json:"messages"`
	CreatedAt   time.Time `json:"created_at"`
	LastActive  time.Time `json:"last_active"`
}

// IngestStats holds the repository statistics returned after indexing.
// Distribution values are preformatted percentages and are never recomputed.
type IngestStats struct {
	TotalCodeFiles       int               `json:"total_code_files"`
	LanguageDistribution map[string]string `json:"language_distribution"`
}
