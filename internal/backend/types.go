package backend

import "time"

// WireBool converts a flag to the backend's literal "True"/"False" string
// representation. The backend does not accept native JSON booleans.
func WireBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

type uploadResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
}

type ackResponse struct {
	Success bool   `json:"success"`
	Detail  string `json:"detail"`
}

type userSessionRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

type renameRequest struct {
	UserID      string `json:"user_id"`
	SessionID   string `json:"session_id"`
	UpdatedName string `json:"updated_name"`
}

type statsResponse struct {
	Stats struct {
		TotalCodeFiles       int               `json:"total_code_files"`
		LanguageDistribution map[string]string `json:"language_distribution"`
	} `json:"stats"`
}

// SessionRecord is one row of the backend's session list.
type SessionRecord struct {
	SessionID   string `json:"session_id"`
	SessionName string `json:"session_name"`
	CreatedAt   string `json:"created_at"`
	LastActive  string `json:"last_active"`
}

// ParseTime parses a backend timestamp, returning the zero time when the
// value is missing or malformed rather than failing hydration.
func ParseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// ExchangeRecord is one stored question/answer pair of a session. The backend
// persists a conversation as pairs, not individual messages.
type ExchangeRecord struct {
	MessageID string         `json:"message_id"`
	Query     string         `json:"query"`
	Response  string         `json:"response"`
	Metric    map[string]any `json:"metric"`
	Timestamp string         `json:"timestamp"`
}
