package session

import (
	"errors"
	"time"
)

var (
	// ErrSessionNotFound is returned when a session doesn't exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when a session has expired.
	ErrSessionExpired = errors.New("session expired")
)

// Session carries per-user dispatch continuity: what was asked, which
// markets answered, so follow-up queries can be disambiguated.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`

	History     []QueryRecord `json:"history"`
	LastMarkets []string      `json:"last_markets,omitempty"`
}

// QueryRecord is one past dispatch in the session history.
type QueryRecord struct {
	Query     string    `json:"query"`
	Markets   []string  `json:"markets,omitempty"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}

// IsExpired checks if the session has expired.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// RecentHistory returns the most recent records.
func (s *Session) RecentHistory(count int) []QueryRecord {
	if len(s.History) <= count {
		return s.History
	}
	return s.History[len(s.History)-count:]
}
