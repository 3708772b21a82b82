package models

import "time"

// RefreshToken is the persistent record of an issued refresh token. Token
// holds either the raw value or its SHA-256 hex digest. Records are
// deactivated, never deleted.
type RefreshToken struct {
	Token     string
	UserID    string
	SessionID string
	CreatedAt time.Time
	ExpiresAt time.Time
	IsActive  bool
	UserAgent string
	IPAddress string
}

func (t *RefreshToken) ExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
