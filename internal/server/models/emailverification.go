package models

import "time"

// EmailVerification moves pending -> verified -> used, or pending -> expired.
type EmailVerification struct {
	Token      string
	Code       string
	Email      string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	IsVerified bool
	IsUsed     bool
}
