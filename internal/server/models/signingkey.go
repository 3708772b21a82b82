package models

import "time"

// SigningKey is the persisted metadata of an RSA signing key. The key
// material lives in PEM files referenced by the two paths.
type SigningKey struct {
	KeyID          string
	PrivateKeyPath string
	PublicKeyPath  string
	CreatedAt      time.Time
	// ExpiresAt is when the key stops being used for issuance.
	ExpiresAt time.Time
	// VerifyUntil is when tokens signed by the key stop being accepted.
	VerifyUntil time.Time
}

// IssuableAt reports whether the key may sign new tokens at t.
func (k *SigningKey) IssuableAt(t time.Time) bool {
	return t.Before(k.ExpiresAt)
}

// VerifiableAt reports whether tokens signed by the key are accepted at t.
func (k *SigningKey) VerifiableAt(t time.Time) bool {
	return t.Before(k.VerifyUntil)
}
