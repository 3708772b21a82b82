// Package common defines shared constants and sentinel errors used across
// authkeeper components. Callers should use errors.Is to match these values
// and KindOf / Code to decide how to react.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorValidation   = errors.New("validation error")

	// Access token errors.
	ErrInvalidToken      = errors.New("invalid token")
	ErrTokenExpired      = errors.New("token expired")
	ErrUnknownSigningKey = &kindError{msg: "unknown signing key", wraps: ErrInvalidToken}

	// Signing key errors.
	ErrKeyNotInitialized = errors.New("signing key not initialized")

	// Refresh rotation errors.
	ErrInvalidRefreshToken  = errors.New("invalid refresh token")
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrExpiredRefreshToken  = errors.New("refresh token expired")

	// Email verification errors.
	ErrInvalidEmailToken = errors.New("invalid email verification token")
	ErrCodeMismatch      = errors.New("verification code mismatch")
	ErrEmailNotVerified  = errors.New("email not verified")
	ErrTooManyAttempts   = errors.New("too many verification attempts")

	// Store availability.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// kindError is a sentinel that also matches a broader sentinel via errors.Is.
type kindError struct {
	msg   string
	wraps error
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.wraps }
