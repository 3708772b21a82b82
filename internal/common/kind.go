package common

import "errors"

// ErrorKind groups errors by the reaction expected from the caller.
type ErrorKind int

const (
	// KindInternal means a store or key was unavailable; the request may be
	// retried later but the credential is not at fault.
	KindInternal ErrorKind = iota
	// KindUnauthenticated means the caller must log in again.
	KindUnauthenticated
	// KindRecoverable means the access token expired and a refresh may succeed.
	KindRecoverable
	// KindVerification means the caller should retry or restart email verification.
	KindVerification
	// KindConflict means the resource already exists.
	KindConflict
	// KindInvalidInput means the request itself was malformed.
	KindInvalidInput
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindRecoverable:
		return "recoverable"
	case KindVerification:
		return "verification"
	case KindConflict:
		return "conflict"
	case KindInvalidInput:
		return "invalid_input"
	default:
		return "internal"
	}
}

type classified struct {
	err  error
	kind ErrorKind
	code string
}

// Order matters: more specific sentinels first.
var classification = []classified{
	{ErrUnknownSigningKey, KindUnauthenticated, "TOKEN_UNKNOWN_SIGNING_KEY"},
	{ErrTokenExpired, KindRecoverable, "TOKEN_EXPIRED_ACCESS"},
	{ErrInvalidToken, KindUnauthenticated, "TOKEN_INVALID_ACCESS"},
	{ErrInvalidRefreshToken, KindUnauthenticated, "TOKEN_INVALID_REFRESH"},
	{ErrRefreshTokenNotFound, KindUnauthenticated, "TOKEN_REFRESH_NOT_FOUND"},
	{ErrExpiredRefreshToken, KindUnauthenticated, "TOKEN_EXPIRED_REFRESH"},
	{ErrorUnauthorized, KindUnauthenticated, "UNAUTHORIZED"},
	{ErrInvalidEmailToken, KindVerification, "EMAIL_VERIFICATION_TOKEN_INVALID"},
	{ErrCodeMismatch, KindVerification, "EMAIL_VERIFICATION_CODE_MISMATCH"},
	{ErrEmailNotVerified, KindVerification, "EMAIL_NOT_VERIFIED"},
	{ErrTooManyAttempts, KindVerification, "EMAIL_VERIFICATION_TOO_MANY_ATTEMPTS"},
	{ErrorAlreadyExists, KindConflict, "ALREADY_EXISTS"},
	{ErrorValidation, KindInvalidInput, "VALIDATION_ERROR"},
}

func lookup(err error) (classified, bool) {
	for _, c := range classification {
		if errors.Is(err, c.err) {
			return c, true
		}
	}
	return classified{}, false
}

// KindOf classifies err. Anything not recognized is internal.
func KindOf(err error) ErrorKind {
	if c, ok := lookup(err); ok {
		return c.kind
	}
	return KindInternal
}

// Code returns a stable, client-facing error code for err.
func Code(err error) string {
	if err == nil {
		return ""
	}
	if c, ok := lookup(err); ok {
		return c.code
	}
	return "INTERNAL"
}
