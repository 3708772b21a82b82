// Package tokens generates opaque refresh tokens and decides how they are
// stored.
package tokens

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/google/uuid"
)

// MinByteLength is the smallest accepted amount of token entropy.
const MinByteLength = 32

// RefreshToken is a newly created refresh token. Token is handed to the
// caller; Stored is what gets persisted.
type RefreshToken struct {
	Token     string
	Stored    string
	SessionID string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// ExpiresIn returns the token lifetime in whole seconds.
func (t *RefreshToken) ExpiresIn() int64 {
	return int64(t.ExpiresAt.Sub(t.CreatedAt) / time.Second)
}

// RefreshTokens creates refresh tokens. With hashed storage the persisted
// form is the hex SHA-256 of the token; otherwise it is the token itself.
// A generator only ever works in one mode.
type RefreshTokens struct {
	byteLength int
	ttl        time.Duration
	hashed     bool
	now        func() time.Time
}

type Option func(*RefreshTokens)

func WithClock(now func() time.Time) Option {
	return func(r *RefreshTokens) { r.now = now }
}

func NewRefreshTokens(byteLength int, ttl time.Duration, hashed bool, opts ...Option) (*RefreshTokens, error) {
	if byteLength < MinByteLength {
		return nil, fmt.Errorf("%w: refresh token length %d is below %d bytes", common.ErrorValidation, byteLength, MinByteLength)
	}
	r := &RefreshTokens{byteLength: byteLength, ttl: ttl, hashed: hashed, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

func (r *RefreshTokens) TTL() time.Duration {
	return r.ttl
}

func (r *RefreshTokens) Hashed() bool {
	return r.hashed
}

// Create issues a token for userID bound to a fresh session id.
func (r *RefreshTokens) Create(userID string) (*RefreshToken, error) {
	token, err := common.RandomURLToken(r.byteLength)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	now := r.now().UTC().Truncate(time.Microsecond)
	return &RefreshToken{
		Token:     token,
		Stored:    r.Stored(token),
		SessionID: uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(r.ttl),
	}, nil
}

// Stored converts a presented token into its persisted form.
func (r *RefreshTokens) Stored(presented string) string {
	if !r.hashed {
		return presented
	}
	sum := sha256.Sum256([]byte(presented))
	return hex.EncodeToString(sum[:])
}

// Verify compares a presented token with a persisted value in constant time.
func (r *RefreshTokens) Verify(presented, stored string) bool {
	if presented == "" || stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(r.Stored(presented)), []byte(stored)) == 1
}
