// Package auth issues and verifies RS256 access tokens. The signing key id
// travels in the token header so that tokens signed by a retired key keep
// verifying until that key is discarded.
package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

const keyIDHeader = "kid"

// KeySource provides the current signing key and resolves verification keys
// by id. keys.Rotator satisfies it.
type KeySource interface {
	CurrentSigningKey() (string, *rsa.PrivateKey, error)
	PublicKeyFor(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// Claims is the verified content of an access token.
type Claims struct {
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	KeyID     string
}

// AccessToken is a freshly signed token together with its claims.
type AccessToken struct {
	Token string
	Claims
}

// ExpiresIn returns the token lifetime in whole seconds.
func (t *AccessToken) ExpiresIn() int64 {
	return int64(t.ExpiresAt.Sub(t.IssuedAt) / time.Second)
}

type AccessTokens struct {
	keys KeySource
	ttl  time.Duration
	now  func() time.Time
}

type Option func(*AccessTokens)

func WithClock(now func() time.Time) Option {
	return func(a *AccessTokens) { a.now = now }
}

func NewAccessTokens(keys KeySource, ttl time.Duration, opts ...Option) *AccessTokens {
	a := &AccessTokens{keys: keys, ttl: ttl, now: time.Now}
	for _, o := range opts {
		o(a)
	}
	return a
}

// TTL is the access token lifetime.
func (a *AccessTokens) TTL() time.Duration {
	return a.ttl
}

// Issue signs a token for subject with the given key. exp is always iat+ttl.
func (a *AccessTokens) Issue(subject string, key *rsa.PrivateKey, kid string) (*AccessToken, error) {
	if subject == "" {
		return nil, fmt.Errorf("%w: empty subject", common.ErrorValidation)
	}
	if key == nil || kid == "" {
		return nil, common.ErrKeyNotInitialized
	}

	iat := a.now().UTC().Truncate(time.Second)
	exp := iat.Add(a.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(iat),
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	token.Header[keyIDHeader] = kid

	signed, err := token.SignedString(key)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	return &AccessToken{
		Token:  signed,
		Claims: Claims{Subject: subject, IssuedAt: iat, ExpiresAt: exp, KeyID: kid},
	}, nil
}

// IssueCurrent signs a token with the rotator's current key.
func (a *AccessTokens) IssueCurrent(subject string) (*AccessToken, error) {
	kid, key, err := a.keys.CurrentSigningKey()
	if err != nil {
		return nil, err
	}
	return a.Issue(subject, key, kid)
}

// Verify checks signature and expiry. The result is one of:
//   - common.ErrTokenExpired: well formed and correctly signed but expired;
//   - common.ErrUnknownSigningKey: kid not known or already discarded;
//   - common.ErrInvalidToken: anything else wrong with the token;
//   - common.ErrStoreUnavailable: the key could not be looked up.
func (a *AccessTokens) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	rc := &jwt.RegisteredClaims{}
	var kid string

	_, err := jwt.ParseWithClaims(tokenString, rc, func(t *jwt.Token) (any, error) {
		kid, _ = t.Header[keyIDHeader].(string)
		if kid == "" {
			return nil, errors.New("missing kid header")
		}
		return a.keys.PublicKeyFor(ctx, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		switch {
		case errors.Is(err, common.ErrStoreUnavailable):
			return nil, err
		case errors.Is(err, common.ErrUnknownSigningKey):
			return nil, common.ErrUnknownSigningKey
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, common.ErrTokenExpired
		default:
			return nil, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
		}
	}

	if rc.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", common.ErrInvalidToken)
	}

	c := &Claims{Subject: rc.Subject, ExpiresAt: rc.ExpiresAt.Time, KeyID: kid}
	if rc.IssuedAt != nil {
		c.IssuedAt = rc.IssuedAt.Time
	}
	return c, nil
}

// SubjectUnverified decodes the subject WITHOUT checking the signature.
// It exists only to recover the subject of an expired token during refresh
// rotation and must never be used to authorize anything.
func SubjectUnverified(tokenString string) (string, error) {
	rc := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, rc); err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}
	if rc.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", common.ErrInvalidToken)
	}
	return rc.Subject, nil
}
