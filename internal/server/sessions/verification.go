package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/redis/go-redis/v9"
)

const (
	verificationKeyPrefix = "emailv:"
	attemptsKeyPrefix     = "emailv:attempts:"
)

// Verification mirrors a pending email verification for fast lookup.
type Verification struct {
	Email     string    `json:"email"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// VerificationCache stores pending verifications under emailv:<token> and
// counts failed code attempts under emailv:attempts:<token>.
type VerificationCache struct {
	rdb         *redis.Client
	maxAttempts int
	now         func() time.Time
}

type VerificationOption func(*VerificationCache)

func WithVerificationClock(now func() time.Time) VerificationOption {
	return func(c *VerificationCache) { c.now = now }
}

// NewVerificationCache builds a cache. maxAttempts of 0 disables the
// failed-attempt limit.
func NewVerificationCache(rdb *redis.Client, maxAttempts int, opts ...VerificationOption) *VerificationCache {
	c := &VerificationCache{rdb: rdb, maxAttempts: maxAttempts, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

func verificationKey(token string) string { return verificationKeyPrefix + token }
func attemptsKey(token string) string     { return attemptsKeyPrefix + token }

// Put stores v until its ExpiresAt and resets the attempt counter.
func (c *VerificationCache) Put(ctx context.Context, token string, v *Verification) error {
	ttl := v.ExpiresAt.Sub(c.now())
	if ttl <= 0 {
		return fmt.Errorf("%w: verification already expired", common.ErrorValidation)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode verification: %w", err)
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, verificationKey(token), data, ttl)
		pipe.Del(ctx, attemptsKey(token))
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// Get returns the mirrored verification, or common.ErrorNotFound when it is
// absent or past its ExpiresAt.
func (c *VerificationCache) Get(ctx context.Context, token string) (*Verification, error) {
	data, err := c.rdb.Get(ctx, verificationKey(token)).Bytes()
	if err != nil {
		if isMissing(err) {
			return nil, common.ErrorNotFound
		}
		return nil, unavailable(err)
	}

	var v Verification
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode verification: %w", err)
	}
	if !c.now().Before(v.ExpiresAt) {
		if err := c.Delete(ctx, token); err != nil {
			return nil, err
		}
		return nil, common.ErrorNotFound
	}
	return &v, nil
}

// Delete removes the mirror and its attempt counter.
func (c *VerificationCache) Delete(ctx context.Context, token string) error {
	if err := c.rdb.Del(ctx, verificationKey(token), attemptsKey(token)).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// RecordFailure counts a wrong code for token. When the limit is reached the
// mirror is deleted and common.ErrTooManyAttempts is returned, so the token
// has to be requested again.
func (c *VerificationCache) RecordFailure(ctx context.Context, token string, expiresAt time.Time) (int, error) {
	if c.maxAttempts <= 0 {
		return 0, nil
	}

	ttl := expiresAt.Sub(c.now())
	if ttl <= 0 {
		ttl = time.Second
	}

	var incr *redis.IntCmd
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, attemptsKey(token))
		pipe.Expire(ctx, attemptsKey(token), ttl)
		return nil
	})
	if err != nil {
		return 0, unavailable(err)
	}

	attempts := int(incr.Val())
	if attempts >= c.maxAttempts {
		if err := c.Delete(ctx, token); err != nil {
			return attempts, err
		}
		return attempts, common.ErrTooManyAttempts
	}
	return attempts, nil
}
