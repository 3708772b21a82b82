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
	sessionKeyPrefix = "sess:"
	userKeyPrefix    = "sess:user:"
)

// Entry is the replay-detection record of one refresh session. RefreshToken
// holds the token in its persisted form (raw or hashed, see tokens package).
type Entry struct {
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Store keeps session entries under sess:<id> with a TTL equal to the
// remaining refresh lifetime, and indexes them per user in sess:user:<id>.
// Only the token service mutates entries.
type Store struct {
	rdb *redis.Client
	now func() time.Time
}

type StoreOption func(*Store)

func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

func NewStore(rdb *redis.Client, opts ...StoreOption) *Store {
	s := &Store{rdb: rdb, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// extendIndex raises the TTL of KEYS[1] to ARGV[1] milliseconds, never
// lowering it. It runs on servers without EXPIRE GT/NX (before Redis 7).
const extendIndex = `
local ttl = tonumber(ARGV[1])
if redis.call('PTTL', KEYS[1]) < ttl then
	redis.call('PEXPIRE', KEYS[1], ttl)
	return 1
end
return 0
`

func sessionKey(id string) string { return sessionKeyPrefix + id }
func userKey(id string) string    { return userKeyPrefix + id }

func (s *Store) ttl(e *Entry) (time.Duration, error) {
	ttl := e.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return 0, fmt.Errorf("%w: session %s already expired", common.ErrorValidation, e.SessionID)
	}
	return ttl, nil
}

// Put writes e and adds it to its user's index.
func (s *Store) Put(ctx context.Context, e *Entry) error {
	return s.Replace(ctx, "", e)
}

// Replace writes e and removes the session oldID in one MULTI/EXEC, so no
// reader sees both or neither. An empty oldID only writes.
func (s *Store) Replace(ctx context.Context, oldID string, e *Entry) error {
	ttl, err := s.ttl(e)
	if err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(e.SessionID), data, ttl)
		pipe.SAdd(ctx, userKey(e.UserID), e.SessionID)
		// the index lives as long as the longest session in it
		pipe.Eval(ctx, extendIndex, []string{userKey(e.UserID)}, ttl.Milliseconds())
		if oldID != "" && oldID != e.SessionID {
			pipe.Del(ctx, sessionKey(oldID))
			pipe.SRem(ctx, userKey(e.UserID), oldID)
		}
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// Get returns the entry for id, or common.ErrorNotFound when it is missing
// or past its ExpiresAt.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	data, err := s.rdb.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if isMissing(err) {
			return nil, common.ErrorNotFound
		}
		return nil, unavailable(err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	if !s.now().Before(e.ExpiresAt) {
		if err := s.delete(ctx, id, e.UserID); err != nil {
			return nil, err
		}
		return nil, common.ErrorNotFound
	}
	return &e, nil
}

// Delete removes the session. Deleting a missing session is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	data, err := s.rdb.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if isMissing(err) {
			return nil
		}
		return unavailable(err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		// unreadable entries are dropped without touching the index
		if err := s.rdb.Del(ctx, sessionKey(id)).Err(); err != nil {
			return unavailable(err)
		}
		return nil
	}
	return s.delete(ctx, id, e.UserID)
}

func (s *Store) delete(ctx context.Context, id, userID string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionKey(id))
		pipe.SRem(ctx, userKey(userID), id)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// DeleteAllForUser removes every indexed session of userID and returns how
// many entries existed. A session written concurrently with the call may
// survive it.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	ids, err := s.rdb.SMembers(ctx, userKey(userID)).Result()
	if err != nil {
		if isMissing(err) {
			return 0, nil
		}
		return 0, unavailable(err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, sessionKey(id))
	}

	var deleted *redis.IntCmd
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(keys) > 0 {
			deleted = pipe.Del(ctx, keys...)
		}
		pipe.Del(ctx, userKey(userID))
		return nil
	})
	if err != nil {
		return 0, unavailable(err)
	}
	if deleted == nil {
		return 0, nil
	}
	return int(deleted.Val()), nil
}

// SessionIDs lists the indexed sessions of userID. Entries may have expired
// since they were indexed.
func (s *Store) SessionIDs(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, userKey(userID)).Result()
	if err != nil && !isMissing(err) {
		return nil, unavailable(err)
	}
	return ids, nil
}
