// Package sessions holds the ephemeral Redis side of the credential engine:
// refresh sessions used for replay detection and the email verification
// mirror.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/redis/go-redis/v9"
)

// Connect parses a redis:// URL, builds a client and pings it.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// unavailable wraps a Redis failure. redis.Nil never reaches it.
func unavailable(err error) error {
	return fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
}

func isMissing(err error) bool {
	return errors.Is(err, redis.Nil)
}
