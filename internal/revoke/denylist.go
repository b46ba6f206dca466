package revoke

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps transport failures talking to Redis.
var ErrRedisUnavailable = errors.New("redis unavailable")

// Denylist records revoked token IDs until their natural expiry.
type Denylist struct {
	redis redis.UniversalClient
}

// New creates a [Denylist] backed by the given Redis client.
func New(redisClient redis.UniversalClient) *Denylist {
	return &Denylist{redis: redisClient}
}

// Revoke marks tokenID revoked until expiresAt. Tokens already past
// expiry are a no-op; they can no longer verify anyway.
func (d *Denylist) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}

	if err := d.redis.Set(ctx, denyKey(tokenID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// IsRevoked reports whether tokenID is on the denylist.
func (d *Denylist) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	err := d.redis.Get(ctx, denyKey(tokenID)).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return true, nil
}

func denyKey(tokenID string) string { return "gd:" + tokenID }
