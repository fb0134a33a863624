package alarms

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultCounterTTL = 5 * time.Minute

// unreadCounterKeyTemplate scopes cached unread counts per user.
const unreadCounterKeyTemplate = "alarms:unread:%s"

// CounterCache keeps hot unread counts in redis in front of the authoritative
// database count. Entries are invalidated on every write path; a missing or
// unreachable cache degrades to counting in the database.
type CounterCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewCounterCache constructs a CounterCache over the provided redis client.
func NewCounterCache(client redis.Cmdable, ttl time.Duration) *CounterCache {
	if ttl <= 0 {
		ttl = defaultCounterTTL
	}
	return &CounterCache{client: client, ttl: ttl}
}

// Get returns the cached count for the user and whether one was present.
func (c *CounterCache) Get(ctx context.Context, userID string) (int64, bool, error) {
	value, err := c.client.Get(ctx, counterKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	count, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt counter entry for %s: %w", userID, err)
	}
	return count, true, nil
}

// Set stores the authoritative count for the user.
func (c *CounterCache) Set(ctx context.Context, userID string, count int64) error {
	return c.client.Set(ctx, counterKey(userID), strconv.FormatInt(count, 10), c.ttl).Err()
}

// Invalidate drops the cached count for the user.
func (c *CounterCache) Invalidate(ctx context.Context, userID string) error {
	return c.client.Del(ctx, counterKey(userID)).Err()
}

func counterKey(userID string) string {
	return fmt.Sprintf(unreadCounterKeyTemplate, userID)
}
