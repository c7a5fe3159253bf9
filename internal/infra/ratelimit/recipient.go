package ratelimit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rickymta/isra-notification-service/internal/domain/notification"

	"github.com/redis/go-redis/v9"
)

var _ notification.RecipientRateLimiter = (*RedisRecipientLimiter)(nil)

// RedisRecipientLimiter enforces per-recipient notification rate limits
// using Redis sorted sets. It uses a sliding window: each accepted
// notification is a member scored by its timestamp, so the count is
// exact over the trailing window rather than resetting on a boundary.
type RedisRecipientLimiter struct {
	client    *redis.Client
	keyPrefix string
	maxPerWin int
	window    time.Duration
}

// NewRedisRecipientLimiter creates a per-recipient limiter allowing
// maxPerHour notifications to one delivery address per sliding hour.
// Keys are namespaced under prefix.
func NewRedisRecipientLimiter(client *redis.Client, prefix string, maxPerHour int) *RedisRecipientLimiter {
	return &RedisRecipientLimiter{
		client:    client,
		keyPrefix: prefix,
		maxPerWin: maxPerHour,
		window:    time.Hour,
	}
}

// Allow checks whether a notification can be sent to the given delivery
// address and records the attempt when it can.
func (r *RedisRecipientLimiter) Allow(ctx context.Context, address string) (bool, error) {
	key := r.key(address)
	now := time.Now()
	windowStart := now.Add(-r.window)

	pipe := r.client.Pipeline()

	// Drop entries that have slid out of the window, then count the rest.
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", windowStart.UnixNano()))
	countCmd := pipe.ZCard(ctx, key)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("checking recipient rate limit: %w", err)
	}

	if countCmd.Val() >= int64(r.maxPerWin) {
		return false, nil
	}

	// Random member suffix avoids collisions between concurrent intakes
	// landing on the same nanosecond.
	randBytes := make([]byte, 4)
	_, _ = rand.Read(randBytes)
	member := redis.Z{
		Score:  float64(now.UnixNano()),
		Member: fmt.Sprintf("%d:%s", now.UnixNano(), hex.EncodeToString(randBytes)),
	}

	record := r.client.Pipeline()
	record.ZAdd(ctx, key, member)
	record.Expire(ctx, key, r.window+time.Minute)
	if _, err := record.Exec(ctx); err != nil {
		return false, fmt.Errorf("recording rate limit entry: %w", err)
	}

	return true, nil
}

func (r *RedisRecipientLimiter) key(address string) string {
	if r.keyPrefix == "" {
		return "ratelimit:recipient:" + address
	}
	return fmt.Sprintf("%s:ratelimit:recipient:%s", r.keyPrefix, address)
}
