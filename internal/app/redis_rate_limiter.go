package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Reserves one slot in the booking's window unless it is already full. Denied attempts
// are not counted.
var linkCreationQuotaScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local used = tonumber(redis.call("GET", KEYS[1]) or "0")
if used >= limit then
  return {0, used, redis.call("PTTL", KEYS[1])}
end
used = redis.call("INCR", KEYS[1])
if used == 1 then
  redis.call("PEXPIRE", KEYS[1], window)
end
return {1, used, redis.call("PTTL", KEYS[1])}
`)

// LinkQuota is the decision for one link creation attempt.
type LinkQuota struct {
	Allowed    bool
	Used       int
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds for the Retry-After header.
func (q LinkQuota) RetryAfterSeconds() int {
	seconds := int((q.RetryAfter + time.Second - 1) / time.Second)
	if seconds < 1 {
		return 1
	}
	return seconds
}

// RateLimiter decides whether a booking may open another payment link.
type RateLimiter interface {
	ReserveLinkCreation(ctx context.Context, bookingID uuid.UUID, limit int, window time.Duration) (LinkQuota, error)
}

// RedisRateLimiter keeps one fixed window per booking in Redis, shared by every replica.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "settlement:rate_limit"
	}
	return &RedisRateLimiter{client: client, prefix: prefix}
}

func (r *RedisRateLimiter) bookingKey(bookingID uuid.UUID) string {
	return r.prefix + ":payment_links:booking:" + bookingID.String()
}

// ReserveLinkCreation takes a slot for bookingID. Without a client, a limit or a window,
// every attempt is allowed.
func (r *RedisRateLimiter) ReserveLinkCreation(ctx context.Context, bookingID uuid.UUID, limit int, window time.Duration) (LinkQuota, error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 || bookingID == uuid.Nil {
		return LinkQuota{Allowed: true}, nil
	}
	if window < time.Second {
		window = time.Second
	}

	reply, err := linkCreationQuotaScript.Run(ctx, r.client, []string{r.bookingKey(bookingID)}, limit, window.Milliseconds()).Result()
	if err != nil {
		return LinkQuota{}, fmt.Errorf("reserve link creation for booking %s: %w", bookingID, err)
	}
	return quotaFromReply(reply, window)
}

// quotaFromReply decodes the {allowed, used, pttl} script reply. A key without a TTL
// reports the full window.
func quotaFromReply(reply interface{}, window time.Duration) (LinkQuota, error) {
	values, ok := reply.([]interface{})
	if !ok || len(values) != 3 {
		return LinkQuota{}, fmt.Errorf("unexpected link quota reply: %v", reply)
	}
	ints := make([]int64, len(values))
	for i, v := range values {
		n, ok := v.(int64)
		if !ok {
			return LinkQuota{}, fmt.Errorf("unexpected link quota value %d: %T", i, v)
		}
		ints[i] = n
	}

	ttl := time.Duration(ints[2]) * time.Millisecond
	if ints[2] < 0 {
		ttl = window
	}
	quota := LinkQuota{Allowed: ints[0] == 1, Used: int(ints[1])}
	if !quota.Allowed {
		quota.RetryAfter = ttl
	}
	return quota, nil
}
