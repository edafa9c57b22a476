package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Kingsleysam1/polymarket-trading-bot/internal/domain"
)

// fixedWindowLua counts a hit in the current window and reports whether the
// count is still within the limit.
const fixedWindowLua = `
local n = redis.call('INCR', KEYS[1])
if n == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
if n > tonumber(ARGV[2]) then
    return 0
end
return 1
`

// RateLimiter implements domain.RateLimiter with a fixed window per key, so
// the limit holds across every API instance sharing the Redis.
type RateLimiter struct {
	rdb    *redis.Client
	window *redis.Script
	now    func() time.Time
}

// NewRateLimiter creates a RateLimiter on c.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{rdb: c.rdb, window: redis.NewScript(fixedWindowLua), now: time.Now}
}

func rateLimitKey(key string, window time.Duration, now time.Time) string {
	slot := now.UnixMilli() / max(window.Milliseconds(), 1)
	return fmt.Sprintf("ratelimit:%s:%d", key, slot)
}

// Allow counts one request for key and reports whether it is permitted.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	res, err := rl.window.Run(ctx, rl.rdb,
		[]string{rateLimitKey(key, window, rl.now())},
		window.Milliseconds(), limit,
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	return res == 1, nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
