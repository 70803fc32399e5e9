package selector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrRateLimitExceeded = errors.New("rate limit exceeded")

const (
	DefaultRateLimit  = 100
	DefaultRateWindow = 60 * time.Second
)

// Decision describes the state of a credential's current window.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RateLimiter is a fixed-window counter shared through Redis, keyed
// ratelimit:<credential>:<window index>.
type RateLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewRateLimiter(rdb *redis.Client, limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &RateLimiter{rdb: rdb, limit: limit, window: window, now: time.Now}
}

// Allow counts one request against credential. When the window is full it
// returns the decision together with ErrRateLimitExceeded.
func (l *RateLimiter) Allow(ctx context.Context, credential string) (Decision, error) {
	secs := int64(l.window / time.Second)
	if secs <= 0 {
		secs = 1
	}
	bucket := l.now().Unix() / secs
	key := fmt.Sprintf("ratelimit:%s:%d", credential, bucket)
	resetAt := time.Unix((bucket+1)*secs, 0)

	var incr *redis.IntCmd
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, time.Duration(secs)*time.Second)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("failed to check rate limit: %w", err)
	}

	count := int(incr.Val())
	d := Decision{
		Allowed:   count <= l.limit,
		Limit:     l.limit,
		Remaining: max(0, l.limit-count),
		ResetAt:   resetAt,
	}
	if !d.Allowed {
		return d, ErrRateLimitExceeded
	}
	return d, nil
}
