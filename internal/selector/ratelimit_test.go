package selector

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_FixedWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	now := time.Unix(1_800_000_000, 0)
	l := NewRateLimiter(rdb, 3, time.Minute)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "key-1")
		require.NoError(t, err)
		assert.Equal(t, 2-i, d.Remaining)
	}

	d, err := l.Allow(ctx, "key-1")
	assert.ErrorIs(t, err, ErrRateLimitExceeded)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, time.Unix((1_800_000_000/60+1)*60, 0), d.ResetAt)

	// Other credentials have their own window.
	_, err = l.Allow(ctx, "key-2")
	require.NoError(t, err)

	// The next window starts fresh.
	now = now.Add(time.Minute)
	_, err = l.Allow(ctx, "key-1")
	require.NoError(t, err)

	key := fmt.Sprintf("ratelimit:key-1:%d", 1_800_000_000/60)
	assert.True(t, mr.Exists(key))
	assert.True(t, mr.TTL(key) > 0)
}
