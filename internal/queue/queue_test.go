package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupQueue(t *testing.T) (*miniredis.Miniredis, *Queue, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := Connect(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { rdb.Close() })

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q := New(rdb, "test", Options{
		PollInterval: 10 * time.Millisecond,
		Now:          func() time.Time { return now },
	})
	return mr, q, &now
}

func TestQueue_PriorityThenArrival(t *testing.T) {
	_, q, now := setupQueue(t)
	ctx := context.Background()

	enqueue := func(id string, prio int) {
		require.NoError(t, q.Enqueue(ctx, Message{RequestID: id, AccountID: "acc", Provider: "chatgpt", Prompt: "p", Priority: prio}))
		*now = now.Add(time.Millisecond)
	}
	enqueue("low-1", PriorityLow)
	enqueue("normal-1", PriorityNormal)
	enqueue("high-1", PriorityHigh)
	enqueue("normal-2", 0)
	enqueue("high-2", PriorityHigh)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)

	var order []string
	for i := 0; i < 5; i++ {
		m, err := q.Next(ctx)
		require.NoError(t, err)
		order = append(order, m.RequestID)
	}
	assert.Equal(t, []string{"high-1", "high-2", "normal-1", "normal-2", "low-1"}, order)
}

func TestQueue_MessageFields(t *testing.T) {
	mr, q, _ := setupQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Message{RequestID: "req_1", AccountID: "acc-1", Provider: "claude", Prompt: "hi", Priority: PriorityHigh}))

	members, err := mr.ZMembers("queue:test")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.JSONEq(t, `{"request_id":"req_1","account_id":"acc-1","provider":"claude","prompt":"hi","priority":1}`, members[0])
}

func TestQueue_NextWaitsForWork(t *testing.T) {
	_, q, _ := setupQueue(t)

	done := make(chan Message, 1)
	go func() {
		m, err := q.Next(context.Background())
		if err == nil {
			done <- m
		}
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, q.Enqueue(context.Background(), Message{RequestID: "late"}))

	select {
	case m := <-done:
		assert.Equal(t, "late", m.RequestID)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after enqueue")
	}
}

func TestQueue_NextHonoursContext(t *testing.T) {
	_, q, _ := setupQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := q.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_MalformedEntryIsConsumed(t *testing.T) {
	mr, q, _ := setupQueue(t)
	_, err := mr.ZAdd("queue:test", 1, "{not json")
	require.NoError(t, err)

	_, ok, err := q.TryNext(context.Background())
	assert.True(t, ok)
	assert.True(t, errors.Is(err, ErrMalformed))

	_, ok, err = q.TryNext(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConnect_BadURL(t *testing.T) {
	_, err := Connect(context.Background(), "not-a-url")
	assert.Error(t, err)
}

func TestParsePriority(t *testing.T) {
	tests := map[string]int{"high": 1, "": 5, "Normal": 5, "low": 10}
	for in, want := range tests {
		got, err := ParsePriority(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParsePriority("urgent")
	assert.Error(t, err)
}
