// Package queue is a Redis-backed priority queue of chat jobs.
//
// Jobs live in a sorted set scored by priority·10¹³ + enqueue time in
// milliseconds, so a lower priority value is served first and jobs within a
// tier come out roughly in arrival order.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Priority values. Lower is served first.
const (
	PriorityHigh   = 1
	PriorityNormal = 5
	PriorityLow    = 10
)

const (
	DefaultName         = "chat-requests"
	DefaultPollInterval = 500 * time.Millisecond

	tierWidth = 1e13
)

// ErrMalformed is returned for queue entries that cannot be decoded. The
// entry is consumed.
var ErrMalformed = errors.New("malformed queue message")

// Message is the job payload carried from intake to the dispatcher.
type Message struct {
	RequestID string `json:"request_id"`
	AccountID string `json:"account_id"`
	Provider  string `json:"provider"`
	Prompt    string `json:"prompt"`
	Priority  int    `json:"priority"`
}

// ParsePriority maps a priority name to its value. Empty means normal.
func ParsePriority(name string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "high":
		return PriorityHigh, nil
	case "", "normal":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	}
	return 0, fmt.Errorf("invalid priority %q", name)
}

// Connect parses url, opens a client and verifies it with PING.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// Options configures a Queue.
type Options struct {
	PollInterval time.Duration
	Now          func() time.Time
}

type Queue struct {
	rdb  *redis.Client
	key  string
	poll time.Duration
	now  func() time.Time
}

func New(rdb *redis.Client, name string, opts Options) *Queue {
	if name == "" {
		name = DefaultName
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Queue{
		rdb:  rdb,
		key:  "queue:" + name,
		poll: opts.PollInterval,
		now:  opts.Now,
	}
}

// Enqueue adds m. A zero priority is treated as normal.
func (q *Queue) Enqueue(ctx context.Context, m Message) error {
	if m.RequestID == "" {
		return fmt.Errorf("enqueue: empty request id")
	}
	if m.Priority <= 0 {
		m.Priority = PriorityNormal
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	score := float64(m.Priority)*tierWidth + float64(q.now().UnixMilli())
	if err := q.rdb.ZAdd(ctx, q.key, redis.Z{Score: score, Member: string(data)}).Err(); err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", m.RequestID, err)
	}
	return nil
}

// TryNext pops the most urgent message, returning ok=false when the queue is
// empty.
func (q *Queue) TryNext(ctx context.Context) (Message, bool, error) {
	zs, err := q.rdb.ZPopMin(ctx, q.key, 1).Result()
	if err != nil {
		return Message{}, false, fmt.Errorf("failed to pop from queue: %w", err)
	}
	if len(zs) == 0 {
		return Message{}, false, nil
	}
	raw, _ := zs[0].Member.(string)
	var m Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return Message{}, true, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return m, true, nil
}

// Next blocks until a message is available or ctx ends.
func (q *Queue) Next(ctx context.Context) (Message, error) {
	ticker := time.NewTicker(q.poll)
	defer ticker.Stop()
	for {
		m, ok, err := q.TryNext(ctx)
		if err != nil || ok {
			return m, err
		}
		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Len returns the number of waiting messages.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.rdb.ZCard(ctx, q.key).Result()
}
