package worker

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	rerrors "github.com/Aman-CERP/repoindex/internal/errors"
)

// Queue defaults.
const (
	DefaultQueueName  = "index_task"
	DefaultPopTimeout = 30 * time.Second
)

// QueueName returns the queue serving one index kind.
func QueueName(base, kind string) string {
	return base + ":" + kind
}

// Queue is a FIFO of raw task messages.
type Queue interface {
	// Push appends a message.
	Push(ctx context.Context, msg string) error

	// Pop waits up to the queue's timeout for a message. ok is false when
	// the wait timed out.
	Pop(ctx context.Context) (msg string, ok bool, err error)

	Close() error
}

// Enqueue encodes and pushes a task.
func Enqueue(ctx context.Context, q Queue, t Task) error {
	if err := t.Validate(); err != nil {
		return rerrors.New(rerrors.ErrCodeBadTask, err.Error(), nil)
	}
	return q.Push(ctx, t.Encode())
}

// RedisQueue is a Redis list: producers LPUSH, consumers BRPOP.
type RedisQueue struct {
	client  *redis.Client
	name    string
	timeout time.Duration
	owns    bool
}

var _ Queue = (*RedisQueue)(nil)

// NewRedisQueue uses the list name on client. When owns is true Close also
// closes the client.
func NewRedisQueue(client *redis.Client, name string, timeout time.Duration, owns bool) *RedisQueue {
	if name == "" {
		name = DefaultQueueName
	}
	if timeout <= 0 {
		timeout = DefaultPopTimeout
	}
	return &RedisQueue{client: client, name: name, timeout: timeout, owns: owns}
}

// Name returns the list name.
func (q *RedisQueue) Name() string {
	return q.name
}

func (q *RedisQueue) Push(ctx context.Context, msg string) error {
	if err := q.client.LPush(ctx, q.name, msg).Err(); err != nil {
		return rerrors.CoordinationError("push to "+q.name, err)
	}
	return nil
}

func (q *RedisQueue) Pop(ctx context.Context) (string, bool, error) {
	res, err := q.client.BRPop(ctx, q.timeout, q.name).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		return "", false, rerrors.CoordinationError("pop from "+q.name, err)
	}
	// BRPOP replies with the list name and the value.
	if len(res) != 2 {
		return "", false, rerrors.CoordinationError("unexpected BRPOP reply", nil)
	}
	return res[1], true, nil
}

// Len returns the number of queued messages.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.name).Result()
	if err != nil {
		return 0, rerrors.CoordinationError("length of "+q.name, err)
	}
	return n, nil
}

func (q *RedisQueue) Close() error {
	if q.owns {
		return q.client.Close()
	}
	return nil
}

// MemoryQueue is an in-process queue for tests and single-process setups.
type MemoryQueue struct {
	ch      chan string
	timeout time.Duration
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue creates a queue holding up to capacity messages.
func NewMemoryQueue(capacity int, timeout time.Duration) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	if timeout <= 0 {
		timeout = DefaultPopTimeout
	}
	return &MemoryQueue{ch: make(chan string, capacity), timeout: timeout}
}

func (q *MemoryQueue) Push(ctx context.Context, msg string) error {
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Pop(ctx context.Context) (string, bool, error) {
	timer := time.NewTimer(q.timeout)
	defer timer.Stop()
	select {
	case msg := <-q.ch:
		return msg, true, nil
	case <-timer.C:
		return "", false, nil
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

// Len returns the number of queued messages.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

func (q *MemoryQueue) Close() error { return nil }
