package worker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueues_FIFO(t *testing.T) {
	queues := map[string]func(t *testing.T) Queue{
		"memory": func(t *testing.T) Queue {
			return NewMemoryQueue(8, 50*time.Millisecond)
		},
		"redis": func(t *testing.T) Queue {
			mr := miniredis.RunT(t)
			return NewRedisQueue(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "index_task", time.Second, true)
		},
	}

	for name, newQueue := range queues {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			q := newQueue(t)
			defer q.Close()

			// Given two tasks pushed in order
			require.NoError(t, Enqueue(ctx, q, Task{Op: OpUpdate, RepoID: "r1"}))
			require.NoError(t, Enqueue(ctx, q, Task{Op: OpRebuild, RepoID: "r2", CommitID: "c2"}))

			// Then they come out in the same order
			msg, ok, err := q.Pop(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "update-index\tr1\t", msg)

			msg, ok, err = q.Pop(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "rebuild-index\tr2\tc2", msg)

			// And an empty queue times out without error
			_, ok, err = q.Pop(ctx)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestEnqueue_RejectsInvalidTask(t *testing.T) {
	q := NewMemoryQueue(1, time.Millisecond)
	err := Enqueue(context.Background(), q, Task{Op: "bogus", RepoID: "r1"})
	require.Error(t, err)
	assert.Zero(t, q.Len())
}

func TestRedisQueue_ProducerWireFormat(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	q := NewRedisQueue(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "", time.Second, true)
	defer q.Close()
	assert.Equal(t, DefaultQueueName, q.Name())

	// Given a message pushed by another producer straight onto the list
	_, err := mr.Lpush(DefaultQueueName, "update-index\tr9\tdeadbeef")
	require.NoError(t, err)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	msg, ok, err := q.Pop(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	task, err := ParseTask(msg)
	require.NoError(t, err)
	assert.Equal(t, Task{Op: OpUpdate, RepoID: "r9", CommitID: "deadbeef"}, task)
}

func TestRedisQueue_PopUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	q := NewRedisQueue(redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1}), "", time.Second, true)
	defer q.Close()
	mr.Close()

	_, _, err := q.Pop(context.Background())
	require.Error(t, err)
}

func TestQueueName(t *testing.T) {
	assert.Equal(t, "index_task:content", QueueName(DefaultQueueName, "content"))
}
