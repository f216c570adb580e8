package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kossrlive/isignin/internal/domain"
	"github.com/kossrlive/isignin/internal/queue"
	redisclient "github.com/kossrlive/isignin/internal/redis"
)

func newRedisQueue(t *testing.T) *queue.RedisQueue {
	t.Helper()
	mr := miniredis.RunT(t)

	client, err := redisclient.NewClient(redisclient.Config{
		Addr:         mr.Addr(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
	require.NoError(t, err)

	q := queue.NewRedisQueue(client, domain.RealClock{})
	t.Cleanup(func() {
		_ = q.Close()
		require.NoError(t, client.Close())
	})
	return q
}

func TestRedisQueueFIFO(t *testing.T) {
	q := newRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, queue.Job{ID: "j1", Identity: "+15551111111", Message: "one"}))
	require.NoError(t, q.Enqueue(ctx, queue.Job{ID: "j2", Identity: "+15552222222", Message: "two"}))

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "j1", first.ID)
	assert.Equal(t, 1, first.Attempt, "enqueue initializes the attempt counter")
	assert.False(t, first.EnqueuedAt.IsZero())

	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "j2", second.ID)
}

func TestRedisQueueDequeueHonorsContext(t *testing.T) {
	q := newRedisQueue(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.Error(t, err)
}

func TestRedisQueueRetryDelaysRedelivery(t *testing.T) {
	q := newRedisQueue(t)
	q.StartPump()
	ctx := context.Background()

	job := queue.Job{ID: "j1", Identity: "+15551234567", Message: "hi", Attempt: 2}
	require.NoError(t, q.Retry(ctx, job, 200*time.Millisecond))

	// Not deliverable before the delay elapses.
	quick, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	_, err := q.Dequeue(quick)
	cancel()
	assert.Error(t, err)

	// Deliverable after the pump promotes it.
	slow, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	redelivered, err := q.Dequeue(slow)
	require.NoError(t, err)
	assert.Equal(t, "j1", redelivered.ID)
	assert.Equal(t, 2, redelivered.Attempt)
}

func TestRedisQueueDeadLetters(t *testing.T) {
	q := newRedisQueue(t)
	ctx := context.Background()

	job := queue.Job{ID: "j1", Identity: "+15551234567", Message: "hi", Attempt: 3}
	require.NoError(t, q.DeadLetter(ctx, job, "all providers failed"))

	dead, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "j1", dead[0].Job.ID)
	assert.Equal(t, "all providers failed", dead[0].Reason)
}

func TestMemoryQueueRoundTrip(t *testing.T) {
	q := queue.NewMemoryQueue(domain.RealClock{})
	t.Cleanup(func() { _ = q.Close() })
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, queue.Job{ID: "j1", Identity: "+15551234567", Message: "hi"}))

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "j1", job.ID)

	require.NoError(t, q.Retry(ctx, job, 50*time.Millisecond))

	slow, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	again, err := q.Dequeue(slow)
	require.NoError(t, err)
	assert.Equal(t, "j1", again.ID)
}
