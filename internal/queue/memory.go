package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kossrlive/isignin/internal/domain"
)

const memoryQueueDepth = 1024

// MemoryQueue is an in-process queue for local development and tests.
// Delayed jobs ride timers; nothing survives a restart.
type MemoryQueue struct {
	clock domain.Clock
	ready chan Job

	mu     sync.Mutex
	dead   []DeadJob
	timers []*time.Timer
	closed bool
}

// NewMemoryQueue creates an in-memory queue.
func NewMemoryQueue(clock domain.Clock) *MemoryQueue {
	return &MemoryQueue{
		clock: clock,
		ready: make(chan Job, memoryQueueDepth),
	}
}

// Close cancels pending redelivery timers.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for _, t := range q.timers {
		t.Stop()
	}
	q.timers = nil
	return nil
}

func (q *MemoryQueue) Enqueue(_ context.Context, job Job) error {
	if job.Attempt == 0 {
		job.Attempt = 1
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = q.clock.Now().UTC()
	}
	select {
	case q.ready <- job:
		return nil
	default:
		return fmt.Errorf("queue full: %w", domain.ErrStoreUnavailable)
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (Job, error) {
	select {
	case <-ctx.Done():
		return Job{}, ctx.Err()
	case job := <-q.ready:
		return job, nil
	}
}

func (q *MemoryQueue) Retry(_ context.Context, job Job, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("queue closed: %w", domain.ErrStoreUnavailable)
	}
	t := time.AfterFunc(delay, func() {
		select {
		case q.ready <- job:
		default:
		}
	})
	q.timers = append(q.timers, t)
	return nil
}

func (q *MemoryQueue) DeadLetter(_ context.Context, job Job, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append([]DeadJob{{Job: job, Reason: reason, At: q.clock.Now().UTC()}}, q.dead...)
	if len(q.dead) > deadListCap {
		q.dead = q.dead[:deadListCap]
	}
	return nil
}

func (q *MemoryQueue) DeadLetters(_ context.Context, limit int) ([]DeadJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if limit <= 0 || limit > len(q.dead) {
		limit = len(q.dead)
	}
	out := make([]DeadJob, limit)
	copy(out, q.dead[:limit])
	return out, nil
}

var _ Queue = (*MemoryQueue)(nil)
