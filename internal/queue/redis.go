package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kossrlive/isignin/internal/domain"
	redisclient "github.com/kossrlive/isignin/internal/redis"
)

const (
	readyList   = "sms:jobs:ready"
	delayedZSet = "sms:jobs:delayed"
	deadList    = "sms:jobs:dead"

	deadListCap = 1000

	// dequeuePoll bounds each BRPOP so Dequeue notices ctx cancellation.
	dequeuePoll = 1 * time.Second
	// pumpInterval is how often due delayed jobs are promoted.
	pumpInterval = 500 * time.Millisecond
)

// RedisQueue is a durable FIFO on Redis: an LPUSH/BRPOP ready list, a
// sorted set of delayed jobs scored by their ready time, and a capped
// dead-letter list. Jobs survive process restarts.
type RedisQueue struct {
	client *redisclient.Client
	clock  domain.Clock

	pumpStop chan struct{}
	pumpDone chan struct{}
	pumpOnce sync.Once
	stopOnce sync.Once
}

// NewRedisQueue creates a Redis-backed queue.
func NewRedisQueue(client *redisclient.Client, clock domain.Clock) *RedisQueue {
	return &RedisQueue{
		client:   client,
		clock:    clock,
		pumpStop: make(chan struct{}),
		pumpDone: make(chan struct{}),
	}
}

// StartPump launches the goroutine that promotes due delayed jobs onto the
// ready list. Call Close to stop it.
func (q *RedisQueue) StartPump() {
	q.pumpOnce.Do(func() {
		go q.pump()
	})
}

// Close stops the pump. Queued jobs stay in Redis.
func (q *RedisQueue) Close() error {
	q.stopOnce.Do(func() { close(q.pumpStop) })
	select {
	case <-q.pumpDone:
	case <-time.After(2 * pumpInterval):
	}
	return nil
}

func (q *RedisQueue) pump() {
	defer close(q.pumpDone)
	ticker := time.NewTicker(pumpInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.pumpStop:
			return
		case <-ticker.C:
			q.promoteDue(context.Background())
		}
	}
}

// promoteDue moves every delayed job whose ready time has passed onto the
// ready list.
func (q *RedisQueue) promoteDue(ctx context.Context) {
	now := strconv.FormatInt(q.clock.Now().UnixMilli(), 10)
	due, err := q.client.RDB.ZRangeByScore(ctx, delayedZSet, &goredis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil || len(due) == 0 {
		return
	}
	for _, raw := range due {
		if removed, err := q.client.RDB.ZRem(ctx, delayedZSet, raw).Result(); err != nil || removed == 0 {
			// Another pump instance claimed it.
			continue
		}
		_ = q.client.RDB.LPush(ctx, readyList, raw).Err()
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	if job.Attempt == 0 {
		job.Attempt = 1
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = q.clock.Now().UTC()
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := q.client.RDB.LPush(ctx, readyList, raw).Err(); err != nil {
		return fmt.Errorf("enqueue job %s: %v: %w", job.ID, err, domain.ErrStoreUnavailable)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (Job, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Job{}, err
		}
		res, err := q.client.RDB.BRPop(ctx, dequeuePoll, readyList).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Job{}, ctx.Err()
			}
			return Job{}, fmt.Errorf("dequeue: %v: %w", err, domain.ErrStoreUnavailable)
		}
		// BRPop returns [list, value].
		var job Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			return Job{}, fmt.Errorf("decode job: %w", err)
		}
		return job, nil
	}
}

func (q *RedisQueue) Retry(ctx context.Context, job Job, delay time.Duration) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	readyAt := q.clock.Now().Add(delay).UnixMilli()
	err = q.client.RDB.ZAdd(ctx, delayedZSet, goredis.Z{
		Score:  float64(readyAt),
		Member: raw,
	}).Err()
	if err != nil {
		return fmt.Errorf("schedule retry for job %s: %v: %w", job.ID, err, domain.ErrStoreUnavailable)
	}
	return nil
}

func (q *RedisQueue) DeadLetter(ctx context.Context, job Job, reason string) error {
	raw, err := json.Marshal(DeadJob{Job: job, Reason: reason, At: q.clock.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode dead job: %w", err)
	}
	pipe := q.client.RDB.TxPipeline()
	pipe.LPush(ctx, deadList, raw)
	pipe.LTrim(ctx, deadList, 0, deadListCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("dead-letter job %s: %v: %w", job.ID, err, domain.ErrStoreUnavailable)
	}
	return nil
}

func (q *RedisQueue) DeadLetters(ctx context.Context, limit int) ([]DeadJob, error) {
	if limit <= 0 || limit > deadListCap {
		limit = deadListCap
	}
	raws, err := q.client.RDB.LRange(ctx, deadList, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read dead letters: %v: %w", err, domain.ErrStoreUnavailable)
	}
	jobs := make([]DeadJob, 0, len(raws))
	for _, raw := range raws {
		var dj DeadJob
		if err := json.Unmarshal([]byte(raw), &dj); err != nil {
			continue
		}
		jobs = append(jobs, dj)
	}
	return jobs, nil
}

var _ Queue = (*RedisQueue)(nil)
