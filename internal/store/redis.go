package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kossrlive/isignin/internal/domain"
	redisclient "github.com/kossrlive/isignin/internal/redis"
)

// Redis implements Store on a Redis server. All errors other than a missing
// key are surfaced as domain.ErrStoreUnavailable so callers can apply their
// best-effort / fatal policy without inspecting go-redis internals.
type Redis struct {
	client *redisclient.Client
}

// NewRedis creates a Redis-backed store.
func NewRedis(client *redisclient.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.RDB.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", domain.ErrKeyNotFound
	}
	if err != nil {
		return "", unavailable("get", key, err)
	}
	return val, nil
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.RDB.Set(ctx, key, value, ttl).Err(); err != nil {
		return unavailable("set", key, err)
	}
	return nil
}

func (r *Redis) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := r.client.RDB.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, unavailable("setnx", key, err)
	}
	return ok, nil
}

func (r *Redis) Incr(ctx context.Context, key string) (int64, error) {
	n, err := r.client.RDB.Incr(ctx, key).Result()
	if err != nil {
		return 0, unavailable("incr", key, err)
	}
	return n, nil
}

func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := r.client.RDB.Expire(ctx, key, ttl).Err(); err != nil {
		return unavailable("expire", key, err)
	}
	return nil
}

func (r *Redis) PTTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := r.client.RDB.PTTL(ctx, key).Result()
	if err != nil {
		return 0, unavailable("pttl", key, err)
	}
	// go-redis surfaces the raw -2 (missing) / -1 (no expiry) markers as
	// nanosecond durations.
	switch {
	case d == -2:
		return 0, domain.ErrKeyNotFound
	case d < 0:
		return 0, nil
	default:
		return d, nil
	}
}

func (r *Redis) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.RDB.Del(ctx, keys...).Err(); err != nil {
		return unavailable("del", keys[0], err)
	}
	return nil
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.RDB.Exists(ctx, key).Result()
	if err != nil {
		return false, unavailable("exists", key, err)
	}
	return n > 0, nil
}

func (r *Redis) Publish(ctx context.Context, channel, payload string) error {
	if err := r.client.RDB.Publish(ctx, channel, payload).Err(); err != nil {
		return unavailable("publish", channel, err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	pubsub := r.client.RDB.Subscribe(ctx, channel)
	// Force the subscription onto the wire before returning so a publish
	// immediately after Subscribe is not lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, unavailable("subscribe", channel, err)
	}

	out := make(chan string, 16)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			out <- msg.Payload
		}
	}()

	return &redisSub{pubsub: pubsub, ch: out}, nil
}

type redisSub struct {
	pubsub *goredis.PubSub
	ch     chan string
}

func (s *redisSub) Messages() <-chan string { return s.ch }
func (s *redisSub) Close() error            { return s.pubsub.Close() }

func unavailable(op, key string, err error) error {
	return fmt.Errorf("redis %s %q: %v: %w", op, key, err, domain.ErrStoreUnavailable)
}

var _ Store = (*Redis)(nil)
