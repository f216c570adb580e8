package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kossrlive/isignin/internal/domain"
	"github.com/kossrlive/isignin/internal/domain/domaintest"
	"github.com/kossrlive/isignin/internal/store"
)

func newMemory(t *testing.T) (*store.Memory, *domaintest.FakeClock) {
	t.Helper()
	clock := domaintest.NewFakeClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	mem := store.NewMemory(clock)
	t.Cleanup(func() { _ = mem.Close() })
	return mem, clock
}

func TestMemorySetGet(t *testing.T) {
	mem, clock := newMemory(t)
	ctx := context.Background()

	require.NoError(t, mem.Set(ctx, "k", "v", time.Minute))

	val, err := mem.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)

	t.Run("expired entries are not observable", func(t *testing.T) {
		clock.Advance(time.Minute + time.Second)
		_, err := mem.Get(ctx, "k")
		assert.ErrorIs(t, err, domain.ErrKeyNotFound)

		exists, err := mem.Exists(ctx, "k")
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestMemorySetNX(t *testing.T) {
	mem, clock := newMemory(t)
	ctx := context.Background()

	ok, err := mem.SetNX(ctx, "k", "first", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = mem.SetNX(ctx, "k", "second", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	val, err := mem.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "first", val)

	t.Run("wins again after expiry", func(t *testing.T) {
		clock.Advance(2 * time.Minute)
		ok, err := mem.SetNX(ctx, "k", "third", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestMemoryIncr(t *testing.T) {
	mem, _ := newMemory(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := mem.Incr(ctx, "counter")
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
}

func TestMemoryPTTL(t *testing.T) {
	mem, clock := newMemory(t)
	ctx := context.Background()

	require.NoError(t, mem.Set(ctx, "k", "v", time.Minute))

	ttl, err := mem.PTTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)

	clock.Advance(30 * time.Second)
	ttl, err = mem.PTTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, ttl)

	_, err = mem.PTTL(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)

	t.Run("no expiry reports zero", func(t *testing.T) {
		require.NoError(t, mem.Set(ctx, "forever", "v", 0))
		ttl, err := mem.PTTL(ctx, "forever")
		require.NoError(t, err)
		assert.Zero(t, ttl)
	})
}

func TestMemoryExpire(t *testing.T) {
	mem, clock := newMemory(t)
	ctx := context.Background()

	require.NoError(t, mem.Set(ctx, "k", "v", 0))
	require.NoError(t, mem.Expire(ctx, "k", time.Second))

	clock.Advance(2 * time.Second)
	_, err := mem.Get(ctx, "k")
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)

	// Expire on a missing key is a no-op.
	assert.NoError(t, mem.Expire(ctx, "missing", time.Second))
}

func TestMemoryDel(t *testing.T) {
	mem, _ := newMemory(t)
	ctx := context.Background()

	require.NoError(t, mem.Set(ctx, "a", "1", 0))
	require.NoError(t, mem.Set(ctx, "b", "2", 0))
	require.NoError(t, mem.Del(ctx, "a", "b", "missing"))

	_, err := mem.Get(ctx, "a")
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)
}

func TestMemoryPubSub(t *testing.T) {
	mem, _ := newMemory(t)
	ctx := context.Background()

	sub, err := mem.Subscribe(ctx, "dlr:msg-1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	require.NoError(t, mem.Publish(ctx, "dlr:msg-1", "delivered"))
	require.NoError(t, mem.Publish(ctx, "dlr:other", "ignored"))

	select {
	case msg := <-sub.Messages():
		assert.Equal(t, "delivered", msg)
	case <-time.After(time.Second):
		t.Fatal("expected a published message")
	}

	select {
	case msg := <-sub.Messages():
		t.Fatalf("unexpected message %q", msg)
	default:
	}
}
