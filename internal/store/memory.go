package store

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/kossrlive/isignin/internal/domain"
)

// Memory is an in-process Store backed by a mutexed map. Expiry is checked
// lazily on access against the injected clock, and a background sweeper
// reclaims abandoned entries. Suitable for local development and tests;
// production deployments use the Redis implementation.
type Memory struct {
	clock domain.Clock

	mu      sync.Mutex
	entries map[string]memoryEntry

	subMu sync.Mutex
	subs  map[string][]*memorySub

	sweepStop chan struct{}
	sweepOnce sync.Once
}

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// NewMemory creates an in-memory store using the given clock.
func NewMemory(clock domain.Clock) *Memory {
	return &Memory{
		clock:     clock,
		entries:   make(map[string]memoryEntry),
		subs:      make(map[string][]*memorySub),
		sweepStop: make(chan struct{}),
	}
}

// StartSweeper launches the background expiry sweep. Tests that rely on a
// fake clock skip this and depend on lazy expiry instead.
func (m *Memory) StartSweeper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.sweepStop:
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

// Close stops the sweeper and closes all subscriptions.
func (m *Memory) Close() error {
	m.sweepOnce.Do(func() { close(m.sweepStop) })

	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, subs := range m.subs {
		for _, s := range subs {
			s.closeLocked()
		}
	}
	m.subs = make(map[string][]*memorySub)
	return nil
}

func (m *Memory) sweep() {
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(m.entries, k)
		}
	}
}

// live returns the entry at key if present and unexpired, deleting it when
// expired. Callers must hold m.mu.
func (m *Memory) live(key string) (memoryEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.IsZero() && !m.clock.Now().Before(e.expiresAt) {
		delete(m.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok {
		return "", domain.ErrKeyNotFound
	}
	return e.value, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{value: value, expiresAt: m.expiry(ttl)}
	return nil
}

func (m *Memory) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live(key); ok {
		return false, nil
	}
	m.entries[key] = memoryEntry{value: value, expiresAt: m.expiry(ttl)}
	return true, nil
}

func (m *Memory) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	e, ok := m.live(key)
	if ok {
		parsed, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, domain.ErrInvalidInput
		}
		n = parsed
	}
	n++
	m.entries[key] = memoryEntry{value: strconv.FormatInt(n, 10), expiresAt: e.expiresAt}
	return n, nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok {
		return nil
	}
	e.expiresAt = m.expiry(ttl)
	m.entries[key] = e
	return nil
}

func (m *Memory) PTTL(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok {
		return 0, domain.ErrKeyNotFound
	}
	if e.expiresAt.IsZero() {
		return 0, nil
	}
	return e.expiresAt.Sub(m.clock.Now()), nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.live(key)
	return ok, nil
}

func (m *Memory) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.clock.Now().Add(ttl)
}

// memorySub buffers published payloads. Slow subscribers drop messages
// rather than block publishers.
type memorySub struct {
	owner   *Memory
	channel string
	ch      chan string
	once    sync.Once
}

func (s *memorySub) Messages() <-chan string { return s.ch }

func (s *memorySub) Close() error {
	s.owner.subMu.Lock()
	defer s.owner.subMu.Unlock()
	subs := s.owner.subs[s.channel]
	for i, candidate := range subs {
		if candidate == s {
			s.owner.subs[s.channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	s.closeLocked()
	return nil
}

func (s *memorySub) closeLocked() {
	s.once.Do(func() { close(s.ch) })
}

func (m *Memory) Publish(_ context.Context, channel, payload string) error {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, s := range m.subs[channel] {
		select {
		case s.ch <- payload:
		default:
		}
	}
	return nil
}

func (m *Memory) Subscribe(_ context.Context, channel string) (Subscription, error) {
	s := &memorySub{owner: m, channel: channel, ch: make(chan string, 16)}
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.subs[channel] = append(m.subs[channel], s)
	return s, nil
}

var _ Store = (*Memory)(nil)
