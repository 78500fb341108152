package redis

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"admin-auth-service/internal/client"
	"admin-auth-service/internal/lockout"
	"admin-auth-service/internal/models"
	"admin-auth-service/internal/ratelimit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeCounter struct {
	mu     sync.Mutex
	values map[string]int64
	ttls   map[string]time.Duration
	err    error
}

func newFakeCounter() *fakeCounter {
	return &fakeCounter{values: map[string]int64{}, ttls: map[string]time.Duration{}}
}

func (f *fakeCounter) IncrWithExpire(_ context.Context, key string, ttl time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.values[key]++
	f.ttls[key] = ttl
	return f.values[key], nil
}

func (f *fakeCounter) Incr(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.values[key]++
	return f.values[key], nil
}

func (f *fakeCounter) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	v, ok := f.values[key]
	if !ok {
		return "", client.ErrKeyNotFound
	}
	return strconv.FormatInt(v, 10), nil
}

func (f *fakeCounter) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, k := range keys {
		delete(f.values, k)
	}
	return nil
}

type eventLog struct {
	mu     sync.Mutex
	events []models.SecurityEvent
}

func (e *eventLog) Record(_ context.Context, ev models.SecurityEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *eventLog) actions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.Action)
	}
	return out
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestRateLimitCacheWindow(t *testing.T) {
	ctx := context.Background()
	counter := newFakeCounter()
	events := &eventLog{}
	clk := &clock{t: time.Date(2026, 1, 1, 10, 0, 5, 0, time.UTC)}
	cfg := ratelimit.Config{Window: time.Minute, Now: clk.now}
	cache := NewRateLimitCache(counter, ratelimit.New(events, cfg, zap.NewNop()), events, cfg, zap.NewNop())

	for i := 0; i < 5; i++ {
		assert.True(t, cache.Allow(ctx, "ops@surf.example", "login", 5), "attempt %d", i+1)
	}
	assert.False(t, cache.Allow(ctx, "ops@surf.example", "login", 5))
	assert.Equal(t, []string{"rate_limit_exceeded"}, events.actions())

	for k, ttl := range counter.ttls {
		assert.Contains(t, k, rateLimitPrefix)
		assert.Equal(t, 2*time.Minute, ttl)
	}

	clk.t = clk.t.Add(time.Minute)
	assert.True(t, cache.Allow(ctx, "ops@surf.example", "login", 5))
}

func TestRateLimitCacheFallsBack(t *testing.T) {
	ctx := context.Background()
	counter := newFakeCounter()
	counter.err = errors.New("connection refused")
	events := &eventLog{}
	cfg := ratelimit.Config{Window: time.Minute}
	local := ratelimit.New(events, cfg, zap.NewNop())
	cache := NewRateLimitCache(counter, local, events, cfg, zap.NewNop())

	assert.True(t, cache.Allow(ctx, "ops@surf.example", "login", 1))
	assert.False(t, cache.Allow(ctx, "ops@surf.example", "login", 1))
	assert.Equal(t, 1, local.Len())
}

func TestLockoutCache(t *testing.T) {
	ctx := context.Background()
	counter := newFakeCounter()
	cache := NewLockoutCache(counter, lockout.New(), zap.NewNop())

	assert.False(t, cache.IsLockedOut(ctx, "ops@surf.example", 3))
	assert.Equal(t, 1, cache.RecordFailure(ctx, "ops@surf.example"))
	assert.Equal(t, 2, cache.RecordFailure(ctx, "ops@surf.example"))
	assert.False(t, cache.IsLockedOut(ctx, "ops@surf.example", 3))
	assert.Equal(t, 3, cache.RecordFailure(ctx, "ops@surf.example"))
	assert.True(t, cache.IsLockedOut(ctx, "ops@surf.example", 3))
	assert.True(t, cache.IsLockedOut(ctx, "ops@surf.example", 0))

	cache.Reset(ctx, "ops@surf.example")
	assert.False(t, cache.IsLockedOut(ctx, "ops@surf.example", 3))
}

func TestLockoutCacheFallsBack(t *testing.T) {
	ctx := context.Background()
	counter := newFakeCounter()
	local := lockout.New()
	cache := NewLockoutCache(counter, local, zap.NewNop())

	counter.err = errors.New("timeout")
	for i := 0; i < 3; i++ {
		cache.RecordFailure(ctx, "ops@surf.example")
	}
	assert.Equal(t, 3, local.Count("ops@surf.example"))
	assert.True(t, cache.IsLockedOut(ctx, "ops@surf.example", 3))

	// local failures still count after Redis comes back
	counter.err = nil
	assert.True(t, cache.IsLockedOut(ctx, "ops@surf.example", 3))

	cache.Reset(ctx, "ops@surf.example")
	assert.Zero(t, local.Count("ops@surf.example"))
	require.False(t, cache.IsLockedOut(ctx, "ops@surf.example", 3))
}

func TestLockoutCacheSumsSplitFailures(t *testing.T) {
	ctx := context.Background()
	counter := newFakeCounter()
	local := lockout.New()
	cache := NewLockoutCache(counter, local, zap.NewNop())

	cache.RecordFailure(ctx, "ops@surf.example")
	cache.RecordFailure(ctx, "ops@surf.example")

	counter.err = errors.New("connection reset")
	assert.Equal(t, 1, cache.RecordFailure(ctx, "ops@surf.example"))
	counter.err = nil

	assert.True(t, cache.IsLockedOut(ctx, "ops@surf.example", 3), "2 shared + 1 local failures reach the limit")
	assert.Equal(t, 4, cache.RecordFailure(ctx, "ops@surf.example"))

	cache.Reset(ctx, "ops@surf.example")
	assert.False(t, cache.IsLockedOut(ctx, "ops@surf.example", 3))
}

func TestLockoutCacheCorruptCounterLocks(t *testing.T) {
	counter := newFakeCounter()
	cache := NewLockoutCache(badValue{counter}, lockout.New(), zap.NewNop())
	assert.True(t, cache.IsLockedOut(context.Background(), "ops@surf.example", 3))
}

type badValue struct{ *fakeCounter }

func (badValue) Get(context.Context, string) (string, error) { return "not-a-number", nil }
