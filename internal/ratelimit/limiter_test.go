package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"admin-auth-service/internal/audit"
	"admin-auth-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newLimiter(t *testing.T) (*Limiter, *audit.Logger, *clock) {
	t.Helper()
	c := &clock{now: time.Date(2026, 5, 4, 10, 0, 5, 0, time.UTC)}
	auditLog := audit.NewLogger(nil, nil, audit.Config{ChainKey: []byte("k")}, zaptest.NewLogger(t))
	return New(auditLog, Config{Now: c.Now}, zaptest.NewLogger(t)), auditLog, c
}

func TestAllowWithinWindow(t *testing.T) {
	l, auditLog, _ := newLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow(ctx, "a@x.com", "login", 5), "call %d", i+1)
	}
	assert.False(t, l.Allow(ctx, "a@x.com", "login", 5))

	page := auditLog.Query(audit.Filter{Severity: models.SeverityMedium})
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "rate_limit_exceeded", page.Events[0].Action)
	assert.Equal(t, "a@x.com", page.Events[0].Details["identifier"])
}

func TestAllowResetsAtWindowBoundary(t *testing.T) {
	l, _, c := newLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow(ctx, "ops@surf.example", "login", 3))
	}
	assert.False(t, l.Allow(ctx, "ops@surf.example", "login", 3))

	// 10:00:05 -> 10:01:00 crosses into the next window.
	c.Advance(55 * time.Second)
	assert.True(t, l.Allow(ctx, "ops@surf.example", "login", 3))

	rec, ok := l.Get("ops@surf.example", "login")
	require.True(t, ok)
	assert.Equal(t, 1, rec.Count)
	assert.Equal(t, time.Date(2026, 5, 4, 10, 1, 0, 0, time.UTC), rec.WindowStart)
}

func TestKeysAreIndependent(t *testing.T) {
	l, _, _ := newLimiter(t)
	ctx := context.Background()

	assert.True(t, l.Allow(ctx, "a@x.com", "login", 1))
	assert.False(t, l.Allow(ctx, "a@x.com", "login", 1))
	assert.True(t, l.Allow(ctx, "a@x.com", "emergency", 1))
	assert.True(t, l.Allow(ctx, "b@x.com", "login", 1))
}

func TestConcurrentAllowNoLostUpdates(t *testing.T) {
	l, _, _ := newLimiter(t)
	ctx := context.Background()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow(ctx, "race@x.com", "login", 10) {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), allowed.Load())
}

func TestSweepEvictsOldWindows(t *testing.T) {
	l, _, c := newLimiter(t)
	ctx := context.Background()

	l.Allow(ctx, "old@x.com", "login", 5)
	c.Advance(time.Minute)
	l.Allow(ctx, "recent@x.com", "login", 5)

	assert.Equal(t, 0, l.Sweep(), "previous window is kept")

	c.Advance(time.Minute)
	assert.Equal(t, 1, l.Sweep())
	assert.Equal(t, 1, l.Len())
	_, ok := l.Get("old@x.com", "login")
	assert.False(t, ok)
}

func TestWindowStart(t *testing.T) {
	ts := time.Date(2026, 1, 1, 8, 30, 59, 999, time.UTC)
	assert.Equal(t, time.Date(2026, 1, 1, 8, 30, 0, 0, time.UTC), WindowStart(ts, time.Minute))
	assert.Equal(t, time.Date(2026, 1, 1, 8, 30, 0, 0, time.UTC), WindowStart(ts, 15*time.Minute))
}

func TestSubMillisecondWindowFallsBackToDefault(t *testing.T) {
	c := &clock{now: time.Date(2026, 5, 4, 10, 0, 5, 0, time.UTC)}
	auditLog := audit.NewLogger(nil, nil, audit.Config{ChainKey: []byte("k")}, zaptest.NewLogger(t))
	l := New(auditLog, Config{Window: 500 * time.Microsecond, Now: c.Now}, zaptest.NewLogger(t))

	require.NotPanics(t, func() { l.Allow(context.Background(), "ops@surf.example", "login", 1) })
	assert.False(t, l.Allow(context.Background(), "ops@surf.example", "login", 1))
}
