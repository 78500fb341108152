package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"admin-auth-service/internal/audit"
	"admin-auth-service/internal/models"
	"admin-auth-service/internal/permission"

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

func newStore(t *testing.T) (*Store, *audit.Logger, *clock) {
	t.Helper()
	c := &clock{now: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
	auditLog := audit.NewLogger(nil, nil, audit.Config{ChainKey: []byte("k"), Now: c.Now}, zaptest.NewLogger(t))
	return NewStore(auditLog, Config{Now: c.Now}, zaptest.NewLogger(t)), auditLog, c
}

func actions(l *audit.Logger) []string {
	page := l.Query(audit.Filter{Limit: audit.MaxQueryLimit})
	out := make([]string, 0, len(page.Events))
	for i := len(page.Events) - 1; i >= 0; i-- {
		out = append(out, page.Events[i].Action)
	}
	return out
}

func TestCreateThenValid(t *testing.T) {
	s, auditLog, _ := newStore(t)

	sess := s.Create(context.Background(), "admin-1", permission.RoleAdmin, "10.0.0.1", WithMFAVerified())

	assert.True(t, s.IsValid("admin-1"))
	assert.NotEmpty(t, sess.SessionID)
	assert.True(t, sess.MFAVerified)
	assert.Equal(t, DefaultTimeout, sess.Timeout)
	assert.Equal(t, []string{"session_created"}, actions(auditLog))
	assert.Equal(t, models.SeverityLow, auditLog.Query(audit.Filter{}).Events[0].Severity)
}

func TestExpiresWithoutTouch(t *testing.T) {
	s, auditLog, c := newStore(t)
	ctx := context.Background()
	s.Create(ctx, "admin-1", permission.RoleAdmin, "")

	c.Advance(DefaultTimeout)
	assert.False(t, s.IsValid("admin-1"))
	assert.Equal(t, 1, s.Count(), "IsValid does not mutate")

	assert.False(t, s.Touch(ctx, "admin-1"))
	assert.Equal(t, 0, s.Count())
	assert.Equal(t, []string{"session_created", "session_expired"}, actions(auditLog))
	assert.False(t, s.Touch(ctx, "admin-1"))
}

func TestTouchExtendsValidity(t *testing.T) {
	s, _, c := newStore(t)
	ctx := context.Background()
	s.Create(ctx, "admin-1", permission.RoleModerator, "")

	c.Advance(DefaultTimeout * 9 / 10)
	require.True(t, s.Touch(ctx, "admin-1"))

	c.Advance(DefaultTimeout * 6 / 10)
	assert.True(t, s.IsValid("admin-1"))
}

func TestTouchSessionRequiresCurrentID(t *testing.T) {
	s, _, c := newStore(t)
	ctx := context.Background()

	first := s.Create(ctx, "admin-1", permission.RoleAdmin, "10.0.0.1")
	second := s.Create(ctx, "admin-1", permission.RoleAdmin, "10.0.0.2")
	c.Advance(time.Minute)

	_, ok := s.TouchSession(ctx, "admin-1", first.SessionID)
	assert.False(t, ok)
	got, ok := s.Get("admin-1")
	require.True(t, ok)
	assert.Equal(t, second.LastActivityAt, got.LastActivityAt, "stale id must not refresh the replacement")

	touched, ok := s.TouchSession(ctx, "admin-1", second.SessionID)
	require.True(t, ok)
	assert.Equal(t, second.SessionID, touched.SessionID)
	assert.Equal(t, c.Now(), touched.LastActivityAt)
	assert.Equal(t, "10.0.0.2", touched.SourceAddress)

	_, ok = s.TouchSession(ctx, "admin-1", "")
	assert.False(t, ok)
	_, ok = s.TouchSession(ctx, "nobody", second.SessionID)
	assert.False(t, ok)
}

func TestSensitiveTimeout(t *testing.T) {
	s, _, c := newStore(t)
	sess := s.Create(context.Background(), "break-glass", permission.RoleAdmin, "", WithSensitive())
	assert.Equal(t, DefaultSensitiveTimeout, sess.Timeout)

	c.Advance(DefaultSensitiveTimeout - time.Second)
	assert.True(t, s.IsValid("break-glass"))
	c.Advance(time.Second)
	assert.False(t, s.IsValid("break-glass"))
}

func TestCreateOverwrites(t *testing.T) {
	s, auditLog, _ := newStore(t)
	ctx := context.Background()

	first := s.Create(ctx, "admin-1", permission.RoleAdmin, "10.0.0.1")
	second := s.Create(ctx, "admin-1", permission.RoleAdmin, "10.0.0.2")

	assert.NotEqual(t, first.SessionID, second.SessionID)
	got, ok := s.Get("admin-1")
	require.True(t, ok)
	assert.Equal(t, second.SessionID, got.SessionID)
	assert.Equal(t, "10.0.0.2", got.SourceAddress)
	assert.Equal(t, 1, s.Count())
	assert.Equal(t, "true", auditLog.Query(audit.Filter{}).Events[0].Details["replaced"])
}

func TestInvalidate(t *testing.T) {
	s, auditLog, _ := newStore(t)
	ctx := context.Background()
	s.Create(ctx, "admin-1", permission.RoleAdmin, "")

	s.Invalidate(ctx, "admin-1")

	assert.False(t, s.IsValid("admin-1"))
	assert.False(t, s.Touch(ctx, "admin-1"))
	assert.Equal(t, []string{"session_created", "session_invalidated"}, actions(auditLog))
}

func TestSweepExpired(t *testing.T) {
	s, auditLog, c := newStore(t)
	ctx := context.Background()
	s.Create(ctx, "old-1", permission.RoleAdmin, "")
	s.Create(ctx, "old-2", permission.RoleModerator, "")
	c.Advance(50 * time.Minute)
	s.Create(ctx, "fresh", permission.RoleAdmin, "")
	c.Advance(15 * time.Minute)

	assert.Equal(t, 2, s.SweepExpired(ctx))
	assert.Equal(t, 1, s.Count())
	assert.True(t, s.IsValid("fresh"))

	expired := 0
	for _, a := range actions(auditLog) {
		if a == "session_expired" {
			expired++
		}
	}
	assert.Equal(t, 2, expired)
	assert.Equal(t, 0, s.SweepExpired(ctx))
}

func TestGetReturnsCopy(t *testing.T) {
	s, _, _ := newStore(t)
	s.Create(context.Background(), "admin-1", permission.RoleAdmin, "")

	got, _ := s.Get("admin-1")
	got.Role = permission.RoleUser

	again, _ := s.Get("admin-1")
	assert.Equal(t, permission.RoleAdmin, again.Role)
}
