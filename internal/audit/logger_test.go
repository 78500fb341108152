package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"admin-auth-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type memorySink struct {
	mu     sync.Mutex
	events []models.SecurityEvent
	err    error
	delay  time.Duration
	panics bool
}

func (s *memorySink) Persist(ctx context.Context, ev models.SecurityEvent) error {
	if s.panics {
		panic("boom")
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *memorySink) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type recordingHook struct {
	mu     sync.Mutex
	events []models.SecurityEvent
	err    error
}

func (h *recordingHook) Notify(_ context.Context, ev models.SecurityEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	return h.err
}

func newTestLogger(t *testing.T, sink Sink, hook AlertHook, cfg Config) *Logger {
	t.Helper()
	if cfg.ChainKey == nil {
		cfg.ChainKey = []byte("0123456789abcdef0123456789abcdef")
	}
	return NewLogger(sink, hook, cfg, zaptest.NewLogger(t))
}

func event(action string, sev models.Severity) models.SecurityEvent {
	return models.SecurityEvent{Action: action, Resource: "auth", Severity: sev}
}

func TestRecordStampsAndChains(t *testing.T) {
	sink := &memorySink{}
	l := newTestLogger(t, sink, nil, Config{})

	for i := 0; i < 5; i++ {
		l.Record(context.Background(), event(fmt.Sprintf("action_%d", i), models.SeverityLow))
	}

	require.Equal(t, 5, sink.count())
	page := l.Query(Filter{})
	require.Len(t, page.Events, 5)

	newest := page.Events[0]
	assert.Equal(t, uint64(5), newest.Sequence)
	assert.NotEmpty(t, newest.ID)
	assert.False(t, newest.Timestamp.IsZero())
	assert.Equal(t, page.Events[1].Hash, newest.PrevHash)
	assert.Empty(t, page.Events[4].PrevHash)
	assert.NoError(t, l.VerifyChain())
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	l := newTestLogger(t, &memorySink{}, nil, Config{})
	for i := 0; i < 3; i++ {
		l.Record(context.Background(), event("login_success", models.SeverityLow))
	}

	l.mu.Lock()
	l.journal[1].Severity = models.SeverityLow
	l.journal[1].Action = "nothing_happened"
	l.mu.Unlock()

	err := l.VerifyChain()
	require.ErrorIs(t, err, ErrChainBroken)
	assert.Contains(t, err.Error(), "sequence 2")
}

func TestRecordedEventIsIsolatedFromCaller(t *testing.T) {
	l := newTestLogger(t, &memorySink{}, nil, Config{})
	details := map[string]string{"reason": "invalid_credentials"}
	ev := event("login_failed", models.SeverityMedium)
	ev.Details = details

	l.Record(context.Background(), ev)
	details["reason"] = "rewritten"

	assert.Equal(t, "invalid_credentials", l.Query(Filter{}).Events[0].Details["reason"])
	assert.NoError(t, l.VerifyChain())
}

func TestSinkFailureBuffersLocally(t *testing.T) {
	sink := &memorySink{err: errors.New("scylla unavailable")}
	l := newTestLogger(t, sink, nil, Config{})

	assert.NotPanics(t, func() {
		l.Record(context.Background(), event("login_failed", models.SeverityMedium))
		l.Record(context.Background(), event("login_failed", models.SeverityMedium))
	})
	assert.Equal(t, 2, l.Pending())
	assert.Equal(t, 2, l.Query(Filter{}).Total)

	sink.setErr(nil)
	assert.Equal(t, 2, l.Redeliver(context.Background()))
	assert.Equal(t, 0, l.Pending())
	assert.Equal(t, 2, sink.count())
}

func TestRedeliverKeepsStillFailingEvents(t *testing.T) {
	sink := &memorySink{err: errors.New("down")}
	l := newTestLogger(t, sink, nil, Config{})
	l.Record(context.Background(), event("a", models.SeverityLow))

	assert.Equal(t, 0, l.Redeliver(context.Background()))
	assert.Equal(t, 1, l.Pending())
}

func TestSlowSinkIsBounded(t *testing.T) {
	sink := &memorySink{delay: 500 * time.Millisecond}
	l := newTestLogger(t, sink, nil, Config{SinkTimeout: 20 * time.Millisecond})

	start := time.Now()
	l.Record(context.Background(), event("login_failed", models.SeverityMedium))

	assert.Less(t, time.Since(start), 400*time.Millisecond)
	assert.Equal(t, 1, l.Pending())
}

func TestPanickingSinkIsRecovered(t *testing.T) {
	l := newTestLogger(t, &memorySink{panics: true}, nil, Config{})

	assert.NotPanics(t, func() {
		l.Record(context.Background(), event("login_failed", models.SeverityMedium))
	})
	assert.Equal(t, 1, l.Pending())
}

func TestCancelledCallerStillPersists(t *testing.T) {
	sink := &memorySink{}
	l := newTestLogger(t, sink, nil, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l.Record(ctx, event("logout", models.SeverityLow))

	assert.Equal(t, 1, sink.count())
	assert.Equal(t, 0, l.Pending())
}

func TestCriticalEventInvokesAlertHook(t *testing.T) {
	hook := &recordingHook{}
	l := newTestLogger(t, &memorySink{}, hook, Config{})

	l.Record(context.Background(), event("login_success", models.SeverityLow))
	l.Record(context.Background(), event("emergency_access", models.SeverityCritical))

	require.Len(t, hook.events, 1)
	assert.Equal(t, "emergency_access", hook.events[0].Action)
}

func TestAlertHookFailureIsRecordedAtHigh(t *testing.T) {
	hook := &recordingHook{err: errors.New("kafka down")}
	l := newTestLogger(t, &memorySink{}, hook, Config{})

	l.Record(context.Background(), event("emergency_access", models.SeverityCritical))

	assert.Len(t, hook.events, 1, "hook must not be re-invoked for its own failure")
	high := l.Query(Filter{Severity: models.SeverityHigh})
	require.Equal(t, 1, high.Total)
	assert.Equal(t, "alert_hook_failed", high.Events[0].Action)
	assert.Equal(t, "kafka down", high.Events[0].Details["error"])
	assert.Equal(t, 1, l.Query(Filter{Severity: models.SeverityCritical}).Total)
}

func TestQueryFiltersAndPaginates(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	l := newTestLogger(t, &memorySink{}, nil, Config{Now: func() time.Time { return clock }})

	for i := 0; i < 7; i++ {
		ev := event(fmt.Sprintf("a%d", i), models.SeverityLow)
		if i%2 == 0 {
			ev.SubjectID = "admin-1"
			ev.Severity = models.SeverityHigh
		}
		l.Record(context.Background(), ev)
		clock = clock.Add(time.Minute)
	}

	page := l.Query(Filter{SubjectID: "admin-1", Limit: 3})
	assert.Equal(t, 4, page.Total)
	require.Len(t, page.Events, 3)
	assert.Equal(t, "a6", page.Events[0].Action)
	assert.Equal(t, 3, page.NextOffset)

	page = l.Query(Filter{SubjectID: "admin-1", Limit: 3, Offset: page.NextOffset})
	require.Len(t, page.Events, 1)
	assert.Equal(t, "a0", page.Events[0].Action)
	assert.Equal(t, -1, page.NextOffset)

	page = l.Query(Filter{Since: now.Add(5 * time.Minute)})
	assert.Equal(t, 2, page.Total)

	page = l.Query(Filter{Severity: models.SeverityLow})
	assert.Equal(t, 3, page.Total)

	page = l.Query(Filter{Limit: 10000})
	assert.Equal(t, 7, page.Total)
	assert.Equal(t, -1, page.NextOffset)
}

func TestJournalIsBounded(t *testing.T) {
	l := newTestLogger(t, &memorySink{}, nil, Config{JournalCapacity: 3})
	for i := 0; i < 10; i++ {
		l.Record(context.Background(), event(fmt.Sprintf("a%d", i), models.SeverityLow))
	}

	page := l.Query(Filter{})
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, uint64(10), page.Events[0].Sequence)
	assert.NoError(t, l.VerifyChain())
}

func TestStats(t *testing.T) {
	l := newTestLogger(t, &memorySink{}, nil, Config{})
	l.Record(context.Background(), event("a", models.SeverityLow))
	l.Record(context.Background(), event("b", models.SeverityLow))
	l.Record(context.Background(), event("c", models.Severity("bogus")))

	stats := l.Stats()
	assert.Equal(t, 2, stats[models.SeverityLow])
	assert.Equal(t, 1, stats[models.SeverityMedium])
}

func TestConcurrentRecordKeepsChainIntact(t *testing.T) {
	l := newTestLogger(t, &memorySink{}, nil, Config{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				l.Record(context.Background(), event("touch", models.SeverityLow))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 200, l.Query(Filter{}).Total)
	assert.NoError(t, l.VerifyChain())
}
