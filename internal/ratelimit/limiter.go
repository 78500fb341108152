package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"time"

	"admin-auth-service/internal/audit"
	"admin-auth-service/internal/metrics"
	"admin-auth-service/internal/models"

	"go.uber.org/zap"
)

const (
	DefaultWindow = time.Minute
	// MinWindow is the resolution window starts are computed at.
	MinWindow = time.Millisecond
)

type Config struct {
	Window time.Duration
	Now    func() time.Time
}

// Limiter is a fixed-window counter keyed by identifier and action. The
// window is recomputed on every call, so correctness never depends on Sweep.
type Limiter struct {
	mu      sync.Mutex
	records map[string]*models.RateLimitRecord

	window   time.Duration
	now      func() time.Time
	recorder audit.Recorder
	logger   *zap.Logger
}

func New(recorder audit.Recorder, cfg Config, logger *zap.Logger) *Limiter {
	if cfg.Window < MinWindow {
		cfg.Window = DefaultWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		records:  make(map[string]*models.RateLimitRecord),
		window:   cfg.Window,
		now:      cfg.Now,
		recorder: recorder,
		logger:   logger,
	}
}

// Key joins identifier and action the way records are stored.
func Key(identifier, action string) string {
	return identifier + ":" + action
}

// WindowStart is floor(now/window)*window measured from the Unix epoch.
func WindowStart(now time.Time, window time.Duration) time.Time {
	w := window.Milliseconds()
	return time.UnixMilli(now.UnixMilli() / w * w).UTC()
}

// Allow counts one attempt and reports whether it fits within limit.
func (l *Limiter) Allow(ctx context.Context, identifier, action string, limit int) bool {
	key := Key(identifier, action)
	window := WindowStart(l.now(), l.window)

	l.mu.Lock()
	rec, ok := l.records[key]
	var allowed bool
	var count int
	switch {
	case !ok:
		l.records[key] = &models.RateLimitRecord{Key: key, Count: 1, WindowStart: window}
		allowed = true
	case !rec.WindowStart.Equal(window):
		rec.Count = 1
		rec.WindowStart = window
		allowed = true
	case rec.Count < limit:
		rec.Count++
		allowed = true
	default:
		count = rec.Count
	}
	l.mu.Unlock()

	if !allowed {
		RecordDenied(ctx, l.recorder, identifier, action, limit, count)
	}
	return allowed
}

// RecordDenied emits the medium-severity event for a denied attempt.
func RecordDenied(ctx context.Context, recorder audit.Recorder, identifier, action string, limit, count int) {
	metrics.IncRateLimitDenied(action)
	if recorder == nil {
		return
	}
	recorder.Record(ctx, models.SecurityEvent{
		Action:   "rate_limit_exceeded",
		Resource: "rate_limit",
		Severity: models.SeverityMedium,
		Details: map[string]string{
			"identifier": identifier,
			"action":     action,
			"limit":      strconv.Itoa(limit),
			"count":      strconv.Itoa(count),
		},
	})
}

// Sweep drops records whose window is older than the previous one.
func (l *Limiter) Sweep() int {
	cutoff := WindowStart(l.now(), l.window).Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, rec := range l.records {
		if rec.WindowStart.Before(cutoff) {
			delete(l.records, key)
			removed++
		}
	}
	if removed > 0 {
		l.logger.Debug("rate limit records swept", zap.Int("removed", removed), zap.Int("remaining", len(l.records)))
	}
	return removed
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Get returns a copy of the record for identifier and action.
func (l *Limiter) Get(identifier, action string) (models.RateLimitRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[Key(identifier, action)]
	if !ok {
		return models.RateLimitRecord{}, false
	}
	return *rec, true
}
