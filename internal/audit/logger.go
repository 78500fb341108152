package audit

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"admin-auth-service/internal/metrics"
	"admin-auth-service/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrChainBroken = errors.New("audit chain broken")
	ErrSinkTimeout = errors.New("audit sink timed out")
	ErrSinkPanic   = errors.New("audit sink panicked")
)

const (
	DefaultSinkTimeout      = 2 * time.Second
	DefaultAlertTimeout     = 2 * time.Second
	DefaultFallbackCapacity = 1024
	DefaultJournalCapacity  = 10000
	DefaultQueryLimit       = 50
	MaxQueryLimit           = 500
)

// Sink is a durable destination for security events.
type Sink interface {
	Persist(ctx context.Context, event models.SecurityEvent) error
}

// AlertHook is notified of critical events.
type AlertHook interface {
	Notify(ctx context.Context, event models.SecurityEvent) error
}

// Recorder is what the rest of the core depends on.
type Recorder interface {
	Record(ctx context.Context, event models.SecurityEvent)
}

type Config struct {
	// ChainKey signs the event chain. A random key is generated when empty,
	// which keeps the chain verifiable only for the life of the process.
	ChainKey         []byte
	SinkTimeout      time.Duration
	AlertTimeout     time.Duration
	FallbackCapacity int
	JournalCapacity  int
	Now              func() time.Time
}

// Logger records security events. Record never fails from the caller's point
// of view: sink problems divert the event to a local ring buffer.
type Logger struct {
	sink   Sink
	hook   AlertHook
	cfg    Config
	logger *zap.Logger

	mu       sync.RWMutex
	journal  []models.SecurityEvent
	sequence uint64
	lastHash string

	fallback *ring
}

func NewLogger(sink Sink, hook AlertHook, cfg Config, logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = NewLogSink(logger)
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = DefaultSinkTimeout
	}
	if cfg.AlertTimeout <= 0 {
		cfg.AlertTimeout = DefaultAlertTimeout
	}
	if cfg.FallbackCapacity <= 0 {
		cfg.FallbackCapacity = DefaultFallbackCapacity
	}
	if cfg.JournalCapacity <= 0 {
		cfg.JournalCapacity = DefaultJournalCapacity
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if len(cfg.ChainKey) == 0 {
		cfg.ChainKey = make([]byte, 32)
		if _, err := rand.Read(cfg.ChainKey); err != nil {
			panic("audit: failed to generate chain key: " + err.Error())
		}
		logger.Warn("audit chain key not configured, using ephemeral key")
	}

	return &Logger{
		sink:     sink,
		hook:     hook,
		cfg:      cfg,
		logger:   logger,
		fallback: newRing(cfg.FallbackCapacity),
	}
}

// Record stamps, chains and persists an event.
func (l *Logger) Record(ctx context.Context, event models.SecurityEvent) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("audit record panicked", zap.Any("panic", r))
		}
	}()

	stamped := l.append(event)
	metrics.IncAuditEvent(string(stamped.Severity))

	if err := l.persist(ctx, stamped); err != nil {
		l.fallback.push(stamped)
		metrics.IncAuditFallback()
		l.logger.Warn("audit sink failed, event buffered locally",
			zap.String("event_id", stamped.ID),
			zap.String("action", stamped.Action),
			zap.Uint64("sequence", stamped.Sequence),
			zap.Error(err),
		)
	}

	if stamped.Severity == models.SeverityCritical && l.hook != nil {
		if err := l.alert(ctx, stamped); err != nil {
			metrics.IncAlertFailure()
			// Recorded as high so a failing hook is never re-invoked.
			l.Record(ctx, models.SecurityEvent{
				SubjectID: stamped.SubjectID,
				Action:    "alert_hook_failed",
				Resource:  "audit",
				Severity:  models.SeverityHigh,
				Details: map[string]string{
					"event_id": stamped.ID,
					"action":   stamped.Action,
					"error":    err.Error(),
				},
				SourceAddress: stamped.SourceAddress,
			})
		}
	}
}

func (l *Logger) append(event models.SecurityEvent) models.SecurityEvent {
	event = event.Clone()
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.cfg.Now().UTC()
	}
	if !event.Severity.Valid() {
		event.Severity = models.SeverityMedium
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sequence++
	event.Sequence = l.sequence
	event.PrevHash = l.lastHash
	event.Hash = l.sign(event)
	l.lastHash = event.Hash

	l.journal = append(l.journal, event)
	if over := len(l.journal) - l.cfg.JournalCapacity; over > 0 {
		l.journal = l.journal[over:]
	}
	return event.Clone()
}

// persist runs the sink with a deadline detached from the caller's
// cancellation. A sink that ignores its context is abandoned at the deadline.
func (l *Logger) persist(ctx context.Context, event models.SecurityEvent) error {
	return l.bounded(ctx, l.cfg.SinkTimeout, func(ctx context.Context) error {
		return l.sink.Persist(ctx, event)
	})
}

func (l *Logger) alert(ctx context.Context, event models.SecurityEvent) error {
	return l.bounded(ctx, l.cfg.AlertTimeout, func(ctx context.Context) error {
		return l.hook.Notify(ctx, event)
	})
}

func (l *Logger) bounded(parent context.Context, timeout time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: %v", ErrSinkPanic, r)
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ErrSinkTimeout
	}
}

// Pending is the number of events waiting in the fallback buffer.
func (l *Logger) Pending() int {
	return l.fallback.len()
}

// Redeliver retries buffered events against the sink and returns how many
// were delivered. Events that fail again go back into the buffer.
func (l *Logger) Redeliver(ctx context.Context) int {
	events := l.fallback.drain()
	delivered := 0
	for i, ev := range events {
		if ctx.Err() != nil {
			for _, rest := range events[i:] {
				l.fallback.push(rest)
			}
			break
		}
		if err := l.persist(ctx, ev); err != nil {
			l.fallback.push(ev)
			continue
		}
		delivered++
	}
	if delivered > 0 {
		l.logger.Info("redelivered buffered audit events",
			zap.Int("delivered", delivered),
			zap.Int("pending", l.fallback.len()),
		)
	}
	return delivered
}

// VerifyChain recomputes every hash in the journal.
func (l *Logger) VerifyChain() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i, ev := range l.journal {
		if i > 0 && ev.PrevHash != l.journal[i-1].Hash {
			return fmt.Errorf("%w at sequence %d: previous hash mismatch", ErrChainBroken, ev.Sequence)
		}
		if !hmac.Equal([]byte(ev.Hash), []byte(l.sign(ev))) {
			return fmt.Errorf("%w at sequence %d: hash mismatch", ErrChainBroken, ev.Sequence)
		}
	}
	return nil
}

type chainPayload struct {
	Sequence      uint64            `json:"seq"`
	PrevHash      string            `json:"prev"`
	ID            string            `json:"id"`
	Timestamp     string            `json:"ts"`
	SubjectID     string            `json:"sub"`
	Action        string            `json:"act"`
	Resource      string            `json:"res"`
	Severity      string            `json:"sev"`
	Details       map[string]string `json:"det"`
	SourceAddress string            `json:"src"`
	UserAgent     string            `json:"ua"`
}

func (l *Logger) sign(ev models.SecurityEvent) string {
	// encoding/json writes map keys sorted, so the payload is canonical.
	payload, _ := json.Marshal(chainPayload{
		Sequence:      ev.Sequence,
		PrevHash:      ev.PrevHash,
		ID:            ev.ID,
		Timestamp:     ev.Timestamp.UTC().Format(time.RFC3339Nano),
		SubjectID:     ev.SubjectID,
		Action:        ev.Action,
		Resource:      ev.Resource,
		Severity:      string(ev.Severity),
		Details:       ev.Details,
		SourceAddress: ev.SourceAddress,
		UserAgent:     ev.UserAgent,
	})
	mac := hmac.New(sha256.New, l.cfg.ChainKey)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

type Filter struct {
	SubjectID string
	Severity  models.Severity
	Since     time.Time
	Limit     int
	Offset    int
}

type Page struct {
	Events     []models.SecurityEvent `json:"events"`
	Total      int                    `json:"total"`
	NextOffset int                    `json:"next_offset"`
}

// Query returns matching journal events, newest first.
func (l *Logger) Query(f Filter) Page {
	if f.Limit <= 0 {
		f.Limit = DefaultQueryLimit
	}
	if f.Limit > MaxQueryLimit {
		f.Limit = MaxQueryLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	l.mu.RLock()
	matched := make([]models.SecurityEvent, 0, f.Limit)
	total := 0
	for i := len(l.journal) - 1; i >= 0; i-- {
		ev := l.journal[i]
		if f.SubjectID != "" && ev.SubjectID != f.SubjectID {
			continue
		}
		if f.Severity != "" && ev.Severity != f.Severity {
			continue
		}
		if !f.Since.IsZero() && ev.Timestamp.Before(f.Since) {
			continue
		}
		if total >= f.Offset && len(matched) < f.Limit {
			matched = append(matched, ev.Clone())
		}
		total++
	}
	l.mu.RUnlock()

	next := f.Offset + len(matched)
	if next >= total {
		next = -1
	}
	return Page{Events: matched, Total: total, NextOffset: next}
}

// Stats is a per-severity count over the journal.
func (l *Logger) Stats() map[models.Severity]int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[models.Severity]int, 4)
	for _, ev := range l.journal {
		out[ev.Severity]++
	}
	return out
}
