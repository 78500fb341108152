package session

import (
	"context"
	"strconv"
	"sync"
	"time"

	"admin-auth-service/internal/audit"
	"admin-auth-service/internal/metrics"
	"admin-auth-service/internal/models"
	"admin-auth-service/internal/permission"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultTimeout          = time.Hour
	DefaultSensitiveTimeout = 30 * time.Minute
)

type Config struct {
	Timeout          time.Duration
	SensitiveTimeout time.Duration
	Now              func() time.Time
}

// Store holds at most one session per subject. Validity is derived from
// LastActivityAt on every read.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*models.AdminSession

	cfg      Config
	recorder audit.Recorder
	logger   *zap.Logger
}

func NewStore(recorder audit.Recorder, cfg Config, logger *zap.Logger) *Store {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.SensitiveTimeout <= 0 {
		cfg.SensitiveTimeout = DefaultSensitiveTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		sessions: make(map[string]*models.AdminSession),
		cfg:      cfg,
		recorder: recorder,
		logger:   logger,
	}
}

type createOptions struct {
	mfaVerified bool
	sensitive   bool
	userAgent   string
}

type Option func(*createOptions)

func WithMFAVerified() Option {
	return func(o *createOptions) { o.mfaVerified = true }
}

// WithSensitive gives the session the shorter sensitive timeout.
func WithSensitive() Option {
	return func(o *createOptions) { o.sensitive = true }
}

func WithUserAgent(ua string) Option {
	return func(o *createOptions) { o.userAgent = ua }
}

// Create replaces any existing session for subjectID.
func (s *Store) Create(ctx context.Context, subjectID string, role permission.Role, sourceAddress string, opts ...Option) models.AdminSession {
	var o createOptions
	for _, opt := range opts {
		opt(&o)
	}

	timeout := s.cfg.Timeout
	if o.sensitive {
		timeout = s.cfg.SensitiveTimeout
	}
	now := s.cfg.Now().UTC()
	sess := &models.AdminSession{
		SessionID:      uuid.NewString(),
		SubjectID:      subjectID,
		Role:           role,
		MFAVerified:    o.mfaVerified,
		CreatedAt:      now,
		LastActivityAt: now,
		SourceAddress:  sourceAddress,
		Timeout:        timeout,
	}

	s.mu.Lock()
	_, replaced := s.sessions[subjectID]
	s.sessions[subjectID] = sess
	out := *sess
	count := len(s.sessions)
	s.mu.Unlock()

	metrics.SetActiveSessions(count)
	s.record(ctx, models.SecurityEvent{
		SubjectID:     subjectID,
		Action:        "session_created",
		Resource:      "session",
		Severity:      models.SeverityLow,
		SourceAddress: sourceAddress,
		UserAgent:     o.userAgent,
		Details: map[string]string{
			"session_id":   out.SessionID,
			"role":         string(role),
			"mfa_verified": strconv.FormatBool(o.mfaVerified),
			"timeout":      timeout.String(),
			"replaced":     strconv.FormatBool(replaced),
		},
	})
	return out
}

// Touch refreshes LastActivityAt. A missing or expired session yields false;
// an expired one is evicted.
func (s *Store) Touch(ctx context.Context, subjectID string) bool {
	_, ok := s.touch(ctx, subjectID, "")
	return ok
}

// TouchSession refreshes the subject's session only while sessionID is still
// the live one, and returns the refreshed copy.
func (s *Store) TouchSession(ctx context.Context, subjectID, sessionID string) (models.AdminSession, bool) {
	if sessionID == "" {
		return models.AdminSession{}, false
	}
	return s.touch(ctx, subjectID, sessionID)
}

// touch matches any session when sessionID is empty.
func (s *Store) touch(ctx context.Context, subjectID, sessionID string) (models.AdminSession, bool) {
	now := s.cfg.Now().UTC()

	s.mu.Lock()
	sess, ok := s.sessions[subjectID]
	if !ok {
		s.mu.Unlock()
		return models.AdminSession{}, false
	}
	if !sess.ValidAt(now) {
		expired := *sess
		delete(s.sessions, subjectID)
		count := len(s.sessions)
		s.mu.Unlock()

		metrics.SetActiveSessions(count)
		s.recordExpiry(ctx, expired, "touch")
		return models.AdminSession{}, false
	}
	if sessionID != "" && sess.SessionID != sessionID {
		s.mu.Unlock()
		return models.AdminSession{}, false
	}
	sess.LastActivityAt = now
	out := *sess
	s.mu.Unlock()
	return out, true
}

func (s *Store) IsValid(subjectID string) bool {
	_, ok := s.Get(subjectID)
	return ok
}

// Get returns a copy of the subject's session if it is still valid.
func (s *Store) Get(subjectID string) (models.AdminSession, bool) {
	now := s.cfg.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[subjectID]
	if !ok || !sess.ValidAt(now) {
		return models.AdminSession{}, false
	}
	return *sess, true
}

// Invalidate removes the subject's session.
func (s *Store) Invalidate(ctx context.Context, subjectID string) {
	s.mu.Lock()
	sess, existed := s.sessions[subjectID]
	var sessionID string
	if existed {
		sessionID = sess.SessionID
		delete(s.sessions, subjectID)
	}
	count := len(s.sessions)
	s.mu.Unlock()

	metrics.SetActiveSessions(count)
	s.record(ctx, models.SecurityEvent{
		SubjectID: subjectID,
		Action:    "session_invalidated",
		Resource:  "session",
		Severity:  models.SeverityLow,
		Details: map[string]string{
			"session_id": sessionID,
			"existed":    strconv.FormatBool(existed),
		},
	})
}

// SweepExpired evicts every expired session and returns how many it removed.
func (s *Store) SweepExpired(ctx context.Context) int {
	now := s.cfg.Now()

	s.mu.Lock()
	var expired []models.AdminSession
	for id, sess := range s.sessions {
		if !sess.ValidAt(now) {
			expired = append(expired, *sess)
			delete(s.sessions, id)
		}
	}
	count := len(s.sessions)
	s.mu.Unlock()

	metrics.SetActiveSessions(count)
	for _, sess := range expired {
		s.recordExpiry(ctx, sess, "sweep")
	}
	if len(expired) > 0 {
		s.logger.Info("expired sessions swept", zap.Int("removed", len(expired)), zap.Int("active", count))
	}
	return len(expired)
}

func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Store) recordExpiry(ctx context.Context, sess models.AdminSession, via string) {
	s.record(ctx, models.SecurityEvent{
		SubjectID:     sess.SubjectID,
		Action:        "session_expired",
		Resource:      "session",
		Severity:      models.SeverityLow,
		SourceAddress: sess.SourceAddress,
		Details: map[string]string{
			"session_id":       sess.SessionID,
			"last_activity_at": sess.LastActivityAt.Format(time.RFC3339),
			"evicted_by":       via,
		},
	})
}

func (s *Store) record(ctx context.Context, ev models.SecurityEvent) {
	if s.recorder != nil {
		s.recorder.Record(ctx, ev)
	}
}
