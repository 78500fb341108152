package gateway

import (
	"context"
	"errors"
	"strconv"
	"time"

	"admin-auth-service/internal/audit"
	"admin-auth-service/internal/lockout"
	"admin-auth-service/internal/metrics"
	"admin-auth-service/internal/models"
	"admin-auth-service/internal/permission"
	"admin-auth-service/internal/session"
	"admin-auth-service/internal/util"

	"go.uber.org/zap"
)

const (
	ActionLogin     = "login"
	ActionEmergency = "emergency"

	DefaultLoginLimit      = 5
	DefaultEmergencyLimit  = 3
	DefaultVerifierTimeout = 3 * time.Second
)

var (
	ErrVerifierTimeout = errors.New("verifier timed out")
	ErrVerifierPanic   = errors.New("verifier panicked")
)

// CredentialVerifier checks a secret against the identity provider.
type CredentialVerifier interface {
	Verify(ctx context.Context, identifier, secret string) (bool, error)
}

// RoleStore resolves a subject's role. found is false for unknown subjects.
type RoleStore interface {
	GetRole(ctx context.Context, subjectID string) (role permission.Role, found bool, err error)
}

type MfaVerifier interface {
	Verify(ctx context.Context, subjectID, code string) (bool, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, identifier, action string, limit int) bool
}

type LockoutTracker interface {
	RecordFailure(ctx context.Context, identifier string) int
	IsLockedOut(ctx context.Context, identifier string, maxFailures int) bool
	Reset(ctx context.Context, identifier string)
}

type PermissionEvaluator interface {
	HasPermission(role permission.Role, resource permission.Resource, action permission.Action) bool
}

type SessionStore interface {
	Create(ctx context.Context, subjectID string, role permission.Role, sourceAddress string, opts ...session.Option) models.AdminSession
	Touch(ctx context.Context, subjectID string) bool
	TouchSession(ctx context.Context, subjectID, sessionID string) (models.AdminSession, bool)
	Get(subjectID string) (models.AdminSession, bool)
	Invalidate(ctx context.Context, subjectID string)
}

type Config struct {
	LoginLimit      int
	EmergencyLimit  int
	MaxFailures     int
	VerifierTimeout time.Duration
	// EmergencyCodeHash is a bcrypt hash. Empty disables break-glass access.
	EmergencyCodeHash []byte
	// KeyBySourceAddress appends the client address to the lockout and
	// rate-limit identifier.
	KeyBySourceAddress bool
}

type LoginRequest struct {
	Email         string
	Secret        string
	MFACode       string
	SourceAddress string
	UserAgent     string
}

type Gateway struct {
	credentials CredentialVerifier
	roles       RoleStore
	mfa         MfaVerifier
	limiter     RateLimiter
	lockouts    LockoutTracker
	permissions PermissionEvaluator
	sessions    SessionStore
	recorder    audit.Recorder
	cfg         Config
	logger      *zap.Logger
}

type Deps struct {
	Credentials CredentialVerifier
	Roles       RoleStore
	MFA         MfaVerifier
	Limiter     RateLimiter
	Lockouts    LockoutTracker
	Permissions PermissionEvaluator
	Sessions    SessionStore
	Recorder    audit.Recorder
}

func New(deps Deps, cfg Config, logger *zap.Logger) *Gateway {
	if cfg.LoginLimit <= 0 {
		cfg.LoginLimit = DefaultLoginLimit
	}
	if cfg.EmergencyLimit <= 0 {
		cfg.EmergencyLimit = DefaultEmergencyLimit
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = lockout.DefaultMaxFailures
	}
	if cfg.VerifierTimeout <= 0 {
		cfg.VerifierTimeout = DefaultVerifierTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		credentials: deps.Credentials,
		roles:       deps.Roles,
		mfa:         deps.MFA,
		limiter:     deps.Limiter,
		lockouts:    deps.Lockouts,
		permissions: deps.Permissions,
		sessions:    deps.Sessions,
		recorder:    deps.Recorder,
		cfg:         cfg,
		logger:      logger,
	}
}

// Identifier is the key rate limiting and lockout use for a login.
func (g *Gateway) Identifier(email, sourceAddress string) string {
	email = util.NormalizeEmail(email)
	if g.cfg.KeyBySourceAddress && sourceAddress != "" {
		return email + ":" + sourceAddress
	}
	return email
}

// Authenticate runs one login attempt. Policy denials are returned as a
// Denied result, never as an error.
func (g *Gateway) Authenticate(ctx context.Context, req LoginRequest) Result {
	subjectID := util.NormalizeEmail(req.Email)
	identifier := g.Identifier(req.Email, req.SourceAddress)
	ev := eventBase{
		subjectID:     subjectID,
		identifier:    identifier,
		sourceAddress: req.SourceAddress,
		userAgent:     util.SanitizeInput(req.UserAgent),
	}

	res := g.authenticate(ctx, req, subjectID, identifier, ev)
	metrics.IncAuthOutcome(res.Outcome.String(), string(res.Reason))
	return res
}

func (g *Gateway) authenticate(ctx context.Context, req LoginRequest, subjectID, identifier string, ev eventBase) Result {
	if !g.limiter.Allow(ctx, identifier, ActionLogin, g.cfg.LoginLimit) {
		g.record(ctx, ev.event("login_rate_limited", models.SeverityHigh, nil))
		return denied(ReasonRateLimited)
	}

	if g.lockouts.IsLockedOut(ctx, identifier, g.cfg.MaxFailures) {
		g.record(ctx, ev.event("login_locked_out", models.SeverityCritical, nil))
		return denied(ReasonLockedOut)
	}

	ok, err := g.callVerifier(ctx, func(ctx context.Context) (bool, error) {
		return g.credentials.Verify(ctx, subjectID, req.Secret)
	})
	if err != nil {
		return g.unavailable(ctx, ev, "credential_verifier", err)
	}
	if !ok {
		count := g.lockouts.RecordFailure(ctx, identifier)
		g.record(ctx, ev.event("login_failed", models.SeverityMedium, map[string]string{
			"reason":        string(ReasonInvalidCredentials),
			"failure_count": strconv.Itoa(count),
		}))
		return denied(ReasonInvalidCredentials)
	}

	role, found, err := g.resolveRole(ctx, subjectID)
	if err != nil {
		return g.unavailable(ctx, ev, "role_store", err)
	}
	if !found || !permission.AdminEligible(role) {
		g.record(ctx, ev.event("insufficient_privileges", models.SeverityHigh, map[string]string{
			"role": string(role),
		}))
		return denied(ReasonInsufficientPrivileges)
	}

	if req.MFACode == "" {
		g.record(ctx, ev.event("mfa_challenge_issued", models.SeverityLow, nil))
		return Result{Outcome: RequiresMFA}
	}

	ok, err = g.callVerifier(ctx, func(ctx context.Context) (bool, error) {
		return g.mfa.Verify(ctx, subjectID, req.MFACode)
	})
	if err != nil {
		return g.unavailable(ctx, ev, "mfa_verifier", err)
	}
	if !ok {
		count := g.lockouts.RecordFailure(ctx, identifier)
		g.record(ctx, ev.event("mfa_failed", models.SeverityHigh, map[string]string{
			"reason":        string(ReasonInvalidMFA),
			"failure_count": strconv.Itoa(count),
		}))
		return denied(ReasonInvalidMFA)
	}

	g.lockouts.Reset(ctx, identifier)
	sess := g.sessions.Create(ctx, subjectID, role, req.SourceAddress,
		session.WithMFAVerified(),
		session.WithUserAgent(ev.userAgent),
	)
	g.record(ctx, ev.event("login_success", models.SeverityLow, map[string]string{
		"session_id": sess.SessionID,
		"role":       string(role),
	}))
	return Result{Outcome: Success, Session: sess}
}

type roleLookup struct {
	role  permission.Role
	found bool
}

func (g *Gateway) resolveRole(ctx context.Context, subjectID string) (permission.Role, bool, error) {
	r, err := bounded(ctx, g.cfg.VerifierTimeout, func(ctx context.Context) (roleLookup, error) {
		role, found, err := g.roles.GetRole(ctx, subjectID)
		return roleLookup{role: role, found: found}, err
	})
	return r.role, r.found, err
}

func (g *Gateway) callVerifier(ctx context.Context, fn func(context.Context) (bool, error)) (bool, error) {
	return bounded(ctx, g.cfg.VerifierTimeout, fn)
}

// bounded runs a collaborator call under timeout. A collaborator that ignores
// its context is abandoned when the deadline passes.
func bounded[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: ErrVerifierPanic}
			}
		}()
		v, err := fn(ctx)
		done <- result{val: v, err: err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ErrVerifierTimeout
	}
}

func (g *Gateway) unavailable(ctx context.Context, ev eventBase, collaborator string, err error) Result {
	g.logger.Error("authentication collaborator failed",
		zap.String("collaborator", collaborator),
		zap.String("subject_id", ev.subjectID),
		zap.Error(err),
	)
	g.record(ctx, ev.event("collaborator_unavailable", models.SeverityHigh, map[string]string{
		"reason":       string(ReasonServiceUnavailable),
		"collaborator": collaborator,
		"error":        err.Error(),
	}))
	return denied(ReasonServiceUnavailable)
}

// HasPermission checks the subject's live session against the matrix.
func (g *Gateway) HasPermission(ctx context.Context, subjectID string, resource permission.Resource, action permission.Action) bool {
	sess, ok := g.sessions.Get(subjectID)
	granted := ok && g.permissions.HasPermission(sess.Role, resource, action)

	details := map[string]string{
		"permission": string(resource) + ":" + string(action),
		"role":       string(sess.Role),
	}
	if !ok {
		details["reason"] = "no_session"
	}
	if granted {
		g.record(ctx, models.SecurityEvent{
			SubjectID: subjectID, Action: "permission_granted", Resource: string(resource),
			Severity: models.SeverityLow, SourceAddress: sess.SourceAddress, Details: details,
		})
	} else {
		g.record(ctx, models.SecurityEvent{
			SubjectID: subjectID, Action: "permission_denied", Resource: string(resource),
			Severity: models.SeverityMedium, SourceAddress: sess.SourceAddress, Details: details,
		})
	}
	return granted
}

func (g *Gateway) Touch(ctx context.Context, subjectID string) bool {
	return g.sessions.Touch(ctx, subjectID)
}

// TouchSession refreshes the session only if sessionID is still current.
func (g *Gateway) TouchSession(ctx context.Context, subjectID, sessionID string) (models.AdminSession, bool) {
	return g.sessions.TouchSession(ctx, subjectID, sessionID)
}

// Session returns the subject's session if it is still valid.
func (g *Gateway) Session(subjectID string) (models.AdminSession, bool) {
	return g.sessions.Get(subjectID)
}

func (g *Gateway) Logout(ctx context.Context, subjectID string) {
	g.sessions.Invalidate(ctx, subjectID)
}

// ResetLockout is the only way a locked identifier is released.
func (g *Gateway) ResetLockout(ctx context.Context, identifier, actor string) {
	g.lockouts.Reset(ctx, identifier)
	g.record(ctx, models.SecurityEvent{
		SubjectID: actor,
		Action:    "lockout_reset",
		Resource:  "lockout",
		Severity:  models.SeverityHigh,
		Details:   map[string]string{"identifier": identifier},
	})
}

func (g *Gateway) record(ctx context.Context, ev models.SecurityEvent) {
	if g.recorder != nil {
		g.recorder.Record(ctx, ev)
	}
}

type eventBase struct {
	subjectID     string
	identifier    string
	sourceAddress string
	userAgent     string
}

func (b eventBase) event(action string, sev models.Severity, details map[string]string) models.SecurityEvent {
	if details == nil {
		details = make(map[string]string, 1)
	}
	details["identifier"] = b.identifier
	return models.SecurityEvent{
		SubjectID:     b.subjectID,
		Action:        action,
		Resource:      "authentication",
		Severity:      sev,
		Details:       details,
		SourceAddress: b.sourceAddress,
		UserAgent:     b.userAgent,
	}
}
