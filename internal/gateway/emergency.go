package gateway

import (
	"context"

	"admin-auth-service/internal/metrics"
	"admin-auth-service/internal/models"
	"admin-auth-service/internal/permission"
	"admin-auth-service/internal/session"
	"admin-auth-service/internal/util"

	"golang.org/x/crypto/bcrypt"
)

// BreakGlassSubject is the subject ID of every emergency session.
const BreakGlassSubject = "break-glass"

// EmergencyAccess checks an out-of-band code and, on match, grants an admin
// session with the sensitive timeout. Every call records exactly one
// critical event, whatever the result.
func (g *Gateway) EmergencyAccess(ctx context.Context, code, sourceAddress, userAgent string) (models.AdminSession, bool) {
	result, sess := g.emergency(ctx, code, sourceAddress, userAgent)
	granted := result == "granted"
	metrics.IncEmergencyAccess(granted)

	details := map[string]string{"result": result}
	if granted {
		details["session_id"] = sess.SessionID
	}
	g.record(ctx, models.SecurityEvent{
		SubjectID:     BreakGlassSubject,
		Action:        "emergency_access",
		Resource:      "authentication",
		Severity:      models.SeverityCritical,
		Details:       details,
		SourceAddress: sourceAddress,
		UserAgent:     util.SanitizeInput(userAgent),
	})
	return sess, granted
}

func (g *Gateway) emergency(ctx context.Context, code, sourceAddress, userAgent string) (string, models.AdminSession) {
	if len(g.cfg.EmergencyCodeHash) == 0 {
		return "disabled", models.AdminSession{}
	}
	key := sourceAddress
	if key == "" {
		key = BreakGlassSubject
	}
	if !g.limiter.Allow(ctx, key, ActionEmergency, g.cfg.EmergencyLimit) {
		return "rate_limited", models.AdminSession{}
	}
	if code == "" || bcrypt.CompareHashAndPassword(g.cfg.EmergencyCodeHash, []byte(code)) != nil {
		return "denied", models.AdminSession{}
	}
	sess := g.sessions.Create(ctx, BreakGlassSubject, permission.RoleAdmin, sourceAddress,
		session.WithSensitive(),
		session.WithUserAgent(util.SanitizeInput(userAgent)),
	)
	return "granted", sess
}
