package handler

import (
	"context"
	"net/http"
	"strings"

	"admin-auth-service/internal/models"
	"admin-auth-service/internal/permission"

	"go.uber.org/zap"
)

type ctxKey int

const sessionKey ctxKey = iota

func sessionFrom(ctx context.Context) (models.AdminSession, bool) {
	sess, ok := ctx.Value(sessionKey).(models.AdminSession)
	return sess, ok
}

// RequireSession accepts a bearer token only while the session it was
// issued for is still the subject's live session. Each accepted request
// refreshes the inactivity timer.
func (h *AdminHandler) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			h.unauthorized(w)
			return
		}
		claims, err := h.tokens.Parse(strings.TrimSpace(raw))
		if err != nil {
			h.unauthorized(w)
			return
		}

		sess, ok := h.gateway.TouchSession(r.Context(), claims.Subject, claims.SessionID)
		if !ok {
			h.logger.Info("bearer token for stale session", zap.String("subject_id", claims.Subject))
			h.unauthorized(w)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, sess)))
	})
}

// RequirePermission gates a route on the session role. Every check is
// audited by the gateway.
func (h *AdminHandler) RequirePermission(resource permission.Resource, action permission.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, _ := sessionFrom(r.Context())
			if !h.gateway.HasPermission(r.Context(), sess.SubjectID, resource, action) {
				h.respondWithJSON(w, http.StatusForbidden, errorResponse("insufficient_privileges", "Insufficient privileges"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (h *AdminHandler) unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
	h.respondWithJSON(w, http.StatusUnauthorized, errorResponse("unauthorized", errNoSession.Error()))
}
