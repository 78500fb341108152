package handler

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"admin-auth-service/internal/audit"
	"admin-auth-service/internal/gateway"
	"admin-auth-service/internal/models"
	"admin-auth-service/internal/permission"
	"admin-auth-service/internal/token"
	"admin-auth-service/internal/util"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

var (
	errBadRequest = errors.New("invalid request")
	errNoSession  = errors.New("session expired or revoked")
)

const maxBodyBytes = 16 << 10

// AuditJournal is the read side of the audit logger.
type AuditJournal interface {
	Query(f audit.Filter) audit.Page
	VerifyChain() error
	Stats() map[models.Severity]int
}

// TokenIssuer signs and verifies session bearer tokens.
type TokenIssuer interface {
	Issue(sess models.AdminSession) (string, time.Time, error)
	Parse(tokenString string) (*token.Claims, error)
}

type AdminHandler struct {
	gateway *gateway.Gateway
	tokens  TokenIssuer
	journal AuditJournal
	logger  *zap.Logger
}

func NewAdminHandler(gw *gateway.Gateway, tokens TokenIssuer, journal AuditJournal, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		gateway: gw,
		tokens:  tokens,
		journal: journal,
		logger:  logger,
	}
}

// Response is the envelope of every JSON reply.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func successResponse(data any, message string) Response {
	return Response{Success: true, Data: data, Message: message}
}

func errorResponse(code, message string) Response {
	return Response{Success: false, Error: code, Message: message}
}

func (h *AdminHandler) RegisterRoutes(router chi.Router) {
	router.Route("/admin", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/emergency", h.Emergency)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireSession)

			r.Get("/session", h.GetSession)
			r.Post("/logout", h.Logout)
			r.Post("/permissions/check", h.CheckPermission)

			r.With(h.RequirePermission(permission.ResourceAuditLogs, permission.ActionRead)).
				Get("/audit", h.ListAuditEvents)
			r.With(h.RequirePermission(permission.ResourceAuditLogs, permission.ActionRead)).
				Get("/audit/verify", h.VerifyAuditChain)
			r.With(h.RequirePermission(permission.ResourceLockouts, permission.ActionReset)).
				Post("/lockouts/reset", h.ResetLockout)
		})
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	MFACode  string `json:"mfa_code,omitempty"`
}

type sessionView struct {
	SessionID      string    `json:"session_id"`
	SubjectID      string    `json:"subject_id"`
	Role           string    `json:"role"`
	MFAVerified    bool      `json:"mfa_verified"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	SourceAddress  string    `json:"source_address,omitempty"`
}

func viewOf(s models.AdminSession) sessionView {
	return sessionView{
		SessionID:      s.SessionID,
		SubjectID:      s.SubjectID,
		Role:           string(s.Role),
		MFAVerified:    s.MFAVerified,
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.LastActivityAt,
		ExpiresAt:      s.ExpiresAt(),
		SourceAddress:  s.SourceAddress,
	}
}

type tokenResponse struct {
	Token     string      `json:"token"`
	TokenType string      `json:"token_type"`
	ExpiresAt time.Time   `json:"expires_at"`
	Session   sessionView `json:"session"`
}

// Login runs the full authentication flow. A login without mfa_code that
// passes the password check answers 202 and expects a second call with
// the code.
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" || util.ContainsSuspicious(req.Email) {
		h.respondWithError(w, http.StatusBadRequest, errBadRequest, "Email and password are required")
		return
	}

	res := h.gateway.Authenticate(r.Context(), gateway.LoginRequest{
		Email:         req.Email,
		Secret:        req.Password,
		MFACode:       strings.TrimSpace(req.MFACode),
		SourceAddress: clientIP(r),
		UserAgent:     r.UserAgent(),
	})

	switch res.Outcome {
	case gateway.Success:
		h.issueToken(w, res.Session, "Login successful")
	case gateway.RequiresMFA:
		h.respondWithJSON(w, http.StatusAccepted, successResponse(
			map[string]bool{"mfa_required": true}, "MFA code required"))
	default:
		h.respondDenied(w, res.Reason)
	}
}

type emergencyRequest struct {
	Code string `json:"code"`
}

func (h *AdminHandler) Emergency(w http.ResponseWriter, r *http.Request) {
	var req emergencyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	sess, ok := h.gateway.EmergencyAccess(r.Context(), req.Code, clientIP(r), r.UserAgent())
	if !ok {
		h.respondWithJSON(w, http.StatusUnauthorized, errorResponse("authentication_failed", "Authentication failed"))
		return
	}
	h.issueToken(w, sess, "Emergency access granted")
}

func (h *AdminHandler) issueToken(w http.ResponseWriter, sess models.AdminSession, message string) {
	tok, expires, err := h.tokens.Issue(sess)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err, "Failed to issue token")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(tokenResponse{
		Token:     tok,
		TokenType: "Bearer",
		ExpiresAt: expires,
		Session:   viewOf(sess),
	}, message))
}

func (h *AdminHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFrom(r.Context())
	h.respondWithJSON(w, http.StatusOK, successResponse(viewOf(sess), ""))
}

func (h *AdminHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFrom(r.Context())
	h.gateway.Logout(r.Context(), sess.SubjectID)
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Logged out"))
}

type permissionRequest struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

func (h *AdminHandler) CheckPermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	resource, ok := permission.ParseResource(req.Resource)
	if !ok {
		h.respondWithError(w, http.StatusBadRequest, permission.ErrUnknownResource, "Unknown resource")
		return
	}
	action, ok := permission.ParseAction(req.Action)
	if !ok {
		h.respondWithError(w, http.StatusBadRequest, permission.ErrUnknownAction, "Unknown action")
		return
	}

	sess, _ := sessionFrom(r.Context())
	granted := h.gateway.HasPermission(r.Context(), sess.SubjectID, resource, action)
	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]any{
		"resource": resource,
		"action":   action,
		"granted":  granted,
	}, ""))
}

// ListAuditEvents pages through the in-process journal, newest first.
// Query parameters: subject_id, severity, since (RFC 3339), limit, offset.
func (h *AdminHandler) ListAuditEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := audit.Filter{SubjectID: q.Get("subject_id")}

	if v := q.Get("severity"); v != "" {
		sev := models.Severity(v)
		if !sev.Valid() {
			h.respondWithError(w, http.StatusBadRequest, errBadRequest, "Unknown severity")
			return
		}
		f.Severity = sev
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.respondWithError(w, http.StatusBadRequest, err, "since must be RFC 3339")
			return
		}
		f.Since = since
	}
	var err error
	if f.Limit, err = intParam(q.Get("limit")); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid limit")
		return
	}
	if f.Offset, err = intParam(q.Get("offset")); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid offset")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(h.journal.Query(f), ""))
}

func (h *AdminHandler) VerifyAuditChain(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{"valid": true, "severity_counts": h.journal.Stats()}
	if err := h.journal.VerifyChain(); err != nil {
		data["valid"] = false
		data["error"] = err.Error()
		h.logger.Error("audit chain verification failed", zap.Error(err))
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(data, ""))
}

type resetRequest struct {
	Identifier string `json:"identifier"`
}

func (h *AdminHandler) ResetLockout(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" || util.ContainsSuspicious(identifier) {
		h.respondWithError(w, http.StatusBadRequest, errBadRequest, "identifier is required")
		return
	}

	sess, _ := sessionFrom(r.Context())
	h.gateway.ResetLockout(r.Context(), identifier, sess.SubjectID)
	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]string{"identifier": identifier}, "Lockout cleared"))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errBadRequest
	}
	return n, nil
}

// clientIP returns the request's address without port. TrustedRealIP has
// already replaced RemoteAddr when a trusted proxy forwarded the request.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (h *AdminHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

func (h *AdminHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		zap.Error(err),
		zap.Int("status_code", statusCode),
		zap.String("message", message),
	)
	code := "request_failed"
	if statusCode == http.StatusBadRequest {
		code = "invalid_request"
	}
	h.respondWithJSON(w, statusCode, errorResponse(code, message))
}

// respondDenied answers a refused login. Credential-class reasons share one
// body so a caller cannot tell them apart.
func (h *AdminHandler) respondDenied(w http.ResponseWriter, reason gateway.Reason) {
	status := getStatusCode(reason)
	switch {
	case reason.CredentialClass():
		h.respondWithJSON(w, status, errorResponse("authentication_failed", "Authentication failed"))
	case reason == gateway.ReasonRateLimited:
		h.respondWithJSON(w, status, errorResponse(string(reason), "Too many attempts, try again later"))
	case reason == gateway.ReasonInsufficientPrivileges:
		h.respondWithJSON(w, status, errorResponse(string(reason), "Insufficient privileges"))
	default:
		h.respondWithJSON(w, status, errorResponse(string(gateway.ReasonServiceUnavailable), "Service temporarily unavailable"))
	}
}

func getStatusCode(reason gateway.Reason) int {
	switch {
	case reason.CredentialClass():
		return http.StatusUnauthorized
	case reason == gateway.ReasonRateLimited, reason == gateway.ReasonInsufficientPrivileges:
		return http.StatusForbidden
	default:
		return http.StatusServiceUnavailable
	}
}
