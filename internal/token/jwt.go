package token

import (
	"errors"
	"fmt"
	"time"

	"admin-auth-service/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// DefaultMaxLifetime caps a token regardless of session activity; inactivity
// is enforced by the session store.
const DefaultMaxLifetime = 12 * time.Hour

// Claims binds a bearer token to one session. A token whose SessionID no
// longer matches the subject's live session is rejected.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
	Role      string `json:"role"`
}

type Manager struct {
	secret      []byte
	issuer      string
	maxLifetime time.Duration
	now         func() time.Time
}

func NewManager(secret []byte, issuer string, maxLifetime time.Duration, now func() time.Time) *Manager {
	if maxLifetime <= 0 {
		maxLifetime = DefaultMaxLifetime
	}
	if now == nil {
		now = time.Now
	}
	return &Manager{secret: secret, issuer: issuer, maxLifetime: maxLifetime, now: now}
}

func (m *Manager) Issue(sess models.AdminSession) (string, time.Time, error) {
	now := m.now()
	expires := now.Add(m.maxLifetime)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   sess.SubjectID,
			ID:        sess.SessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		SessionID: sess.SessionID,
		Role:      string(sess.Role),
	})

	signed, err := tok.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

func (m *Manager) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !tok.Valid || claims.Subject == "" || claims.SessionID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
