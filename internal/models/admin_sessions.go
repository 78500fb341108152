package models

import (
	"time"

	"admin-auth-service/internal/permission"
)

// AdminSession is the live session of one admin subject. A subject has at most
// one; a new login replaces the previous one and its SessionID.
type AdminSession struct {
	SessionID      string          `json:"session_id"`
	SubjectID      string          `json:"subject_id"`
	Role           permission.Role `json:"role"`
	MFAVerified    bool            `json:"mfa_verified"`
	CreatedAt      time.Time       `json:"created_at"`
	LastActivityAt time.Time       `json:"last_activity_at"`
	SourceAddress  string          `json:"source_address,omitempty"`
	Timeout        time.Duration   `json:"timeout"`
}

// ValidAt reports whether the session is still inside its inactivity window.
func (s AdminSession) ValidAt(now time.Time) bool {
	return now.Sub(s.LastActivityAt) < s.Timeout
}

// ExpiresAt is the instant the session lapses if not touched again.
func (s AdminSession) ExpiresAt() time.Time {
	return s.LastActivityAt.Add(s.Timeout)
}
