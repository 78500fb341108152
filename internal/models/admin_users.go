package models

import (
	"time"
)

// AdminUser is a row of the identity store. MFASecret holds the encrypted
// envelope of the TOTP seed, never the seed itself.
type AdminUser struct {
	Email        string    `db:"email"`
	AdminID      string    `db:"admin_id"`
	RoleLevel    string    `db:"role_level"`
	PasswordHash string    `db:"password_hash"`
	MFASecret    []byte    `db:"mfa_secret"`
	IsActive     bool      `db:"is_active"`
	CreatedBy    string    `db:"created_by"`
	CreatedAt    time.Time `db:"created_at"`
}
