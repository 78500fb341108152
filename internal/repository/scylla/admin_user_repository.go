package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"admin-auth-service/internal/encryption"
	"admin-auth-service/internal/hashing"
	"admin-auth-service/internal/mfa"
	"admin-auth-service/internal/models"
	"admin-auth-service/internal/permission"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const mfaSecretPurpose = "admin_mfa_secret"

// AdminStore is the persistence the admin repository needs. ScyllaClient
// implements it.
type AdminStore interface {
	GetAdminByEmail(ctx context.Context, email string) (*models.AdminUser, error)
	UpsertAdmin(ctx context.Context, u *models.AdminUser) error
	UpdatePasswordHash(ctx context.Context, email, hash string) error
}

// AdminUserRepository is the identity store behind the gateway: credential
// verification, role lookup and the MFA seed.
type AdminUserRepository struct {
	store  AdminStore
	hasher *hashing.Hasher
	crypto *encryption.EncryptionManager
	logger *zap.Logger

	// compared against for unknown emails so both paths cost one argon2 run
	dummyHash string
}

func NewAdminUserRepository(store AdminStore, hasher *hashing.Hasher, crypto *encryption.EncryptionManager, logger *zap.Logger) (*AdminUserRepository, error) {
	dummy, err := hasher.HashPassword(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy hash: %w", err)
	}
	return &AdminUserRepository{
		store:     store,
		hasher:    hasher,
		crypto:    crypto,
		logger:    logger,
		dummyHash: dummy,
	}, nil
}

// Verify checks the password of an active admin. Unknown and inactive
// accounts verify as false, not as an error.
func (r *AdminUserRepository) Verify(ctx context.Context, email, secret string) (bool, error) {
	u, err := r.store.GetAdminByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		_, _ = r.hasher.VerifyPassword(secret, r.dummyHash)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	ok, err := r.hasher.VerifyPassword(secret, u.PasswordHash)
	if err != nil {
		r.logger.Error("stored password hash unusable", zap.String("email", email), zap.Error(err))
		return false, nil
	}
	if !ok || !u.IsActive {
		return false, nil
	}

	if r.hasher.NeedsRehash(u.PasswordHash) {
		if fresh, err := r.hasher.HashPassword(secret); err == nil {
			if err := r.store.UpdatePasswordHash(ctx, email, fresh); err != nil {
				r.logger.Warn("failed to upgrade password hash", zap.String("email", email), zap.Error(err))
			}
		}
	}
	return true, nil
}

func (r *AdminUserRepository) GetRole(ctx context.Context, email string) (permission.Role, bool, error) {
	u, err := r.store.GetAdminByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if !u.IsActive {
		return "", false, nil
	}
	role, ok := permission.ParseRole(u.RoleLevel)
	if !ok {
		r.logger.Warn("admin has unknown role level", zap.String("email", email), zap.String("role_level", u.RoleLevel))
		return "", false, nil
	}
	return role, true, nil
}

// MFASecret decrypts the subject's TOTP seed.
func (r *AdminUserRepository) MFASecret(ctx context.Context, email string) (string, error) {
	u, err := r.store.GetAdminByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return "", mfa.ErrNoSecret
	}
	if err != nil {
		return "", err
	}
	if len(u.MFASecret) == 0 {
		return "", mfa.ErrNoSecret
	}
	return r.crypto.Open(ctx, u.MFASecret, mfaSecretPurpose)
}

// Enrollment is returned once, when an admin is created.
type Enrollment struct {
	AdminID   string
	MFASecret string
	MFAURL    string
}

// CreateAdmin stores a new admin with a hashed password and an encrypted
// TOTP seed.
func (r *AdminUserRepository) CreateAdmin(ctx context.Context, email, password string, role permission.Role, createdBy string) (*Enrollment, error) {
	if !permission.AdminEligible(role) {
		return nil, fmt.Errorf("role %q cannot hold an admin account", role)
	}
	hash, err := r.hasher.HashPassword(password)
	if err != nil {
		return nil, err
	}
	secret, url, err := mfa.GenerateSecret(email)
	if err != nil {
		return nil, err
	}
	sealed, err := r.crypto.Seal(ctx, secret, mfaSecretPurpose)
	if err != nil {
		return nil, err
	}

	u := &models.AdminUser{
		Email:        email,
		AdminID:      uuid.NewString(),
		RoleLevel:    string(role),
		PasswordHash: hash,
		MFASecret:    sealed,
		IsActive:     true,
		CreatedBy:    createdBy,
		CreatedAt:    time.Now().UTC(),
	}
	if err := r.store.UpsertAdmin(ctx, u); err != nil {
		return nil, err
	}

	r.logger.Info("admin user created",
		zap.String("email", email),
		zap.String("admin_id", u.AdminID),
		zap.String("role", string(role)),
		zap.String("created_by", createdBy))

	return &Enrollment{AdminID: u.AdminID, MFASecret: secret, MFAURL: url}, nil
}
