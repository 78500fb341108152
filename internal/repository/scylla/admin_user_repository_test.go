package scylla

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"admin-auth-service/internal/bucketing"
	"admin-auth-service/internal/encryption"
	"admin-auth-service/internal/hashing"
	"admin-auth-service/internal/mfa"
	"admin-auth-service/internal/models"
	"admin-auth-service/internal/permission"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memoryAdminStore struct {
	mu     sync.Mutex
	users  map[string]models.AdminUser
	events []models.SecurityEvent
	keys   []string
	err    error
}

func newMemoryAdminStore() *memoryAdminStore {
	return &memoryAdminStore{users: map[string]models.AdminUser{}}
}

func (m *memoryAdminStore) GetAdminByEmail(_ context.Context, email string) (*models.AdminUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	u, ok := m.users[email]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *memoryAdminStore) UpsertAdmin(_ context.Context, u *models.AdminUser) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.Email] = *u
	return nil
}

func (m *memoryAdminStore) UpdatePasswordHash(_ context.Context, email, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[email]
	u.PasswordHash = hash
	m.users[email] = u
	return nil
}

func (m *memoryAdminStore) InsertSecurityEvent(_ context.Context, date string, bucket int, ev models.SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	m.keys = append(m.keys, date)
	return nil
}

var testParams = hashing.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

func newTestRepo(t *testing.T, hasher *hashing.Hasher) (*AdminUserRepository, *memoryAdminStore) {
	t.Helper()
	keys, err := encryption.NewLocalKeyService("test-master-key")
	require.NoError(t, err)
	store := newMemoryAdminStore()
	repo, err := NewAdminUserRepository(store, hasher, encryption.NewEncryptionManager(keys), zap.NewNop())
	require.NoError(t, err)
	return repo, store
}

func TestCreateAdminAndVerify(t *testing.T) {
	ctx := context.Background()
	repo, store := newTestRepo(t, hashing.NewHasherWithParams(testParams, "pepper", 1, nil))

	enrollment, err := repo.CreateAdmin(ctx, "ops@surf.example", "correct-horse", permission.RoleAdmin, "bootstrap")
	require.NoError(t, err)
	assert.NotEmpty(t, enrollment.MFASecret)
	assert.Contains(t, enrollment.MFAURL, "otpauth://totp/")

	stored := store.users["ops@surf.example"]
	assert.NotContains(t, string(stored.MFASecret), enrollment.MFASecret)

	ok, err := repo.Verify(ctx, "ops@surf.example", "correct-horse")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Verify(ctx, "ops@surf.example", "wrong")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.Verify(ctx, "nobody@surf.example", "correct-horse")
	require.NoError(t, err)
	assert.False(t, ok)

	role, found, err := repo.GetRole(ctx, "ops@surf.example")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, permission.RoleAdmin, role)

	secret, err := repo.MFASecret(ctx, "ops@surf.example")
	require.NoError(t, err)
	assert.Equal(t, enrollment.MFASecret, secret)
}

func TestCreateAdminRejectsUserRole(t *testing.T) {
	repo, _ := newTestRepo(t, hashing.NewHasherWithParams(testParams, "pepper", 1, nil))
	_, err := repo.CreateAdmin(context.Background(), "x@surf.example", "pw", permission.RoleUser, "bootstrap")
	assert.Error(t, err)
}

func TestInactiveAdminIsRejected(t *testing.T) {
	ctx := context.Background()
	repo, store := newTestRepo(t, hashing.NewHasherWithParams(testParams, "pepper", 1, nil))
	_, err := repo.CreateAdmin(ctx, "gone@surf.example", "correct-horse", permission.RoleModerator, "bootstrap")
	require.NoError(t, err)

	u := store.users["gone@surf.example"]
	u.IsActive = false
	store.users["gone@surf.example"] = u

	ok, err := repo.Verify(ctx, "gone@surf.example", "correct-horse")
	require.NoError(t, err)
	assert.False(t, ok)

	_, found, err := repo.GetRole(ctx, "gone@surf.example")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUnknownRoleLevelIsNotFound(t *testing.T) {
	repo, store := newTestRepo(t, hashing.NewHasherWithParams(testParams, "pepper", 1, nil))
	store.users["odd@surf.example"] = models.AdminUser{Email: "odd@surf.example", RoleLevel: "superuser", IsActive: true}

	_, found, err := repo.GetRole(context.Background(), "odd@surf.example")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMissingMFASecret(t *testing.T) {
	repo, store := newTestRepo(t, hashing.NewHasherWithParams(testParams, "pepper", 1, nil))
	store.users["nomfa@surf.example"] = models.AdminUser{Email: "nomfa@surf.example", RoleLevel: "admin", IsActive: true}

	_, err := repo.MFASecret(context.Background(), "nomfa@surf.example")
	assert.ErrorIs(t, err, mfa.ErrNoSecret)

	_, err = repo.MFASecret(context.Background(), "missing@surf.example")
	assert.ErrorIs(t, err, mfa.ErrNoSecret)
}

func TestStoreErrorsPropagate(t *testing.T) {
	repo, store := newTestRepo(t, hashing.NewHasherWithParams(testParams, "pepper", 1, nil))
	store.err = errors.New("scylla unavailable")

	_, err := repo.Verify(context.Background(), "ops@surf.example", "pw")
	assert.Error(t, err)
	_, _, err = repo.GetRole(context.Background(), "ops@surf.example")
	assert.Error(t, err)
}

func TestVerifyUpgradesStalePepper(t *testing.T) {
	ctx := context.Background()
	old := hashing.NewHasherWithParams(testParams, "pepper-v1", 1, nil)
	oldHash, err := old.HashPassword("correct-horse")
	require.NoError(t, err)

	rotated := hashing.NewHasherWithParams(testParams, "pepper-v2", 2, map[int]string{1: "pepper-v1"})
	repo, store := newTestRepo(t, rotated)
	store.users["ops@surf.example"] = models.AdminUser{
		Email: "ops@surf.example", RoleLevel: "admin", PasswordHash: oldHash, IsActive: true,
	}

	ok, err := repo.Verify(ctx, "ops@surf.example", "correct-horse")
	require.NoError(t, err)
	assert.True(t, ok)

	upgraded := store.users["ops@surf.example"].PasswordHash
	assert.NotEqual(t, oldHash, upgraded)
	assert.False(t, rotated.NeedsRehash(upgraded))
}

func TestSecurityEventRepositoryPartitions(t *testing.T) {
	store := newMemoryAdminStore()
	repo := NewSecurityEventRepository(store, bucketing.NewWithBuckets(16))

	ts := time.Date(2026, 3, 4, 23, 59, 0, 0, time.UTC)
	err := repo.Persist(context.Background(), models.SecurityEvent{
		ID: uuid.NewString(), SubjectID: "ops@surf.example", Action: "login_success",
		Severity: models.SeverityLow, Timestamp: ts,
	})
	require.NoError(t, err)
	require.Len(t, store.events, 1)
	assert.Equal(t, "2026-03-04", store.keys[0])
}
