package permission

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatrix(t *testing.T) {
	m := DefaultMatrix()

	tests := []struct {
		name     string
		role     Role
		resource Resource
		action   Action
		want     bool
	}{
		{"admin reads audit logs", RoleAdmin, ResourceAuditLogs, ActionRead, true},
		{"admin resets lockouts", RoleAdmin, ResourceLockouts, ActionReset, true},
		{"moderator moderates reviews", RoleModerator, ResourceReviews, ActionModerate, true},
		{"moderator cannot touch payments", RoleModerator, ResourcePayments, ActionRead, false},
		{"moderator cannot reset lockouts", RoleModerator, ResourceLockouts, ActionReset, false},
		{"user creates bookings", RoleUser, ResourceBookings, ActionCreate, true},
		{"user cannot delete spots", RoleUser, ResourceSpots, ActionDelete, false},
		{"unknown role", Role("owner"), ResourceSpots, ActionRead, false},
		{"unknown resource", RoleAdmin, Resource("forecasts"), ActionRead, false},
		{"unknown action", RoleAdmin, ResourceSpots, Action("fly"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.HasPermission(tt.role, tt.resource, tt.action))
		})
	}
}

func TestHasPermissionIsPure(t *testing.T) {
	m := DefaultMatrix()
	before := m.Actions(RoleModerator, ResourceSpots)

	for i := 0; i < 100; i++ {
		assert.True(t, m.HasPermission(RoleModerator, ResourceSpots, ActionModerate))
		assert.False(t, m.HasPermission(RoleModerator, ResourceSpots, ActionDelete))
	}
	assert.Equal(t, before, m.Actions(RoleModerator, ResourceSpots))
}

func TestAdminEligible(t *testing.T) {
	assert.True(t, AdminEligible(RoleAdmin))
	assert.True(t, AdminEligible(RoleModerator))
	assert.False(t, AdminEligible(RoleUser))
	assert.False(t, AdminEligible(Role("")))
}

func TestParseMatrix(t *testing.T) {
	m, err := ParseMatrix([]byte(`
roles:
  admin:
    audit_logs: [read]
    lockouts: [reset]
  moderator:
    reviews: [read, moderate]
`))
	require.NoError(t, err)
	assert.True(t, m.HasPermission(RoleAdmin, ResourceLockouts, ActionReset))
	assert.False(t, m.HasPermission(RoleAdmin, ResourceSpots, ActionRead))
	assert.Equal(t, []Action{ActionRead, ActionModerate}, m.Actions(RoleModerator, ResourceReviews))
}

func TestParseMatrixRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"unknown role", "roles:\n  owner:\n    spots: [read]\n  admin:\n    spots: [read]\n  moderator:\n    spots: [read]\n", ErrUnknownRole},
		{"unknown resource", "roles:\n  admin:\n    forecasts: [read]\n  moderator:\n    spots: [read]\n", ErrUnknownResource},
		{"unknown action", "roles:\n  admin:\n    spots: [fly]\n  moderator:\n    spots: [read]\n", ErrUnknownAction},
		{"moderator missing", "roles:\n  admin:\n    spots: [read]\n", ErrEmptyAdminRole},
		{"admin empty", "roles:\n  admin: {}\n  moderator:\n    spots: [read]\n", ErrEmptyAdminRole},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMatrix([]byte(tt.raw))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParseMatrixRejectsUnknownFields(t *testing.T) {
	_, err := ParseMatrix([]byte("rolez:\n  admin:\n    spots: [read]\n"))
	assert.Error(t, err)
}

func TestLoadMatrix(t *testing.T) {
	m, err := LoadMatrix("")
	require.NoError(t, err)
	assert.True(t, m.HasPermission(RoleAdmin, ResourceSettings, ActionUpdate))

	path := filepath.Join(t.TempDir(), "permissions.yaml")
	require.NoError(t, os.WriteFile(path, []byte("roles:\n  admin:\n    settings: [read]\n  moderator:\n    content: [read]\n"), 0o600))
	m, err = LoadMatrix(path)
	require.NoError(t, err)
	assert.False(t, m.HasPermission(RoleAdmin, ResourceSettings, ActionUpdate))

	_, err = LoadMatrix(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
