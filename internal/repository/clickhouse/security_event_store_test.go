package clickhouse

import (
	"context"
	"errors"
	"testing"
	"time"

	"admin-auth-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	queries []string
	args    [][]any
	err     error
}

func (f *fakeConn) Exec(_ context.Context, query string, args ...any) error {
	f.queries = append(f.queries, query)
	f.args = append(f.args, args)
	return f.err
}

func TestPersistBindsColumns(t *testing.T) {
	conn := &fakeConn{}
	store := NewSecurityEventStore(conn)
	require.NoError(t, store.EnsureSchema(context.Background()))

	ts := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	err := store.Persist(context.Background(), models.SecurityEvent{
		ID: "id-1", Sequence: 3, Timestamp: ts, Action: "login_failed", Severity: models.SeverityMedium,
	})
	require.NoError(t, err)

	require.Len(t, conn.args, 2)
	args := conn.args[1]
	require.Len(t, args, 12)
	assert.Equal(t, "id-1", args[0])
	assert.Equal(t, uint64(3), args[1])
	assert.Equal(t, ts, args[2])
	assert.Equal(t, "medium", args[6])
	assert.Equal(t, map[string]string{}, args[9])
	assert.Contains(t, conn.queries[0], "ReplacingMergeTree")
}

func TestPersistWrapsErrors(t *testing.T) {
	store := NewSecurityEventStore(&fakeConn{err: errors.New("connection reset")})
	err := store.Persist(context.Background(), models.SecurityEvent{ID: "id-1"})
	assert.ErrorContains(t, err, "connection reset")
}
