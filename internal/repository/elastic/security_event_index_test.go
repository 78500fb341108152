package elastic

import (
	"context"
	"errors"
	"testing"
	"time"

	"admin-auth-service/internal/client"
	"admin-auth-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeES struct {
	index string
	id    string
	doc   any
	err   error
}

func (f *fakeES) CreateDocument(_ context.Context, index, id string, document any) error {
	f.index, f.id, f.doc = index, id, document
	return f.err
}

func TestPersistIndexesMonthly(t *testing.T) {
	es := &fakeES{}
	idx := NewSecurityEventIndex(es, "admin-security-events")

	ev := models.SecurityEvent{
		ID: "3b1f8f9e-0000-4000-8000-000000000001", Action: "login_success",
		Severity: models.SeverityLow, Sequence: 7,
		Timestamp: time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, idx.Persist(context.Background(), ev))

	assert.Equal(t, "admin-security-events-2026.02", es.index)
	assert.Equal(t, ev.ID, es.id)
	doc, ok := es.doc.(eventDocument)
	require.True(t, ok)
	assert.Equal(t, uint64(7), doc.Sequence)
	assert.Equal(t, "low", doc.Severity)
}

func TestPersistAcceptsDuplicates(t *testing.T) {
	idx := NewSecurityEventIndex(&fakeES{err: client.ErrDocumentExists}, "x")
	assert.NoError(t, idx.Persist(context.Background(), models.SecurityEvent{ID: "a"}))

	idx = NewSecurityEventIndex(&fakeES{err: errors.New("cluster red")}, "x")
	assert.Error(t, idx.Persist(context.Background(), models.SecurityEvent{ID: "a"}))
}
