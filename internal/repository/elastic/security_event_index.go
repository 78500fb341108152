package elastic

import (
	"context"
	"errors"
	"time"

	"admin-auth-service/internal/client"
	"admin-auth-service/internal/models"
)

type DocumentCreator interface {
	CreateDocument(ctx context.Context, index, id string, document any) error
}

// SecurityEventIndex writes audit events into monthly indices
// (<prefix>-2006.01) for search by the security team.
type SecurityEventIndex struct {
	es     DocumentCreator
	prefix string
}

func NewSecurityEventIndex(es DocumentCreator, prefix string) *SecurityEventIndex {
	return &SecurityEventIndex{es: es, prefix: prefix}
}

type eventDocument struct {
	ID            string            `json:"event_id"`
	Sequence      uint64            `json:"sequence"`
	Timestamp     time.Time         `json:"@timestamp"`
	SubjectID     string            `json:"subject_id,omitempty"`
	Action        string            `json:"action"`
	Resource      string            `json:"resource,omitempty"`
	Severity      string            `json:"severity"`
	SourceAddress string            `json:"source_address,omitempty"`
	UserAgent     string            `json:"user_agent,omitempty"`
	Details       map[string]string `json:"details,omitempty"`
	PrevHash      string            `json:"prev_hash"`
	Hash          string            `json:"hash"`
}

func (i *SecurityEventIndex) IndexFor(t time.Time) string {
	return i.prefix + "-" + t.UTC().Format("2006.01")
}

// Persist is idempotent per event id, so redelivered events are accepted.
func (i *SecurityEventIndex) Persist(ctx context.Context, ev models.SecurityEvent) error {
	doc := eventDocument{
		ID:            ev.ID,
		Sequence:      ev.Sequence,
		Timestamp:     ev.Timestamp,
		SubjectID:     ev.SubjectID,
		Action:        ev.Action,
		Resource:      ev.Resource,
		Severity:      string(ev.Severity),
		SourceAddress: ev.SourceAddress,
		UserAgent:     ev.UserAgent,
		Details:       ev.Details,
		PrevHash:      ev.PrevHash,
		Hash:          ev.Hash,
	}
	err := i.es.CreateDocument(ctx, i.IndexFor(ev.Timestamp), ev.ID, doc)
	if errors.Is(err, client.ErrDocumentExists) {
		return nil
	}
	return err
}
