package clickhouse

import (
	"context"
	"fmt"

	"admin-auth-service/internal/models"
)

const createSecurityEvents = `
CREATE TABLE IF NOT EXISTS admin_security_events (
    event_id       UUID,
    sequence       UInt64,
    event_time     DateTime64(3, 'UTC'),
    subject_id     String,
    action         LowCardinality(String),
    resource       LowCardinality(String),
    severity       LowCardinality(String),
    source_address String,
    user_agent     String,
    details        Map(String, String),
    prev_hash      String,
    hash           String
) ENGINE = ReplacingMergeTree
PARTITION BY toYYYYMM(event_time)
ORDER BY (event_time, event_id)`

const insertSecurityEvent = `
INSERT INTO admin_security_events (
    event_id, sequence, event_time, subject_id, action, resource, severity,
    source_address, user_agent, details, prev_hash, hash
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

type Execer interface {
	Exec(ctx context.Context, query string, args ...any) error
}

// SecurityEventStore keeps audit events in ClickHouse for long-range
// reporting. ReplacingMergeTree collapses redelivered rows by event id.
type SecurityEventStore struct {
	conn Execer
}

func NewSecurityEventStore(conn Execer) *SecurityEventStore {
	return &SecurityEventStore{conn: conn}
}

func (s *SecurityEventStore) EnsureSchema(ctx context.Context) error {
	if err := s.conn.Exec(ctx, createSecurityEvents); err != nil {
		return fmt.Errorf("failed to create admin_security_events: %w", err)
	}
	return nil
}

func (s *SecurityEventStore) Persist(ctx context.Context, ev models.SecurityEvent) error {
	details := ev.Details
	if details == nil {
		details = map[string]string{}
	}
	err := s.conn.Exec(ctx, insertSecurityEvent,
		ev.ID, ev.Sequence, ev.Timestamp, ev.SubjectID, ev.Action, ev.Resource, string(ev.Severity),
		ev.SourceAddress, ev.UserAgent, details, ev.PrevHash, ev.Hash,
	)
	if err != nil {
		return fmt.Errorf("failed to insert security event: %w", err)
	}
	return nil
}
