package models

import "time"

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// SecurityEvent is immutable once recorded. Sequence, PrevHash and Hash are
// stamped by the audit logger and chain each event to its predecessor.
type SecurityEvent struct {
	ID            string            `json:"id" db:"event_id"`
	SubjectID     string            `json:"subject_id,omitempty" db:"subject_id"`
	Action        string            `json:"action" db:"action"`
	Resource      string            `json:"resource" db:"resource"`
	Severity      Severity          `json:"severity" db:"severity"`
	Details       map[string]string `json:"details,omitempty" db:"details"`
	SourceAddress string            `json:"source_address,omitempty" db:"source_address"`
	UserAgent     string            `json:"user_agent,omitempty" db:"user_agent"`
	Timestamp     time.Time         `json:"timestamp" db:"event_time"`
	Sequence      uint64            `json:"sequence" db:"sequence"`
	PrevHash      string            `json:"prev_hash" db:"prev_hash"`
	Hash          string            `json:"hash" db:"hash"`
}

// Clone returns a copy whose Details map is not shared with the receiver.
func (e SecurityEvent) Clone() SecurityEvent {
	if e.Details != nil {
		details := make(map[string]string, len(e.Details))
		for k, v := range e.Details {
			details[k] = v
		}
		e.Details = details
	}
	return e
}
