package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"admin-auth-service/internal/models"
)

type Producer interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// KafkaAlertHook publishes critical security events to the on-call topic.
type KafkaAlertHook struct {
	producer Producer
	topic    string
	service  string
}

func NewKafkaAlertHook(producer Producer, topic, service string) *KafkaAlertHook {
	return &KafkaAlertHook{producer: producer, topic: topic, service: service}
}

type alertMessage struct {
	Service       string            `json:"service"`
	EventID       string            `json:"event_id"`
	Sequence      uint64            `json:"sequence"`
	Action        string            `json:"action"`
	Severity      string            `json:"severity"`
	SubjectID     string            `json:"subject_id,omitempty"`
	SourceAddress string            `json:"source_address,omitempty"`
	Details       map[string]string `json:"details,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
	Hash          string            `json:"hash"`
}

func (h *KafkaAlertHook) Notify(ctx context.Context, ev models.SecurityEvent) error {
	payload, err := json.Marshal(alertMessage{
		Service:       h.service,
		EventID:       ev.ID,
		Sequence:      ev.Sequence,
		Action:        ev.Action,
		Severity:      string(ev.Severity),
		SubjectID:     ev.SubjectID,
		SourceAddress: ev.SourceAddress,
		Details:       ev.Details,
		OccurredAt:    ev.Timestamp,
		Hash:          ev.Hash,
	})
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	key := ev.SubjectID
	if key == "" {
		key = ev.Action
	}
	return h.producer.ProduceMessage(ctx, h.topic, []byte(key), payload, map[string]string{
		"severity": string(ev.Severity),
		"action":   ev.Action,
	})
}
