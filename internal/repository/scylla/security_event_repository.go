package scylla

import (
	"context"

	"admin-auth-service/internal/bucketing"
	"admin-auth-service/internal/models"
)

type EventStore interface {
	InsertSecurityEvent(ctx context.Context, date string, bucket int, ev models.SecurityEvent) error
}

// SecurityEventRepository is the durable audit sink. Events are partitioned
// by UTC day and a murmur3 bucket of the subject.
type SecurityEventRepository struct {
	store   EventStore
	buckets *bucketing.BucketingManager
}

func NewSecurityEventRepository(store EventStore, buckets *bucketing.BucketingManager) *SecurityEventRepository {
	return &SecurityEventRepository{store: store, buckets: buckets}
}

func (r *SecurityEventRepository) Persist(ctx context.Context, ev models.SecurityEvent) error {
	key := ev.SubjectID
	if key == "" {
		key = ev.ID
	}
	return r.store.InsertSecurityEvent(ctx,
		r.buckets.GetDateBucket(ev.Timestamp),
		r.buckets.GetEventBucket(key),
		ev,
	)
}
