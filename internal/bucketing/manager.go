package bucketing

import (
	"hash"
	"sync"
	"time"

	"admin-auth-service/internal/config"

	"github.com/spaolacci/murmur3"
)

// BucketingManager spreads security events over a fixed number of
// partitions so one noisy subject never produces a hot partition.
type BucketingManager struct {
	eventBuckets int
	hasherPool   sync.Pool
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	return NewWithBuckets(cfg.Bucketing.EventBuckets)
}

func NewWithBuckets(eventBuckets int) *BucketingManager {
	if eventBuckets <= 0 {
		eventBuckets = 1
	}
	return &BucketingManager{
		eventBuckets: eventBuckets,
		hasherPool: sync.Pool{
			New: func() interface{} {
				return murmur3.New64()
			},
		},
	}
}

// GetEventBucket returns a stable bucket in [0, eventBuckets).
func (bm *BucketingManager) GetEventBucket(key string) int {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return int(hasher.Sum64() % uint64(bm.eventBuckets))
}

// GetDateBucket is the UTC day partition for t.
func (bm *BucketingManager) GetDateBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (bm *BucketingManager) GetEventBuckets() int {
	return bm.eventBuckets
}
