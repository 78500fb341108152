package lockout

import (
	"context"
	"sort"
	"sync"

	"admin-auth-service/internal/models"
)

// DefaultMaxFailures is the number of consecutive failures before lockout.
const DefaultMaxFailures = 3

// Tracker counts consecutive failures per identifier. Counts only ever go
// back to zero through Reset; there is no time-based decay.
type Tracker struct {
	mu       sync.Mutex
	failures map[string]int
}

func New() *Tracker {
	return &Tracker{failures: make(map[string]int)}
}

// RecordFailure increments the counter and returns the new count.
func (t *Tracker) RecordFailure(_ context.Context, identifier string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[identifier]++
	return t.failures[identifier]
}

func (t *Tracker) IsLockedOut(_ context.Context, identifier string, maxFailures int) bool {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxFailures
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failures[identifier] >= maxFailures
}

func (t *Tracker) Reset(_ context.Context, identifier string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.failures, identifier)
}

func (t *Tracker) Count(identifier string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failures[identifier]
}

// Locked lists identifiers at or above maxFailures, sorted.
func (t *Tracker) Locked(maxFailures int) []models.FailedAttemptRecord {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxFailures
	}
	t.mu.Lock()
	out := make([]models.FailedAttemptRecord, 0)
	for id, n := range t.failures {
		if n >= maxFailures {
			out = append(out, models.FailedAttemptRecord{Identifier: id, Count: n})
		}
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out
}
