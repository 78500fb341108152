package audit

import (
	"sync"

	"admin-auth-service/internal/models"
)

// ring is a fixed-size buffer that overwrites its oldest entry when full.
type ring struct {
	mu    sync.Mutex
	buf   []models.SecurityEvent
	start int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]models.SecurityEvent, capacity)}
}

func (r *ring) push(ev models.SecurityEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = ev
		r.size++
		return
	}
	r.buf[r.start] = ev
	r.start = (r.start + 1) % len(r.buf)
}

// drain empties the buffer and returns its contents oldest first.
func (r *ring) drain() []models.SecurityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.SecurityEvent, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
		r.buf[(r.start+i)%len(r.buf)] = models.SecurityEvent{}
	}
	r.start, r.size = 0, 0
	return out
}

func (r *ring) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}
