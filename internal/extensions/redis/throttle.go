package redis

import (
	"sync"
	"time"
)

// Throttler rate-limits per-key events to at most one per interval. It
// backs awareness fan-out: cursor updates arrive far faster than peers
// need to see them, so most are dropped and the occasional one goes out.
type Throttler struct {
	mu       sync.Mutex
	interval time.Duration
	last     map[string]time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewThrottler creates a throttler. An interval of zero admits everything.
func NewThrottler(interval time.Duration) *Throttler {
	return &Throttler{
		interval: interval,
		last:     make(map[string]time.Time),
		now:      time.Now,
	}
}

// TryAcquire reports whether an event for key may proceed now, and records
// the admission when it may.
func (t *Throttler) TryAcquire(key string) bool {
	if t.interval <= 0 {
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if last, ok := t.last[key]; ok && now.Sub(last) < t.interval {
		return false
	}
	t.last[key] = now
	return true
}

// Remove forgets a key's admission history.
func (t *Throttler) Remove(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.last, key)
}

// Clear forgets everything.
func (t *Throttler) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = make(map[string]time.Time)
}
