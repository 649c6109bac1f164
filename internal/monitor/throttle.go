package monitor

import (
	"sync"
	"time"
)

// DefaultInterval is the minimum spacing between resource samples.
const DefaultInterval = time.Second

// Throttle rate-limits sampling on the caller side.
type Throttle struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	now      func() time.Time
}

// NewThrottle creates a throttle. A non-positive interval uses DefaultInterval.
func NewThrottle(interval time.Duration) *Throttle {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Throttle{interval: interval, now: time.Now}
}

// Allow reports whether strictly more than the interval has passed since the
// last allowed call. The first call is always allowed.
func (t *Throttle) Allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if !t.last.IsZero() && now.Sub(t.last) <= t.interval {
		return false
	}
	t.last = now
	return true
}
