package scheduler

import (
	"sync"
	"time"
)

// rateLimiter enforces a sliding-window send ceiling per consultant.
type rateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	sends  map[string][]time.Time
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:  limit,
		window: window,
		sends:  make(map[string][]time.Time),
	}
}

// Allow records one send for the consultant if the window has room.
func (l *rateLimiter) Allow(consultantID string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	kept := l.sends[consultantID][:0]
	for _, t := range l.sends[consultantID] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.limit {
		l.sends[consultantID] = kept
		return false
	}
	l.sends[consultantID] = append(kept, now)
	return true
}
