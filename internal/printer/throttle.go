package printer

import (
	"sync"
	"time"
)

// RestartThrottle bounds how often the spooler may be restarted. It keeps
// a ring buffer of recent restart times; once the limit is reached within
// the window, further restarts are suppressed until the oldest ages out.
type RestartThrottle struct {
	mu      sync.Mutex
	history []time.Time
	pos     int
	count   int
	limit   int
	window  time.Duration
	now     func() time.Time
}

// NewRestartThrottle allows at most limit restarts per window.
func NewRestartThrottle(limit int, window time.Duration) *RestartThrottle {
	if limit < 1 {
		limit = 1
	}
	return &RestartThrottle{
		history: make([]time.Time, limit),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// Allow reports whether a restart may proceed now, recording it if so.
func (t *RestartThrottle) Allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	recent := 0
	for i := 0; i < t.count; i++ {
		if now.Sub(t.history[i]) <= t.window {
			recent++
		}
	}
	if recent >= t.limit {
		return false
	}

	t.history[t.pos] = now
	t.pos = (t.pos + 1) % t.limit
	if t.count < t.limit {
		t.count++
	}
	return true
}
