// Package progress counts transferred bytes and decides when a progress
// notification is due.
package progress

import (
	"time"

	"golang.org/x/time/rate"
)

// Tracker accumulates received bytes for one transfer. It is not safe for
// concurrent use; the owning transfer loop is its only caller.
type Tracker struct {
	received int64
	total    int64
	limiter  *rate.Limiter
}

// NewTracker starts counting at offset. total may be 0 when the size is unknown.
// Notifications are spaced at least interval apart; interval <= 0 reports every chunk.
func NewTracker(offset, total int64, interval time.Duration) *Tracker {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if interval > 0 {
		limiter = rate.NewLimiter(rate.Every(interval), 1)
	}

	return &Tracker{received: offset, total: total, limiter: limiter}
}

// Advance adds n bytes and reports whether a notification should be emitted.
// Reaching the known total always reports.
func (t *Tracker) Advance(n int) (received int64, report bool) {
	if n <= 0 {
		return t.received, false
	}

	t.received += int64(n)

	if t.total > 0 && t.received >= t.total {
		return t.received, true
	}

	return t.received, t.limiter.Allow()
}

func (t *Tracker) Received() int64 { return t.received }

func (t *Tracker) Total() int64 { return t.total }

// Percent is the completed fraction in [0,100], or 0 when the total is unknown.
func (t *Tracker) Percent() float64 {
	if t.total <= 0 {
		return 0
	}

	return min(float64(t.received)*100/float64(t.total), 100)
}
