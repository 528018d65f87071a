// Package ratelimit owns the per-client admission window.
//
// State is private to one session; callers need no locking.
package ratelimit

import "time"

// Defaults applied when NewWindow receives zero values.
const (
	DefaultLimit = 100
	DefaultSpan  = time.Second
)

// Window admits at most limit timestamps inside the trailing span.
// Rejected timestamps are not recorded, so a flood past the cap does not
// extend its own penalty.
type Window struct {
	limit  int
	span   time.Duration
	stamps []time.Time
}

func NewWindow(limit int, span time.Duration) *Window {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if span <= 0 {
		span = DefaultSpan
	}
	return &Window{
		limit:  limit,
		span:   span,
		stamps: make([]time.Time, 0, limit),
	}
}

// Allow reports whether a message arriving at now is admissible, recording
// it when admitted.
func (w *Window) Allow(now time.Time) bool {
	cutoff := now.Add(-w.span)
	evict := 0
	for evict < len(w.stamps) && !w.stamps[evict].After(cutoff) {
		evict++
	}
	if evict > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[evict:]...)
	}
	if len(w.stamps) >= w.limit {
		return false
	}
	w.stamps = append(w.stamps, now)
	return true
}

// Admitted returns the number of admissions still inside the window.
func (w *Window) Admitted() int {
	return len(w.stamps)
}
