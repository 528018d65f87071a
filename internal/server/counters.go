package server

import "sync/atomic"

// Counters aggregates process-wide message accounting shared by all
// sessions. Monotonic for the life of the server process.
type Counters struct {
	total       atomic.Int64
	processed   atomic.Int64
	malformed   atomic.Int64
	rateLimited atomic.Int64
}

// CounterSnapshot is a point-in-time copy of the counters.
type CounterSnapshot struct {
	Total       int64 `json:"total"`
	Processed   int64 `json:"processed"`
	Malformed   int64 `json:"malformed"`
	RateLimited int64 `json:"rate_limited"`
}

func (c *Counters) recordTotal()       { c.total.Add(1) }
func (c *Counters) recordProcessed()   { c.processed.Add(1) }
func (c *Counters) recordMalformed()   { c.malformed.Add(1) }
func (c *Counters) recordRateLimited() { c.rateLimited.Add(1) }

// Snapshot returns the current counter values.
func (c *Counters) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		Total:       c.total.Load(),
		Processed:   c.processed.Load(),
		Malformed:   c.malformed.Load(),
		RateLimited: c.rateLimited.Load(),
	}
}
