package autosave

import "sync/atomic"

// Clock is a monotonic logical clock stamping content changes.
// Each Next is unique and strictly increasing; safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
