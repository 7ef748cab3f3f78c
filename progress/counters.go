package progress

import (
	"sync/atomic"
)

// Slot is one worker's progress counter.
type Slot struct {
	n atomic.Int64
	_ [56]byte // keep slots on separate cache lines
}

// Add increments the slot by delta. Negative deltas are ignored.
func (s *Slot) Add(delta int64) {
	if s == nil || delta <= 0 {
		return
	}
	s.n.Add(delta)
}

// Load returns the slot value.
func (s *Slot) Load() int64 {
	if s == nil {
		return 0
	}
	return s.n.Load()
}

// Counters is a fixed set of per-worker slots.
type Counters struct {
	slots []Slot
}

// NewCounters creates n zeroed slots.
func NewCounters(n int) *Counters {
	return &Counters{slots: make([]Slot, max(n, 0))}
}

// Len returns the number of slots.
func (c *Counters) Len() int {
	return len(c.slots)
}

// Slot returns slot i.
func (c *Counters) Slot(i int) *Slot {
	return &c.slots[i]
}

// Sum returns the total over all slots.
func (c *Counters) Sum() int64 {
	var total int64
	for i := range c.slots {
		total += c.slots[i].n.Load()
	}
	return total
}

// Snapshot returns every slot value.
func (c *Counters) Snapshot() []int64 {
	out := make([]int64, len(c.slots))
	for i := range c.slots {
		out[i] = c.slots[i].n.Load()
	}
	return out
}
