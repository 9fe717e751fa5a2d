package engine

import (
	"sync"
	"time"
)

// interpCost keeps a running average of interpreted execution time per guest
// address. The averages feed the adaptive threshold's benefit estimate: a
// block that is cheap to interpret justifies less compilation than one that
// burns real time every dispatch.
type interpCost struct {
	mu    sync.RWMutex
	total map[uint64]time.Duration
	runs  map[uint64]uint64
}

func newInterpCost() *interpCost {
	return &interpCost{
		total: make(map[uint64]time.Duration),
		runs:  make(map[uint64]uint64),
	}
}

func (c *interpCost) record(addr uint64, d time.Duration) {
	c.mu.Lock()
	c.total[addr] += d
	c.runs[addr]++
	c.mu.Unlock()
}

// average returns the mean interpreted duration of one run of addr, or 0
// before any sample.
func (c *interpCost) average(addr uint64) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	runs := c.runs[addr]
	if runs == 0 {
		return 0
	}
	return c.total[addr] / time.Duration(runs)
}

// benefit estimates the interpreted cost a compiled block avoids: the mean
// per-run cost scaled by the runs observed so far, the cheapest available
// proxy for expected reuse.
func (c *interpCost) benefit(addr uint64) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	runs := c.runs[addr]
	if runs == 0 {
		return 0
	}
	return c.total[addr]
}
