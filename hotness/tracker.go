package hotness

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/colorfulnotion/hybridvm/log"
	"github.com/colorfulnotion/hybridvm/types"
)

// State is the per-address position in the promotion state machine.
type State int32

const (
	StateCold State = iota
	StateWarm
	StateHot      // a compile task has been enqueued, exactly once
	StateCompiled // a cached block exists; dispatches bypass counting
	StateFailed   // backend rejected the block; interpreter forever, no retry
)

func (s State) String() string {
	switch s {
	case StateCold:
		return "cold"
	case StateWarm:
		return "warm"
	case StateHot:
		return "hot"
	case StateCompiled:
		return "compiled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// counter tracks one guest address. Counts use relaxed increments; only the
// threshold-crossing event needs to be exact, which the state CAS provides.
type counter struct {
	address   uint64
	firstSeen time.Time
	count     atomic.Uint64
	state     atomic.Int32
}

// Tracker decides promotion from "interpret" to "compile" per guest address.
// Counters are keyed by address only, independent of block content changes.
type Tracker struct {
	mu       sync.RWMutex
	counters map[uint64]*counter

	threshold *AdaptiveThreshold
}

// NewTracker builds a tracker reading its promotion bar from threshold.
func NewTracker(threshold *AdaptiveThreshold) *Tracker {
	return &Tracker{
		counters:  make(map[uint64]*counter),
		threshold: threshold,
	}
}

func (t *Tracker) get(addr uint64) *counter {
	t.mu.RLock()
	c := t.counters[addr]
	t.mu.RUnlock()
	if c != nil {
		return c
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if c = t.counters[addr]; c == nil {
		c = &counter{address: addr, firstSeen: time.Now()}
		t.counters[addr] = c
	}
	return c
}

// Touch records one interpreted dispatch of addr and reports whether this
// call is the one that crossed the promotion threshold. The Warm->Hot CAS
// guarantees at most one true return per promotion, however many execution
// contexts race on the same address.
func (t *Tracker) Touch(addr uint64) (count uint64, promote bool) {
	c := t.get(addr)

	st := State(c.state.Load())
	if st == StateCompiled || st == StateFailed || st == StateHot {
		return c.count.Load(), false
	}

	count = c.count.Add(1)
	if st == StateCold && count > 1 {
		c.state.CompareAndSwap(int32(StateCold), int32(StateWarm))
	}

	if count >= t.threshold.Current() {
		if c.state.CompareAndSwap(int32(StateWarm), int32(StateHot)) ||
			c.state.CompareAndSwap(int32(StateCold), int32(StateHot)) {
			log.Debug(log.HotnessMonitoring, "promotion threshold crossed", "addr", addr, "count", count, "threshold", t.threshold.Current())
			return count, true
		}
	}
	return count, false
}

// Demote returns a Hot address to Warm after a failed enqueue (full queue).
// Promotion is then retried on the next dispatch; backpressure, not an error.
func (t *Tracker) Demote(addr uint64) {
	c := t.get(addr)
	c.state.CompareAndSwap(int32(StateHot), int32(StateWarm))
}

// MarkCompiled records that a cached block now exists for addr.
func (t *Tracker) MarkCompiled(addr uint64) {
	t.get(addr).state.Store(int32(StateCompiled))
}

// MarkFailed pins addr to the interpreter path permanently. Never retried, so
// permanently unsupported constructs cannot cause a retry storm.
func (t *Tracker) MarkFailed(addr uint64) {
	t.get(addr).state.Store(int32(StateFailed))
}

// Reset clears the counter for addr, used when the address's cached block is
// evicted and the address must earn promotion again.
func (t *Tracker) Reset(addr uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.counters, addr)
}

// Count returns the current (possibly slightly stale) counter value.
func (t *Tracker) Count(addr uint64) uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if c := t.counters[addr]; c != nil {
		return c.count.Load()
	}
	return 0
}

// State returns the promotion state of addr.
func (t *Tracker) State(addr uint64) State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if c := t.counters[addr]; c != nil {
		return State(c.state.Load())
	}
	return StateCold
}

// FirstSeen returns when addr was first dispatched.
func (t *Tracker) FirstSeen(addr uint64) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if c := t.counters[addr]; c != nil {
		return c.firstSeen, true
	}
	return time.Time{}, false
}

// HotList returns the n highest-count addresses, descending, for statistics.
func (t *Tracker) HotList(n int) []types.HotBlock {
	t.mu.RLock()
	out := make([]types.HotBlock, 0, len(t.counters))
	for addr, c := range t.counters {
		out = append(out, types.HotBlock{Address: addr, Count: c.count.Load()})
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Address < out[j].Address
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
