package cache

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common/lru"

	"github.com/colorfulnotion/hybridvm/types"
)

// Policy selects the fast-path cache's eviction behavior at construction time.
type Policy string

const (
	PolicyLRU  Policy = "lru"
	PolicyLFU  Policy = "lfu"
	PolicyFIFO Policy = "fifo"
)

// InstructionKey identifies a single decoded instruction by opcode and
// operand shape. Entries are far smaller and more numerous than code cache
// blocks, which is why this cache is separate.
type InstructionKey = types.IROp

// FastPathCache memoizes per-instruction translations for architectures
// whose single-instruction translation is expensive but highly repetitive.
// It is a pure memoization layer: a miss never triggers a background compile.
type FastPathCache struct {
	mu     sync.Mutex
	policy fastPathPolicy

	hits      uint64
	misses    uint64
	evictions uint64
	bytes     int64
}

// NewFastPathCache builds a fast-path cache holding up to capacity entries
// under the given eviction policy.
func NewFastPathCache(capacity int, policy Policy) (*FastPathCache, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("fast-path capacity must be positive, got %d", capacity)
	}
	var p fastPathPolicy
	switch policy {
	case PolicyLRU:
		p = newLRUPolicy(capacity)
	case PolicyLFU:
		p = newLFUPolicy(capacity)
	case PolicyFIFO:
		p = newFIFOPolicy(capacity)
	default:
		return nil, fmt.Errorf("unknown fast-path policy %q", policy)
	}
	return &FastPathCache{policy: p}, nil
}

// TranslateFast returns the memoized translation for key, if present.
func (c *FastPathCache) TranslateFast(key InstructionKey) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.policy.get(key)
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return data, ok
}

// InsertFast stores a translation computed by the backend after a miss.
func (c *FastPathCache) InsertFast(key InstructionKey, translated []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	evictedBytes, added := c.policy.add(key, translated)
	if evictedBytes > 0 {
		c.evictions++
		c.bytes -= int64(evictedBytes)
	}
	if added {
		c.bytes += int64(len(translated))
	}
}

// Stats snapshots the cache counters.
func (c *FastPathCache) Stats() types.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return types.CacheStats{
		Entries:   c.policy.len(),
		Bytes:     c.bytes,
		HitCount:  c.hits,
		MissCount: c.misses,
		Evictions: c.evictions,
	}
}

// fastPathPolicy is the internal policy contract. All calls happen under the
// cache lock. add returns the byte size of an evicted entry (0 if none) and
// whether the key was newly admitted.
type fastPathPolicy interface {
	get(key InstructionKey) ([]byte, bool)
	add(key InstructionKey, data []byte) (evictedBytes int, added bool)
	len() int
}

// --- LRU (go-ethereum BasicLRU) ---

type lruPolicy struct {
	capacity int
	inner    lru.BasicLRU[InstructionKey, []byte]
}

func newLRUPolicy(capacity int) *lruPolicy {
	return &lruPolicy{
		capacity: capacity,
		inner:    lru.NewBasicLRU[InstructionKey, []byte](capacity),
	}
}

func (p *lruPolicy) get(key InstructionKey) ([]byte, bool) {
	return p.inner.Get(key)
}

func (p *lruPolicy) add(key InstructionKey, data []byte) (int, bool) {
	if _, exists := p.inner.Peek(key); exists {
		p.inner.Add(key, data)
		return 0, false
	}
	// Capture the eviction victim's size before BasicLRU drops it.
	var evictedBytes int
	if p.inner.Len() >= p.capacity {
		if _, oldestVal, ok := p.inner.GetOldest(); ok {
			evictedBytes = len(oldestVal)
		}
	}
	p.inner.Add(key, data)
	return evictedBytes, true
}

func (p *lruPolicy) len() int {
	return p.inner.Len()
}

// --- LFU ---

type lfuEntry struct {
	key   InstructionKey
	data  []byte
	count uint64
}

type lfuPolicy struct {
	capacity int
	entries  map[InstructionKey]*lfuEntry
}

func newLFUPolicy(capacity int) *lfuPolicy {
	return &lfuPolicy{capacity: capacity, entries: make(map[InstructionKey]*lfuEntry)}
}

func (p *lfuPolicy) get(key InstructionKey) ([]byte, bool) {
	e, ok := p.entries[key]
	if !ok {
		return nil, false
	}
	e.count++
	return e.data, true
}

func (p *lfuPolicy) add(key InstructionKey, data []byte) (int, bool) {
	if e, ok := p.entries[key]; ok {
		e.data = data
		return 0, false
	}
	var evictedBytes int
	if len(p.entries) >= p.capacity {
		var victim *lfuEntry
		for _, e := range p.entries {
			if victim == nil || e.count < victim.count {
				victim = e
			}
		}
		evictedBytes = len(victim.data)
		delete(p.entries, victim.key)
	}
	p.entries[key] = &lfuEntry{key: key, data: data, count: 1}
	return evictedBytes, true
}

func (p *lfuPolicy) len() int {
	return len(p.entries)
}

// --- FIFO ---

type fifoPolicy struct {
	capacity int
	entries  map[InstructionKey][]byte
	order    *list.List // front = oldest
}

func newFIFOPolicy(capacity int) *fifoPolicy {
	return &fifoPolicy{
		capacity: capacity,
		entries:  make(map[InstructionKey][]byte),
		order:    list.New(),
	}
}

func (p *fifoPolicy) get(key InstructionKey) ([]byte, bool) {
	data, ok := p.entries[key]
	return data, ok
}

func (p *fifoPolicy) add(key InstructionKey, data []byte) (int, bool) {
	if _, ok := p.entries[key]; ok {
		p.entries[key] = data
		return 0, false
	}
	var evictedBytes int
	if len(p.entries) >= p.capacity {
		oldest := p.order.Front()
		victim := oldest.Value.(InstructionKey)
		evictedBytes = len(p.entries[victim])
		delete(p.entries, victim)
		p.order.Remove(oldest)
	}
	p.entries[key] = data
	p.order.PushBack(key)
	return evictedBytes, true
}

func (p *fifoPolicy) len() int {
	return len(p.entries)
}
