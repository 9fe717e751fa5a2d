package cache

import (
	"sync"

	"github.com/colorfulnotion/hybridvm/types"
)

// cacheShard is a single shard of the code cache with LRU eviction.
// Each shard has its own lock to reduce contention in multi-threaded scenarios.
type cacheShard struct {
	mu sync.Mutex

	entries map[types.BlockKey]*CacheEntry

	// addrCount tracks how many resident entries exist per guest address,
	// independent of content fingerprint. Used by chain validity checks.
	addrCount map[uint64]int

	// LRU tracking (intrusive doubly-linked list)
	head *CacheEntry // Most recently used
	tail *CacheEntry // Least recently used

	capacityBytes int64
	currentBytes  int64

	hits      uint64
	misses    uint64
	evictions uint64
}

func newCacheShard(capacityBytes int64) *cacheShard {
	return &cacheShard{
		entries:       make(map[types.BlockKey]*CacheEntry),
		addrCount:     make(map[uint64]int),
		capacityBytes: capacityBytes,
	}
}

// get returns the entry with a reader reference added, or nil.
func (s *cacheShard) get(key types.BlockKey) *CacheEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		s.misses++
		return nil
	}
	s.moveToFront(entry)
	entry.AddRef()
	entry.Block.Touch()
	s.hits++
	return entry
}

// put inserts or overwrites (last-writer-wins) and evicts LRU entries until
// the shard fits its byte capacity again. Returns the replaced block, if any.
func (s *cacheShard) put(key types.BlockKey, block *CachedBlock) *CachedBlock {
	s.mu.Lock()
	defer s.mu.Unlock()

	var replaced *CachedBlock
	if existing, ok := s.entries[key]; ok {
		// Replace the whole entry rather than swapping existing.Block in
		// place: readers holding a handle from get read entry.Block without
		// the shard lock, so a published entry must never change.
		replaced = existing.Block
		s.removeLocked(existing)
	}
	s.insertLocked(key, block)
	for s.currentBytes > s.capacityBytes && s.tail != nil {
		s.evictLocked(s.tail)
	}
	return replaced
}

// warmUp inserts without any eviction check, for startup/restore bulk loads.
func (s *cacheShard) warmUp(key types.BlockKey, block *CachedBlock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[key]; ok {
		s.removeLocked(existing)
	}
	s.insertLocked(key, block)
}

func (s *cacheShard) insertLocked(key types.BlockKey, block *CachedBlock) {
	entry := newCacheEntry(key, block)
	s.entries[key] = entry
	s.addrCount[key.GuestAddress]++
	s.currentBytes += block.Size
	s.addToFront(entry)
}

// evictOne removes this shard's LRU entry. Returns false when empty.
func (s *cacheShard) evictOne() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tail == nil {
		return false
	}
	s.evictLocked(s.tail)
	return true
}

// evictKey defensively removes a specific entry (cache-corruption recovery).
func (s *cacheShard) evictKey(key types.BlockKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return false
	}
	s.evictLocked(entry)
	return true
}

func (s *cacheShard) evictLocked(entry *CacheEntry) {
	s.removeLocked(entry)
	s.evictions++
}

// removeLocked detaches an entry without counting an eviction (also used when
// an overwrite retires the old entry for a key).
func (s *cacheShard) removeLocked(entry *CacheEntry) {
	delete(s.entries, entry.Key)
	if s.addrCount[entry.Key.GuestAddress]--; s.addrCount[entry.Key.GuestAddress] <= 0 {
		delete(s.addrCount, entry.Key.GuestAddress)
	}
	s.removeFromList(entry)
	s.currentBytes -= entry.Block.Size
	// Drop the cache's reference; outstanding readers keep theirs.
	entry.Release()
}

func (s *cacheShard) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.entries {
		entry.Release()
	}
	s.entries = make(map[types.BlockKey]*CacheEntry)
	s.addrCount = make(map[uint64]int)
	s.head, s.tail = nil, nil
	s.currentBytes = 0
}

func (s *cacheShard) containsAddress(addr uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addrCount[addr] > 0
}

func (s *cacheShard) stats() types.CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.CacheStats{
		Entries:   len(s.entries),
		Bytes:     s.currentBytes,
		HitCount:  s.hits,
		MissCount: s.misses,
		Evictions: s.evictions,
	}
}

func (s *cacheShard) bytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentBytes
}

// --- intrusive LRU list ---

func (s *cacheShard) addToFront(entry *CacheEntry) {
	entry.prev = nil
	entry.next = s.head
	if s.head != nil {
		s.head.prev = entry
	}
	s.head = entry
	if s.tail == nil {
		s.tail = entry
	}
}

func (s *cacheShard) removeFromList(entry *CacheEntry) {
	if entry.prev != nil {
		entry.prev.next = entry.next
	} else {
		s.head = entry.next
	}
	if entry.next != nil {
		entry.next.prev = entry.prev
	} else {
		s.tail = entry.prev
	}
	entry.prev, entry.next = nil, nil
}

func (s *cacheShard) moveToFront(entry *CacheEntry) {
	if s.head == entry {
		return
	}
	s.removeFromList(entry)
	s.addToFront(entry)
}
