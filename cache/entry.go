package cache

import (
	"sync/atomic"
	"time"

	"github.com/colorfulnotion/hybridvm/types"
)

// CachedBlock is one unit of generated native code, owned by the code cache
// and shared read-only with execution threads through refcounted entries.
type CachedBlock struct {
	NativeCode   []byte
	Size         int64
	CreationTime time.Time
	SourceTier   types.ExecutionSource

	accessCount atomic.Uint64
}

// NewCachedBlock wraps generated code for insertion.
func NewCachedBlock(code []byte, tier types.ExecutionSource) *CachedBlock {
	return &CachedBlock{
		NativeCode:   code,
		Size:         int64(len(code)),
		CreationTime: time.Now(),
		SourceTier:   tier,
	}
}

// Touch bumps the access count. Relaxed; exact counts are not safety-critical.
func (b *CachedBlock) Touch() uint64 {
	return b.accessCount.Add(1)
}

// AccessCount returns the number of lookups that returned this block.
func (b *CachedBlock) AccessCount() uint64 {
	return b.accessCount.Load()
}

// CacheEntry holds a cached block inside a shard with LRU tracking. Key and
// Block never change after the entry is published: an overwrite installs a
// fresh entry, so holders of a handle can read Block without the shard lock.
type CacheEntry struct {
	Key   types.BlockKey
	Block *CachedBlock

	// LRU chain pointers (intrusive linked list)
	prev *CacheEntry
	next *CacheEntry

	// Reference counting: the cache itself holds one reference; each
	// outstanding reader holds one more. Eviction drops the cache's
	// reference, so readers that already hold the entry finish safely.
	refs atomic.Int32
}

func newCacheEntry(key types.BlockKey, block *CachedBlock) *CacheEntry {
	e := &CacheEntry{Key: key, Block: block}
	e.refs.Store(1) // cache's own reference
	return e
}

// AddRef increments the reference count and returns the new count.
func (e *CacheEntry) AddRef() int32 {
	return e.refs.Add(1)
}

// Release decrements the reference count. Safe to call from execution
// threads after the entry has been evicted.
func (e *CacheEntry) Release() int32 {
	n := e.refs.Add(-1)
	if n < 0 {
		panic("cache: entry released more times than referenced")
	}
	return n
}

// RefCount returns the current reference count.
func (e *CacheEntry) RefCount() int32 {
	return e.refs.Load()
}
