package cache

import (
	"hash/fnv"

	"github.com/colorfulnotion/hybridvm/log"
	"github.com/colorfulnotion/hybridvm/types"
)

const (
	// DefaultShardCount is the default number of code cache shards
	DefaultShardCount = 16
	// DefaultCapacityBytes bounds the total native code held across shards
	DefaultCapacityBytes = 64 * 1024 * 1024
)

// WarmUpEntry is one pre-compiled block for bulk insertion.
type WarmUpEntry struct {
	Key   types.BlockKey
	Block *CachedBlock
}

// CodeCache maps block keys to previously generated native code. The keyspace
// is sharded to reduce lock contention between execution contexts and the
// compile pool.
type CodeCache struct {
	shards     []*cacheShard
	shardCount int
}

// NewCodeCache creates a sharded code cache bounded to capacityBytes total.
func NewCodeCache(capacityBytes int64, shardCount int) *CodeCache {
	if shardCount <= 0 {
		shardCount = DefaultShardCount
	}
	if capacityBytes <= 0 {
		capacityBytes = DefaultCapacityBytes
	}
	perShard := capacityBytes / int64(shardCount)
	if perShard == 0 {
		perShard = 1
	}
	shards := make([]*cacheShard, shardCount)
	for i := range shards {
		shards[i] = newCacheShard(perShard)
	}
	return &CodeCache{shards: shards, shardCount: shardCount}
}

func (c *CodeCache) shardFor(key types.BlockKey) *cacheShard {
	h := fnv.New32a()
	h.Write(key.Encode())
	return c.shards[h.Sum32()%uint32(c.shardCount)]
}

// Lookup returns the entry for key with a reader reference added. The caller
// must Release the entry when it is done executing the block.
func (c *CodeCache) Lookup(key types.BlockKey) (*CacheEntry, bool) {
	entry := c.shardFor(key).get(key)
	if entry == nil {
		return nil, false
	}
	return entry, true
}

// Insert stores block under key, last-writer-wins. Returns the replaced
// block if the key was already present.
func (c *CodeCache) Insert(key types.BlockKey, block *CachedBlock) *CachedBlock {
	replaced := c.shardFor(key).put(key, block)
	log.Trace(log.CacheMonitoring, "insert", "key", key.String(), "bytes", block.Size, "replaced", replaced != nil)
	return replaced
}

// EvictOne removes a single LRU entry from the fullest shard. Returns false
// when the cache is empty.
func (c *CodeCache) EvictOne() bool {
	var fullest *cacheShard
	var max int64 = -1
	for _, s := range c.shards {
		if b := s.bytes(); b > max {
			max, fullest = b, s
		}
	}
	return fullest != nil && fullest.evictOne()
}

// EvictKey defensively drops one entry, used on integrity failures.
func (c *CodeCache) EvictKey(key types.BlockKey) bool {
	return c.shardFor(key).evictKey(key)
}

// Clear drops every entry. Outstanding reader references stay valid.
func (c *CodeCache) Clear() {
	for _, s := range c.shards {
		s.clear()
	}
}

// WarmUp bulk-inserts entries bypassing per-entry eviction checks, for
// startup and snapshot-restore scenarios.
func (c *CodeCache) WarmUp(entries []WarmUpEntry) {
	for _, e := range entries {
		c.shardFor(e.Key).warmUp(e.Key, e.Block)
	}
	log.Debug(log.CacheMonitoring, "warm-up complete", "entries", len(entries))
}

// ContainsAddress reports whether any resident block starts at addr,
// regardless of content fingerprint.
func (c *CodeCache) ContainsAddress(addr uint64) bool {
	for _, s := range c.shards {
		if s.containsAddress(addr) {
			return true
		}
	}
	return false
}

// Stats aggregates the per-shard counters.
func (c *CodeCache) Stats() types.CacheStats {
	var out types.CacheStats
	for _, s := range c.shards {
		st := s.stats()
		out.Entries += st.Entries
		out.Bytes += st.Bytes
		out.HitCount += st.HitCount
		out.MissCount += st.MissCount
		out.Evictions += st.Evictions
	}
	return out
}
