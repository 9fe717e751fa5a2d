package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/hybridvm/types"
)

func blockAt(addr uint64, size int) (types.BlockKey, *CachedBlock) {
	ir := &types.IRBlock{
		Address: addr,
		Ops:     []types.IROp{{Opcode: types.LOAD_IMM, Dst: 1, Imm: addr}},
		Term:    types.Terminator{JumpType: types.RETURN_JUMP},
	}
	key := types.NewBlockKey(types.ArchRISCV64, types.ArchX86_64, ir)
	code := make([]byte, size)
	for i := range code {
		code[i] = byte(addr)
	}
	return key, NewCachedBlock(code, types.SourceJitCompiled)
}

func TestCodeCacheLookupInsert(t *testing.T) {
	c := NewCodeCache(1<<20, 4)

	key, block := blockAt(0x1000, 64)
	_, ok := c.Lookup(key)
	require.False(t, ok)

	require.Nil(t, c.Insert(key, block))

	entry, ok := c.Lookup(key)
	require.True(t, ok)
	require.Equal(t, block.NativeCode, entry.Block.NativeCode)
	require.Equal(t, uint64(1), entry.Block.AccessCount())
	entry.Release()

	// Last-writer-wins overwrite returns the replaced block.
	_, block2 := blockAt(0x1000, 64)
	replaced := c.Insert(key, block2)
	require.Same(t, block, replaced)
}

// Overwriting a key never mutates an entry a reader already holds: a handle
// returned by Lookup keeps pointing at one consistent block while writers
// keep replacing the key. Run under the race detector.
func TestCodeCacheReaderSafeAcrossOverwrite(t *testing.T) {
	c := NewCodeCache(1<<20, 1)

	key, block := blockAt(0x1000, 64)
	c.Insert(key, block)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			code := make([]byte, 32+(i%4)*16)
			for j := range code {
				code[j] = byte(i)
			}
			c.Insert(key, NewCachedBlock(code, types.SourceJitCompiled))
		}
	}()

	for i := 0; i < 2000; i++ {
		entry, ok := c.Lookup(key)
		require.True(t, ok)
		blk := entry.Block
		require.Equal(t, blk.Size, int64(len(blk.NativeCode)))
		for _, b := range blk.NativeCode {
			require.Equal(t, blk.NativeCode[0], b, "torn block observed through handle")
		}
		entry.Release()
	}
	close(stop)
	wg.Wait()
}

// Code cache size in bytes never exceeds its configured capacity after any
// single operation completes.
func TestCodeCacheCapacityNeverExceeded(t *testing.T) {
	const capacity = int64(10 * 128)
	c := NewCodeCache(capacity, 4)

	for i := 0; i < 200; i++ {
		key, block := blockAt(uint64(0x1000+i*4), 128)
		c.Insert(key, block)
		require.LessOrEqual(t, c.Stats().Bytes, capacity, "after insert %d", i)
	}
}

// Scenario C: 100 inserts into a cache with capacity for 20 blocks; the 20
// most recently accessed survive. Single shard for exact LRU semantics.
func TestCodeCacheLRUSurvivors(t *testing.T) {
	const blockSize = 64
	c := NewCodeCache(20*blockSize, 1)

	keys := make([]types.BlockKey, 100)
	for i := 0; i < 100; i++ {
		key, block := blockAt(uint64(0x1000+i*4), blockSize)
		keys[i] = key
		c.Insert(key, block)
	}

	st := c.Stats()
	require.LessOrEqual(t, st.Entries, 20)
	require.LessOrEqual(t, st.Bytes, int64(20*blockSize))

	// The last 20 inserted are the most recently used and must survive.
	for i := 80; i < 100; i++ {
		entry, ok := c.Lookup(keys[i])
		require.True(t, ok, "recently used block %d evicted", i)
		entry.Release()
	}
	for i := 0; i < 80; i++ {
		if entry, ok := c.Lookup(keys[i]); ok {
			entry.Release()
			t.Fatalf("stale block %d survived past capacity", i)
		}
	}
}

// A cached block is never invalidated under a reader: eviction drops the
// cache's reference while an outstanding handle stays usable.
func TestCodeCacheEvictionKeepsOutstandingHandle(t *testing.T) {
	c := NewCodeCache(64, 1)

	key, block := blockAt(0x1000, 64)
	c.Insert(key, block)

	entry, ok := c.Lookup(key)
	require.True(t, ok)
	require.Equal(t, int32(2), entry.RefCount())

	// Force eviction by inserting a second full-size block.
	key2, block2 := blockAt(0x2000, 64)
	c.Insert(key2, block2)

	_, ok = c.Lookup(key)
	require.False(t, ok, "evicted entry still resident")

	// Reader's handle remains intact after eviction.
	require.Equal(t, int32(1), entry.RefCount())
	require.Equal(t, block.NativeCode, entry.Block.NativeCode)
	require.Equal(t, int32(0), entry.Release())
}

func TestCodeCacheWarmUpBypassesEviction(t *testing.T) {
	c := NewCodeCache(64, 1)

	entries := make([]WarmUpEntry, 5)
	for i := range entries {
		key, block := blockAt(uint64(0x1000+i*4), 64)
		entries[i] = WarmUpEntry{Key: key, Block: block}
	}
	c.WarmUp(entries)

	st := c.Stats()
	require.Equal(t, 5, st.Entries, "warm-up must not evict")
	require.Equal(t, int64(5*64), st.Bytes)

	// Normal inserts afterwards shrink it back under capacity.
	key, block := blockAt(0x9000, 64)
	c.Insert(key, block)
	require.LessOrEqual(t, c.Stats().Bytes, int64(64))
}

func TestCodeCacheEvictOneAndClear(t *testing.T) {
	c := NewCodeCache(1<<20, 2)
	for i := 0; i < 10; i++ {
		key, block := blockAt(uint64(0x1000+i*4), 32)
		c.Insert(key, block)
	}
	require.True(t, c.EvictOne())
	require.Equal(t, 9, c.Stats().Entries)

	c.Clear()
	st := c.Stats()
	require.Equal(t, 0, st.Entries)
	require.Equal(t, int64(0), st.Bytes)
	require.False(t, c.EvictOne())
}

func TestCodeCacheContainsAddress(t *testing.T) {
	c := NewCodeCache(1<<20, 4)
	key, block := blockAt(0x4000, 32)
	require.False(t, c.ContainsAddress(0x4000))
	c.Insert(key, block)
	require.True(t, c.ContainsAddress(0x4000))
	require.True(t, c.EvictKey(key))
	require.False(t, c.ContainsAddress(0x4000))
}

func TestCodeCacheConcurrentAccess(t *testing.T) {
	c := NewCodeCache(1<<16, 8)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				addr := uint64(0x1000 + (i%50)*8)
				key, block := blockAt(addr, 64)
				if i%3 == 0 {
					c.Insert(key, block)
				} else if entry, ok := c.Lookup(key); ok {
					if len(entry.Block.NativeCode) != 64 {
						panic(fmt.Sprintf("goroutine %d: torn entry", g))
					}
					entry.Release()
				}
			}
		}(g)
	}
	wg.Wait()
	require.LessOrEqual(t, c.Stats().Bytes, int64(1<<16))
}
