package engine

import (
	"fmt"
	"sync"

	"github.com/colorfulnotion/hybridvm/types"
)

// FlatMemory is a single contiguous guest address space backed by one byte
// slice. It satisfies the memory interface for workloads and tests that do
// not need an MMU.
type FlatMemory struct {
	mu   sync.RWMutex
	data []byte
}

// NewFlatMemory allocates a zeroed address space of the given size.
func NewFlatMemory(size int) *FlatMemory {
	return &FlatMemory{data: make([]byte, size)}
}

func (m *FlatMemory) Read(addr uint64, n int) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	// addr near the top of the address space would overflow addr+n, so
	// compare against the remaining room instead.
	size := uint64(len(m.data))
	if addr > size || uint64(n) > size-addr {
		return nil, fmt.Errorf("read [0x%x, +%d) out of bounds (size 0x%x)", addr, n, len(m.data))
	}
	out := make([]byte, n)
	copy(out, m.data[addr:addr+uint64(n)])
	return out, nil
}

func (m *FlatMemory) Write(addr uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	size := uint64(len(m.data))
	if addr > size || uint64(len(data)) > size-addr {
		return fmt.Errorf("write [0x%x, +%d) out of bounds (size 0x%x)", addr, len(data), len(m.data))
	}
	copy(m.data[addr:], data)
	return nil
}

func (m *FlatMemory) FetchInstruction(addr uint64, n int) ([]byte, error) {
	return m.Read(addr, n)
}

// MapDecoder serves pre-decoded blocks from a map, for synthetic workloads
// and tests where no real instruction frontend is attached.
type MapDecoder struct {
	mu     sync.RWMutex
	blocks map[uint64]*types.IRBlock
}

func NewMapDecoder() *MapDecoder {
	return &MapDecoder{blocks: make(map[uint64]*types.IRBlock)}
}

// Add registers a block at its own address.
func (d *MapDecoder) Add(blk *types.IRBlock) {
	d.mu.Lock()
	d.blocks[blk.Address] = blk
	d.mu.Unlock()
}

func (d *MapDecoder) Decode(pc uint64) (*types.IRBlock, error) {
	d.mu.RLock()
	blk, ok := d.blocks[pc]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no decodable block at 0x%x", pc)
	}
	return blk, nil
}
