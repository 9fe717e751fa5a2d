package cache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/hybridvm/types"
)

func ikey(op, dst uint8, imm uint64) InstructionKey {
	return InstructionKey{Opcode: op, Dst: dst, Imm: imm}
}

func TestFastPathMemoization(t *testing.T) {
	c, err := NewFastPathCache(8, PolicyLRU)
	require.NoError(t, err)

	key := ikey(types.ADD, 1, 0)
	_, ok := c.TranslateFast(key)
	require.False(t, ok)

	c.InsertFast(key, []byte{0x48, 0x01, 0xd8})
	data, ok := c.TranslateFast(key)
	require.True(t, ok)
	require.Equal(t, []byte{0x48, 0x01, 0xd8}, data)

	st := c.Stats()
	require.Equal(t, uint64(1), st.HitCount)
	require.Equal(t, uint64(1), st.MissCount)
	require.Equal(t, 1, st.Entries)
}

func TestFastPathLRUEviction(t *testing.T) {
	c, err := NewFastPathCache(3, PolicyLRU)
	require.NoError(t, err)

	for i := uint64(0); i < 3; i++ {
		c.InsertFast(ikey(types.LOAD_IMM, 1, i), []byte{byte(i)})
	}
	// Touch entry 0 so entry 1 becomes LRU.
	_, ok := c.TranslateFast(ikey(types.LOAD_IMM, 1, 0))
	require.True(t, ok)

	c.InsertFast(ikey(types.LOAD_IMM, 1, 3), []byte{3})

	_, ok = c.TranslateFast(ikey(types.LOAD_IMM, 1, 1))
	require.False(t, ok, "LRU victim survived")
	_, ok = c.TranslateFast(ikey(types.LOAD_IMM, 1, 0))
	require.True(t, ok)
	require.Equal(t, 3, c.Stats().Entries)
}

func TestFastPathLFUEviction(t *testing.T) {
	c, err := NewFastPathCache(3, PolicyLFU)
	require.NoError(t, err)

	for i := uint64(0); i < 3; i++ {
		c.InsertFast(ikey(types.LOAD_IMM, 1, i), []byte{byte(i)})
	}
	// Entries 0 and 2 get extra hits; entry 1 stays at its admission count.
	for j := 0; j < 3; j++ {
		c.TranslateFast(ikey(types.LOAD_IMM, 1, 0))
		c.TranslateFast(ikey(types.LOAD_IMM, 1, 2))
	}

	c.InsertFast(ikey(types.LOAD_IMM, 1, 3), []byte{3})

	_, ok := c.TranslateFast(ikey(types.LOAD_IMM, 1, 1))
	require.False(t, ok, "LFU victim survived")
	_, ok = c.TranslateFast(ikey(types.LOAD_IMM, 1, 0))
	require.True(t, ok)
	_, ok = c.TranslateFast(ikey(types.LOAD_IMM, 1, 2))
	require.True(t, ok)
}

func TestFastPathFIFOEviction(t *testing.T) {
	c, err := NewFastPathCache(3, PolicyFIFO)
	require.NoError(t, err)

	for i := uint64(0); i < 3; i++ {
		c.InsertFast(ikey(types.LOAD_IMM, 1, i), []byte{byte(i)})
	}
	// Hits do not protect a FIFO entry.
	c.TranslateFast(ikey(types.LOAD_IMM, 1, 0))
	c.TranslateFast(ikey(types.LOAD_IMM, 1, 0))

	c.InsertFast(ikey(types.LOAD_IMM, 1, 3), []byte{3})

	_, ok := c.TranslateFast(ikey(types.LOAD_IMM, 1, 0))
	require.False(t, ok, "oldest FIFO entry survived")
	_, ok = c.TranslateFast(ikey(types.LOAD_IMM, 1, 1))
	require.True(t, ok)
}

func TestFastPathRejectsBadConfig(t *testing.T) {
	_, err := NewFastPathCache(0, PolicyLRU)
	require.Error(t, err)
	_, err = NewFastPathCache(8, Policy("clock"))
	require.Error(t, err)
}
