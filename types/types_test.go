package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testBlock(addr uint64) *IRBlock {
	return &IRBlock{
		Address: addr,
		Ops: []IROp{
			{Opcode: LOAD_IMM, Dst: 1, Imm: 42},
			{Opcode: ADD, Dst: 2, Src1: 1, Src2: 1},
		},
		Term: Terminator{JumpType: DIRECT_JUMP, Target: addr + 16},
	}
}

func TestFingerprintDetectsContentChange(t *testing.T) {
	a := testBlock(0x1000)
	b := testBlock(0x1000)
	require.Equal(t, a.Fingerprint(), b.Fingerprint())

	// Same address, different content: self-modifying code must not alias.
	b.Ops[0].Imm = 43
	require.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestBlockKeyIdentity(t *testing.T) {
	blk := testBlock(0x2000)
	k1 := NewBlockKey(ArchX86_64, ArchARM64, blk)
	k2 := NewBlockKey(ArchX86_64, ArchARM64, blk)
	require.Equal(t, k1, k2)

	k3 := NewBlockKey(ArchRISCV64, ArchARM64, blk)
	require.NotEqual(t, k1, k3)

	require.Len(t, k1.Encode(), 42)
}

func TestTerminatorSuccessors(t *testing.T) {
	require.Equal(t, []uint64{0x10}, Terminator{JumpType: DIRECT_JUMP, Target: 0x10}.Successors())
	require.Equal(t, []uint64{0x10, 0x20}, Terminator{JumpType: CONDITIONAL, Target: 0x10, FalseTarget: 0x20}.Successors())
	require.Nil(t, Terminator{JumpType: RETURN_JUMP}.Successors())
	require.Nil(t, Terminator{JumpType: TRAP_JUMP}.Successors())
}

func TestParseArch(t *testing.T) {
	a, err := ParseArch("riscv64")
	require.NoError(t, err)
	require.Equal(t, ArchRISCV64, a)
	_, err = ParseArch("mips")
	require.Error(t, err)
}
