package backend

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/hybridvm/cache"
	"github.com/colorfulnotion/hybridvm/interp"
	"github.com/colorfulnotion/hybridvm/types"
	"github.com/colorfulnotion/hybridvm/vmerrors"
)

type nullMem struct{}

func (nullMem) Read(addr uint64, n int) ([]byte, error)             { return make([]byte, n), nil }
func (nullMem) Write(addr uint64, data []byte) error                { return nil }
func (nullMem) FetchInstruction(addr uint64, n int) ([]byte, error) { return make([]byte, n), nil }

func sampleBlock() *types.IRBlock {
	return &types.IRBlock{
		Address: 0x1000,
		Ops: []types.IROp{
			{Opcode: types.LOAD_IMM, Dst: 1, Imm: 7},
			{Opcode: types.LOAD_IMM, Dst: 2, Imm: 5},
			{Opcode: types.ADD, Dst: 3, Src1: 1, Src2: 2},
			{Opcode: types.MUL, Dst: 4, Src1: 3, Src2: 2},
		},
		Term: types.Terminator{JumpType: types.DIRECT_JUMP, Target: 0x1010},
	}
}

func TestDirectBackendRoundTrip(t *testing.T) {
	b := NewDirectBackend(types.ArchX86_64, nil)
	ir := sampleBlock()

	code, err := b.Compile(ir)
	require.NoError(t, err)

	decoded, fp, err := DecodePortable(code)
	require.NoError(t, err)
	require.Equal(t, ir.Address, decoded.Address)
	require.Equal(t, ir.Ops, decoded.Ops)
	require.Equal(t, ir.Term, decoded.Term)
	require.Equal(t, ir.Fingerprint(), fp)
}

func TestPortableExecutionMatchesInterpreter(t *testing.T) {
	b := NewDirectBackend(types.ArchX86_64, nil)
	ir := sampleBlock()

	code, err := b.Compile(ir)
	require.NoError(t, err)

	var interpRegs, nativeRegs interp.Regs
	wantRes, err := interp.RunBlock(ir, &interpRegs, nullMem{})
	require.NoError(t, err)
	gotRes, err := RunPortable(code, &nativeRegs, nullMem{})
	require.NoError(t, err)

	require.Equal(t, wantRes, gotRes)
	require.Equal(t, interpRegs, nativeRegs)
	require.Equal(t, uint64(12), nativeRegs[3])
	require.Equal(t, uint64(60), nativeRegs[4])
}

func TestDirectBackendUsesFastPath(t *testing.T) {
	fp, err := cache.NewFastPathCache(64, cache.PolicyLRU)
	require.NoError(t, err)
	b := NewDirectBackend(types.ArchX86_64, fp)

	_, err = b.Compile(sampleBlock())
	require.NoError(t, err)
	st := fp.Stats()
	require.Equal(t, uint64(4), st.MissCount)
	require.Equal(t, 4, st.Entries)

	// Second compile of the same block is served from the memo.
	_, err = b.Compile(sampleBlock())
	require.NoError(t, err)
	st = fp.Stats()
	require.Equal(t, uint64(4), st.HitCount)
	require.Equal(t, uint64(4), st.MissCount)
}

func TestCompileErrors(t *testing.T) {
	b := NewDirectBackend(types.ArchX86_64, nil)

	_, err := b.Compile(nil)
	require.ErrorIs(t, err, vmerrors.ErrCBackendRejected)

	_, err = b.Compile(&types.IRBlock{
		Address: 0x1,
		Ops:     []types.IROp{{Opcode: 200}},
		Term:    types.Terminator{JumpType: types.RETURN_JUMP},
	})
	require.ErrorIs(t, err, vmerrors.ErrCUnsupportedOpcode)

	_, err = b.Compile(&types.IRBlock{
		Address: 0x1,
		Ops:     []types.IROp{{Opcode: types.MOV, Dst: 99}},
		Term:    types.Terminator{JumpType: types.RETURN_JUMP},
	})
	require.ErrorIs(t, err, vmerrors.ErrCBackendRejected)
}

func TestVerifyPortable(t *testing.T) {
	b := NewDirectBackend(types.ArchRISCV64, nil)
	ir := sampleBlock()
	key := types.NewBlockKey(types.ArchRISCV64, types.ArchX86_64, ir)

	code, err := b.Compile(ir)
	require.NoError(t, err)
	require.NoError(t, VerifyPortable(code, key))

	// Tamper with the stored fingerprint.
	corrupted := append([]byte{}, code...)
	corrupted[11] ^= 0xFF
	err = VerifyPortable(corrupted, key)
	require.ErrorIs(t, err, vmerrors.ErrXFingerprintMismatch)

	// Truncated code decodes as corruption, not as a short block.
	err = VerifyPortable(code[:len(code)-3], key)
	require.ErrorIs(t, err, vmerrors.ErrXCorruptEntry)
}

func TestOptimizingBackendPreservesSemantics(t *testing.T) {
	direct := NewDirectBackend(types.ArchX86_64, nil)
	opt := NewOptimizingBackend(types.ArchX86_64, nil)

	ir := &types.IRBlock{
		Address: 0x2000,
		Ops: []types.IROp{
			{Opcode: types.LOAD_IMM, Dst: 1, Imm: 10},
			{Opcode: types.LOAD_IMM, Dst: 2, Imm: 4},
			{Opcode: types.ADD, Dst: 3, Src1: 1, Src2: 2},  // foldable: 14
			{Opcode: types.LOAD_IMM, Dst: 4, Imm: 1},       // shadowed below
			{Opcode: types.LOAD_IMM, Dst: 4, Imm: 2},
			{Opcode: types.NOP},
			{Opcode: types.SUB, Dst: 5, Src1: 3, Src2: 2},  // foldable: 10
		},
		Term: types.Terminator{JumpType: types.RETURN_JUMP},
	}

	directCode, err := direct.Compile(ir)
	require.NoError(t, err)
	optCode, err := opt.Compile(ir)
	require.NoError(t, err)
	require.Less(t, len(optCode), len(directCode), "optimizer should shrink the block")

	var dRegs, oRegs interp.Regs
	dRes, err := RunPortable(directCode, &dRegs, nullMem{})
	require.NoError(t, err)
	oRes, err := RunPortable(optCode, &oRegs, nullMem{})
	require.NoError(t, err)
	require.Equal(t, dRegs, oRegs, "optimized block changed architectural state")
	require.Equal(t, dRes.NextPC, oRes.NextPC)
	require.Equal(t, dRes.Terminated, oRes.Terminated)

	// Optimization must not change cache identity.
	key := types.NewBlockKey(types.ArchARM64, types.ArchX86_64, ir)
	require.NoError(t, VerifyPortable(optCode, key))
}

func TestOptimizingBackendKeepsStores(t *testing.T) {
	opt := NewOptimizingBackend(types.ArchX86_64, nil)
	ir := &types.IRBlock{
		Address: 0x3000,
		Ops: []types.IROp{
			{Opcode: types.LOAD_IMM, Dst: 1, Imm: 8},
			{Opcode: types.LOAD_IMM, Dst: 2, Imm: 99},
			{Opcode: types.STORE_U64, Src1: 1, Src2: 2},
		},
		Term: types.Terminator{JumpType: types.RETURN_JUMP},
	}
	code, err := opt.Compile(ir)
	require.NoError(t, err)
	decoded, _, err := DecodePortable(code)
	require.NoError(t, err)

	foundStore := false
	for _, op := range decoded.Ops {
		if op.Opcode == types.STORE_U64 {
			foundStore = true
		}
	}
	require.True(t, foundStore, "store eliminated")
}

func TestEmitX86Disassembles(t *testing.T) {
	ir := sampleBlock()
	code, err := EmitX86(ir)
	require.NoError(t, err)

	lines, err := DisassembleX86(code)
	require.NoError(t, err)
	require.NotEmpty(t, lines)
	// Last instruction of every block is the ret delivering the next PC.
	require.Contains(t, lines[len(lines)-1], "ret")

	joined := ""
	for _, l := range lines {
		joined += l + "\n"
	}
	require.Contains(t, joined, "imul")
	require.Contains(t, joined, "add")
}

func TestEmitX86ConditionalTerminator(t *testing.T) {
	ir := &types.IRBlock{
		Address: 0x4000,
		Ops:     []types.IROp{{Opcode: types.LOAD_IMM, Dst: 3, Imm: 1}},
		Term:    types.Terminator{JumpType: types.CONDITIONAL, CondReg: 3, Target: 0x4100, FalseTarget: 0x4200},
	}
	code, err := EmitX86(ir)
	require.NoError(t, err)
	lines, err := DisassembleX86(code)
	require.NoError(t, err)

	joined := ""
	for _, l := range lines {
		joined += l + "\n"
	}
	require.Contains(t, joined, "test")
	require.Contains(t, joined, "cmov")
}

func TestEmitX86RejectsMemoryOps(t *testing.T) {
	ir := &types.IRBlock{
		Address: 0x5000,
		Ops:     []types.IROp{{Opcode: types.LOAD_U64, Dst: 1, Src1: 2}},
		Term:    types.Terminator{JumpType: types.RETURN_JUMP},
	}
	_, err := EmitX86(ir)
	require.True(t, errors.Is(err, vmerrors.ErrCUnsupportedOpcode))
}
