package interp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/hybridvm/common"
	"github.com/colorfulnotion/hybridvm/types"
)

// flatMem is a minimal guest memory for tests.
type flatMem struct {
	data []byte
}

func newFlatMem(size int) *flatMem {
	return &flatMem{data: make([]byte, size)}
}

func (m *flatMem) Read(addr uint64, n int) ([]byte, error) {
	if addr+uint64(n) > uint64(len(m.data)) {
		return nil, errOOB
	}
	out := make([]byte, n)
	copy(out, m.data[addr:])
	return out, nil
}

func (m *flatMem) Write(addr uint64, data []byte) error {
	if addr+uint64(len(data)) > uint64(len(m.data)) {
		return errOOB
	}
	copy(m.data[addr:], data)
	return nil
}

func (m *flatMem) FetchInstruction(addr uint64, n int) ([]byte, error) {
	return m.Read(addr, n)
}

var errOOB = &oobError{}

type oobError struct{}

func (e *oobError) Error() string { return "out of bounds" }

func TestStepArithmetic(t *testing.T) {
	var regs Regs
	mem := newFlatMem(64)

	require.NoError(t, Step(types.IROp{Opcode: types.LOAD_IMM, Dst: 1, Imm: 7}, &regs, mem))
	require.NoError(t, Step(types.IROp{Opcode: types.LOAD_IMM, Dst: 2, Imm: 5}, &regs, mem))
	require.NoError(t, Step(types.IROp{Opcode: types.ADD, Dst: 3, Src1: 1, Src2: 2}, &regs, mem))
	require.Equal(t, uint64(12), regs[3])
	require.NoError(t, Step(types.IROp{Opcode: types.MUL, Dst: 4, Src1: 3, Src2: 2}, &regs, mem))
	require.Equal(t, uint64(60), regs[4])
	require.NoError(t, Step(types.IROp{Opcode: types.SHL, Dst: 5, Src1: 1, Src2: 2}, &regs, mem))
	require.Equal(t, uint64(7<<5), regs[5])
}

func TestStepMemory(t *testing.T) {
	var regs Regs
	mem := newFlatMem(64)

	regs[1] = 8
	regs[2] = 0xdeadbeef
	require.NoError(t, Step(types.IROp{Opcode: types.STORE_U64, Src1: 1, Src2: 2, Imm: 16}, &regs, mem))
	require.Equal(t, uint64(0xdeadbeef), common.BytesToUint64(mem.data[24:32]))

	require.NoError(t, Step(types.IROp{Opcode: types.LOAD_U64, Dst: 3, Src1: 1, Imm: 16}, &regs, mem))
	require.Equal(t, uint64(0xdeadbeef), regs[3])

	// Out-of-bounds surfaces the memory subsystem's error.
	require.Error(t, Step(types.IROp{Opcode: types.LOAD_U64, Dst: 3, Src1: 1, Imm: 1000}, &regs, mem))
}

func TestRunBlockTerminators(t *testing.T) {
	mem := newFlatMem(64)

	var regs Regs
	res, err := RunBlock(&types.IRBlock{
		Address: 0x100,
		Ops:     []types.IROp{{Opcode: types.LOAD_IMM, Dst: 1, Imm: 1}},
		Term:    types.Terminator{JumpType: types.DIRECT_JUMP, Target: 0x200},
	}, &regs, mem)
	require.NoError(t, err)
	require.Equal(t, uint64(0x200), res.NextPC)
	require.Equal(t, int64(2), res.GasUsed)
	require.False(t, res.Terminated)

	// Conditional: taken when the condition register is nonzero.
	regs = Regs{}
	regs[5] = 1
	res, err = RunBlock(&types.IRBlock{
		Address: 0x100,
		Term:    types.Terminator{JumpType: types.CONDITIONAL, CondReg: 5, Target: 0x300, FalseTarget: 0x400},
	}, &regs, mem)
	require.NoError(t, err)
	require.Equal(t, uint64(0x300), res.NextPC)

	regs[5] = 0
	res, err = RunBlock(&types.IRBlock{
		Address: 0x100,
		Term:    types.Terminator{JumpType: types.CONDITIONAL, CondReg: 5, Target: 0x300, FalseTarget: 0x400},
	}, &regs, mem)
	require.NoError(t, err)
	require.Equal(t, uint64(0x400), res.NextPC)

	res, err = RunBlock(&types.IRBlock{
		Address: 0x100,
		Term:    types.Terminator{JumpType: types.RETURN_JUMP},
	}, &regs, mem)
	require.NoError(t, err)
	require.True(t, res.Terminated)
}
