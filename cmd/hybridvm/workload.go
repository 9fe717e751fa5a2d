package main

import (
	"github.com/colorfulnotion/hybridvm/engine"
	"github.com/colorfulnotion/hybridvm/types"
)

const (
	workloadEntry = uint64(0x1000)
	loopHead      = uint64(0x1010)
	workloadExit  = uint64(0x1020)
	resultAddr    = uint64(0x8000)
)

// workloadAddrs lists every block of the synthetic workload, for AOT image
// builds.
var workloadAddrs = []uint64{workloadEntry, loopHead, workloadExit}

// buildLoopWorkload installs a counted guest loop: the entry block seeds an
// accumulator and a counter, the loop body hammers the same address until
// the counter runs out (driving it hot), and the exit block stores the
// accumulator to guest memory before returning.
func buildLoopWorkload(dec *engine.MapDecoder, iterations uint64) {
	dec.Add(&types.IRBlock{
		Address: workloadEntry,
		Ops: []types.IROp{
			{Opcode: types.LOAD_IMM, Dst: 1, Imm: 0},          // accumulator
			{Opcode: types.LOAD_IMM, Dst: 2, Imm: iterations}, // counter
			{Opcode: types.LOAD_IMM, Dst: 4, Imm: 1},
		},
		Term: types.Terminator{JumpType: types.DIRECT_JUMP, Target: loopHead},
	})
	dec.Add(&types.IRBlock{
		Address: loopHead,
		Ops: []types.IROp{
			{Opcode: types.ADD_IMM, Dst: 1, Src1: 1, Imm: 3},
			{Opcode: types.XOR, Dst: 3, Src1: 1, Src2: 2},
			{Opcode: types.SUB, Dst: 2, Src1: 2, Src2: 4},
		},
		Term: types.Terminator{
			JumpType:    types.CONDITIONAL,
			CondReg:     2,
			Target:      loopHead,
			FalseTarget: workloadExit,
		},
	})
	dec.Add(&types.IRBlock{
		Address: workloadExit,
		Ops: []types.IROp{
			{Opcode: types.LOAD_IMM, Dst: 6, Imm: resultAddr},
			{Opcode: types.STORE_U64, Src1: 6, Src2: 1},
		},
		Term: types.Terminator{JumpType: types.RETURN_JUMP},
	})
}
