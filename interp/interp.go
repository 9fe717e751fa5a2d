// Package interp executes normalized IR directly. It is the always-available
// fallback tier: every address can be interpreted regardless of what the
// compile pool and caches are doing.
package interp

import (
	"fmt"

	"github.com/colorfulnotion/hybridvm/common"
	"github.com/colorfulnotion/hybridvm/types"
)

// Regs is one execution context's guest register file.
type Regs [types.RegCount]uint64

// Step executes a single IR operation against regs and mem.
func Step(op types.IROp, regs *Regs, mem types.Memory) error {
	switch op.Opcode {
	case types.NOP:
	case types.LOAD_IMM:
		regs[op.Dst] = op.Imm
	case types.MOV:
		regs[op.Dst] = regs[op.Src1]
	case types.ADD:
		regs[op.Dst] = regs[op.Src1] + regs[op.Src2]
	case types.SUB:
		regs[op.Dst] = regs[op.Src1] - regs[op.Src2]
	case types.MUL:
		regs[op.Dst] = regs[op.Src1] * regs[op.Src2]
	case types.AND:
		regs[op.Dst] = regs[op.Src1] & regs[op.Src2]
	case types.OR:
		regs[op.Dst] = regs[op.Src1] | regs[op.Src2]
	case types.XOR:
		regs[op.Dst] = regs[op.Src1] ^ regs[op.Src2]
	case types.SHL:
		regs[op.Dst] = regs[op.Src1] << (regs[op.Src2] & 63)
	case types.SHR:
		regs[op.Dst] = regs[op.Src1] >> (regs[op.Src2] & 63)
	case types.ADD_IMM:
		regs[op.Dst] = regs[op.Src1] + op.Imm
	case types.LOAD_U64:
		data, err := mem.Read(regs[op.Src1]+op.Imm, 8)
		if err != nil {
			return err
		}
		regs[op.Dst] = common.BytesToUint64(data)
	case types.STORE_U64:
		if err := mem.Write(regs[op.Src1]+op.Imm, common.Uint64ToBytes(regs[op.Src2])); err != nil {
			return err
		}
	default:
		return fmt.Errorf("interp: unknown opcode %d", op.Opcode)
	}
	return nil
}

// RunBlock interprets one block and resolves its terminator.
func RunBlock(b *types.IRBlock, regs *Regs, mem types.Memory) (types.ExecutionResult, error) {
	for _, op := range b.Ops {
		if err := Step(op, regs, mem); err != nil {
			return types.ExecutionResult{}, err
		}
	}
	res := types.ExecutionResult{
		GasUsed:   int64(len(b.Ops)) + 1, // ops plus terminator
		BlocksRun: 1,
		Source:    types.SourceInterpreted,
	}
	switch b.Term.JumpType {
	case types.DIRECT_JUMP, types.FALLTHROUGH_JUMP:
		res.NextPC = b.Term.Target
	case types.CONDITIONAL:
		if regs[b.Term.CondReg] != 0 {
			res.NextPC = b.Term.Target
		} else {
			res.NextPC = b.Term.FalseTarget
		}
	case types.RETURN_JUMP, types.TRAP_JUMP:
		res.Terminated = true
	default:
		return types.ExecutionResult{}, fmt.Errorf("interp: unknown terminator %d", b.Term.JumpType)
	}
	return res, nil
}
