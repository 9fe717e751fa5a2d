package backend

import (
	"fmt"

	"github.com/colorfulnotion/hybridvm/cache"
	"github.com/colorfulnotion/hybridvm/log"
	"github.com/colorfulnotion/hybridvm/types"
	"github.com/colorfulnotion/hybridvm/vmerrors"
)

// OptimizingBackend runs constant folding and dead-code elimination over the
// block before emitting the same portable format as the direct backend. The
// source fingerprint in the header is taken before any rewriting, so cache
// identity is unaffected by optimization.
type OptimizingBackend struct {
	target   types.Arch
	fastPath *cache.FastPathCache
}

// NewOptimizingBackend builds the optimizing backend. fastPath may be nil.
func NewOptimizingBackend(target types.Arch, fastPath *cache.FastPathCache) *OptimizingBackend {
	return &OptimizingBackend{target: target, fastPath: fastPath}
}

func (b *OptimizingBackend) Name() string       { return "optimizing" }
func (b *OptimizingBackend) Target() types.Arch { return b.target }

func (b *OptimizingBackend) SupportedFeatures() []string {
	return []string{"portable", "fastpath_memoization", "const_fold", "dead_code_elim"}
}

func (b *OptimizingBackend) Compile(ir *types.IRBlock) ([]byte, error) {
	if ir == nil {
		return nil, fmt.Errorf("nil block: %w", vmerrors.ErrCBackendRejected)
	}
	sourceFP := ir.Fingerprint()

	optimized := &types.IRBlock{
		Address: ir.Address,
		Ops:     eliminateDeadOps(foldConstants(ir.Ops)),
		Term:    ir.Term,
	}
	if removed := len(ir.Ops) - len(optimized.Ops); removed > 0 {
		log.Trace(log.BackendMonitoring, "optimized block", "addr", ir.Address, "removed_ops", removed)
	}
	return encodePortable(optimized, sourceFP, b.fastPath)
}

// foldConstants tracks registers with statically known values and rewrites
// operations over two known operands into LOAD_IMM.
func foldConstants(ops []types.IROp) []types.IROp {
	known := make(map[uint8]uint64)
	out := make([]types.IROp, 0, len(ops))

	for _, op := range ops {
		v1, ok1 := known[op.Src1]
		v2, ok2 := known[op.Src2]

		folded := false
		var val uint64
		switch op.Opcode {
		case types.LOAD_IMM:
			val, folded = op.Imm, true
		case types.MOV:
			if ok1 {
				val, folded = v1, true
			}
		case types.ADD_IMM:
			if ok1 {
				val, folded = v1+op.Imm, true
			}
		case types.ADD:
			if ok1 && ok2 {
				val, folded = v1+v2, true
			}
		case types.SUB:
			if ok1 && ok2 {
				val, folded = v1-v2, true
			}
		case types.MUL:
			if ok1 && ok2 {
				val, folded = v1*v2, true
			}
		case types.AND:
			if ok1 && ok2 {
				val, folded = v1&v2, true
			}
		case types.OR:
			if ok1 && ok2 {
				val, folded = v1|v2, true
			}
		case types.XOR:
			if ok1 && ok2 {
				val, folded = v1^v2, true
			}
		case types.SHL:
			if ok1 && ok2 {
				val, folded = v1<<(v2&63), true
			}
		case types.SHR:
			if ok1 && ok2 {
				val, folded = v1>>(v2&63), true
			}
		}

		if folded {
			known[op.Dst] = val
			out = append(out, types.IROp{Opcode: types.LOAD_IMM, Dst: op.Dst, Imm: val})
			continue
		}
		// Any other write invalidates the destination's known value.
		if writesRegister(op.Opcode) {
			delete(known, op.Dst)
		}
		out = append(out, op)
	}
	return out
}

// eliminateDeadOps removes writes that are overwritten later in the block
// before any read. Registers are architectural state visible to successor
// blocks, so every register is live at block exit; only shadowed writes and
// NOPs can go.
func eliminateDeadOps(ops []types.IROp) []types.IROp {
	var live [types.RegCount]bool
	for i := range live {
		live[i] = true
	}

	keep := make([]bool, len(ops))
	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		if op.Opcode == types.STORE_U64 {
			keep[i] = true
			live[op.Src1] = true
			live[op.Src2] = true
			continue
		}
		if !writesRegister(op.Opcode) {
			keep[i] = op.Opcode != types.NOP
			continue
		}
		if !live[op.Dst] {
			continue // shadowed: a later write lands before any read
		}
		keep[i] = true
		live[op.Dst] = false
		switch op.Opcode {
		case types.LOAD_IMM:
		case types.MOV, types.ADD_IMM, types.LOAD_U64:
			live[op.Src1] = true
		default:
			live[op.Src1] = true
			live[op.Src2] = true
		}
	}

	out := make([]types.IROp, 0, len(ops))
	for i, op := range ops {
		if keep[i] {
			out = append(out, op)
		}
	}
	return out
}

func writesRegister(opcode uint8) bool {
	switch opcode {
	case types.NOP, types.STORE_U64:
		return false
	default:
		return true
	}
}
