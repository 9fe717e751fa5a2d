package types

import (
	"fmt"

	"github.com/colorfulnotion/hybridvm/common"
)

// RegCount is the number of general-purpose guest registers visible to the IR.
const RegCount = 16

// IR opcodes. The decoder normalizes every source architecture to this set.
const (
	NOP       = 0
	LOAD_IMM  = 1
	MOV       = 2
	ADD       = 3
	SUB       = 4
	MUL       = 5
	AND       = 6
	OR        = 7
	XOR       = 8
	SHL       = 9
	SHR       = 10
	ADD_IMM   = 11
	LOAD_U64  = 12
	STORE_U64 = 13
)

// Terminator jump types, one per basic block.
const (
	TRAP_JUMP        = 0
	DIRECT_JUMP      = 1
	CONDITIONAL      = 3
	FALLTHROUGH_JUMP = 4
	RETURN_JUMP      = 5
)

func opcode_str(op uint8) string {
	switch op {
	case NOP:
		return "nop"
	case LOAD_IMM:
		return "load_imm"
	case MOV:
		return "mov"
	case ADD:
		return "add"
	case SUB:
		return "sub"
	case MUL:
		return "mul"
	case AND:
		return "and"
	case OR:
		return "or"
	case XOR:
		return "xor"
	case SHL:
		return "shl"
	case SHR:
		return "shr"
	case ADD_IMM:
		return "add_imm"
	case LOAD_U64:
		return "load_u64"
	case STORE_U64:
		return "store_u64"
	default:
		return fmt.Sprintf("op%d", op)
	}
}

// IROp is a single normalized operation.
type IROp struct {
	Opcode uint8
	Dst    uint8
	Src1   uint8
	Src2   uint8
	Imm    uint64
}

func (op IROp) String() string {
	return fmt.Sprintf("%s r%d,r%d,r%d,%d", opcode_str(op.Opcode), op.Dst, op.Src1, op.Src2, op.Imm)
}

// Terminator describes how control leaves a block.
type Terminator struct {
	JumpType int

	// Target is the jump destination, or the taken target of a conditional.
	Target uint64
	// FalseTarget is the fall-through destination of a conditional branch.
	FalseTarget uint64
	// CondReg is taken when nonzero for CONDITIONAL terminators.
	CondReg uint8
}

// Successors returns the candidate follow-on addresses of the terminator.
// TRAP and RETURN terminate the chain.
func (t Terminator) Successors() []uint64 {
	switch t.JumpType {
	case DIRECT_JUMP, FALLTHROUGH_JUMP:
		return []uint64{t.Target}
	case CONDITIONAL:
		return []uint64{t.Target, t.FalseTarget}
	default:
		return nil
	}
}

// IRBlock is one decoded unit of guest code: a straight-line operation
// sequence plus a terminator.
type IRBlock struct {
	Address uint64
	Ops     []IROp
	Term    Terminator
}

// EncodeForHash produces the canonical byte encoding used for content
// fingerprinting. Two blocks with equal encodings behave identically.
func (b *IRBlock) EncodeForHash() []byte {
	out := make([]byte, 0, 8+len(b.Ops)*12+24)
	out = append(out, common.Uint64ToBytes(b.Address)...)
	for _, op := range b.Ops {
		out = append(out, op.Opcode, op.Dst, op.Src1, op.Src2)
		out = append(out, common.Uint64ToBytes(op.Imm)...)
	}
	out = append(out, byte(b.Term.JumpType), b.Term.CondReg)
	out = append(out, common.Uint64ToBytes(b.Term.Target)...)
	out = append(out, common.Uint64ToBytes(b.Term.FalseTarget)...)
	return out
}

// Fingerprint hashes the decoded content so stale cache entries are detected
// after self-modifying code.
func (b *IRBlock) Fingerprint() common.Hash {
	return common.Blake2Hash(b.EncodeForHash())
}
