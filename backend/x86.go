package backend

import (
	"fmt"

	"github.com/colorfulnotion/hybridvm/common"
	"github.com/colorfulnotion/hybridvm/types"
	"github.com/colorfulnotion/hybridvm/vmerrors"
)

// EmitX86 lowers a block to real x86-64 machine code for AOT images targeting
// x86 hosts. The guest register file lives in memory at the address held in
// RDI; each operation loads its operands from [rdi+8*reg], computes in
// rax/rcx, and stores back. The block exits by returning the next guest PC
// in rax.
//
// Memory-touching IR ops are outside this emitter's capability set; blocks
// containing them stay on the portable tier.
func EmitX86(ir *types.IRBlock) ([]byte, error) {
	if ir == nil {
		return nil, fmt.Errorf("nil block: %w", vmerrors.ErrCBackendRejected)
	}
	code := make([]byte, 0, len(ir.Ops)*16+32)

	for _, op := range ir.Ops {
		emitted, err := emitX86Op(op)
		if err != nil {
			return nil, err
		}
		code = append(code, emitted...)
	}
	code = append(code, emitX86Terminator(ir.Term)...)

	if len(code) > maxNativeBlockSize {
		return nil, fmt.Errorf("%d bytes: %w", len(code), vmerrors.ErrCCodeTooLarge)
	}
	return code, nil
}

// loadReg emits mov rax/rcx, [rdi+8*reg].
func loadReg(dst byte, reg uint8) []byte {
	// 48 8B 47 disp8 (rax) / 48 8B 4F disp8 (rcx)
	modrm := byte(0x47)
	if dst == 1 {
		modrm = 0x4F
	}
	return []byte{0x48, 0x8B, modrm, byte(8 * reg)}
}

// storeReg emits mov [rdi+8*reg], rax.
func storeReg(reg uint8) []byte {
	return []byte{0x48, 0x89, 0x47, byte(8 * reg)}
}

// movAbsRAX emits movabs rax, imm64.
func movAbsRAX(imm uint64) []byte {
	out := []byte{0x48, 0xB8}
	return append(out, common.Uint64ToBytes(imm)...)
}

func emitX86Op(op types.IROp) ([]byte, error) {
	if op.Dst >= types.RegCount || op.Src1 >= types.RegCount || op.Src2 >= types.RegCount {
		return nil, fmt.Errorf("register out of range: %w", vmerrors.ErrCBackendRejected)
	}
	var code []byte
	binop := func(alu []byte) {
		code = append(code, loadReg(0, op.Src1)...)
		code = append(code, loadReg(1, op.Src2)...)
		code = append(code, alu...)
		code = append(code, storeReg(op.Dst)...)
	}
	switch op.Opcode {
	case types.NOP:
		code = []byte{0x90}
	case types.LOAD_IMM:
		code = append(movAbsRAX(op.Imm), storeReg(op.Dst)...)
	case types.MOV:
		code = append(loadReg(0, op.Src1), storeReg(op.Dst)...)
	case types.ADD_IMM:
		code = append(loadReg(0, op.Src1), 0x48, 0xB9) // movabs rcx, imm64
		code = append(code, common.Uint64ToBytes(op.Imm)...)
		code = append(code, 0x48, 0x01, 0xC8) // add rax, rcx
		code = append(code, storeReg(op.Dst)...)
	case types.ADD:
		binop([]byte{0x48, 0x01, 0xC8}) // add rax, rcx
	case types.SUB:
		binop([]byte{0x48, 0x29, 0xC8}) // sub rax, rcx
	case types.MUL:
		binop([]byte{0x48, 0x0F, 0xAF, 0xC1}) // imul rax, rcx
	case types.AND:
		binop([]byte{0x48, 0x21, 0xC8}) // and rax, rcx
	case types.OR:
		binop([]byte{0x48, 0x09, 0xC8}) // or rax, rcx
	case types.XOR:
		binop([]byte{0x48, 0x31, 0xC8}) // xor rax, rcx
	case types.SHL:
		binop([]byte{0x48, 0xD3, 0xE0}) // shl rax, cl
	case types.SHR:
		binop([]byte{0x48, 0xD3, 0xE8}) // shr rax, cl
	default:
		return nil, fmt.Errorf("opcode %d has no x86 template: %w", op.Opcode, vmerrors.ErrCUnsupportedOpcode)
	}
	return code, nil
}

func emitX86Terminator(term types.Terminator) []byte {
	var code []byte
	switch term.JumpType {
	case types.DIRECT_JUMP, types.FALLTHROUGH_JUMP:
		code = movAbsRAX(term.Target)
	case types.CONDITIONAL:
		code = movAbsRAX(term.Target)
		code = append(code, 0x48, 0xB9) // movabs rcx, falseTarget
		code = append(code, common.Uint64ToBytes(term.FalseTarget)...)
		code = append(code, loadReg2RDX(term.CondReg)...)
		code = append(code, 0x48, 0x85, 0xD2)       // test rdx, rdx
		code = append(code, 0x48, 0x0F, 0x44, 0xC1) // cmove rax, rcx
	case types.RETURN_JUMP, types.TRAP_JUMP:
		code = movAbsRAX(0)
	}
	return append(code, 0xC3) // ret
}

// loadReg2RDX emits mov rdx, [rdi+8*reg].
func loadReg2RDX(reg uint8) []byte {
	return []byte{0x48, 0x8B, 0x57, byte(8 * reg)}
}
