package backend

import (
	"fmt"

	"github.com/colorfulnotion/hybridvm/cache"
	"github.com/colorfulnotion/hybridvm/common"
	"github.com/colorfulnotion/hybridvm/interp"
	"github.com/colorfulnotion/hybridvm/log"
	"github.com/colorfulnotion/hybridvm/types"
	"github.com/colorfulnotion/hybridvm/vmerrors"
)

// Portable threaded-code layout:
//
//	header:     'P' version addr(8) sourceFingerprint(32)
//	per op:     opcode dst src1 src2 imm(8)
//	terminator: 0xFF jumpType condReg target(8) falseTarget(8)
//
// The header carries the fingerprint of the *source* IR, so a cached block
// can be checked against its key even after an optimizing backend rewrote
// the operation sequence.
const (
	portableMagic   = 'P'
	portableVersion = 1
	portableOpSize  = 12
	terminatorTag   = 0xFF
	headerSize      = 42
)

// DirectBackend performs a straight 1:1 translation of IR into the portable
// threaded-code format, memoizing per-instruction translations through the
// fast-path cache when one is attached.
type DirectBackend struct {
	target   types.Arch
	fastPath *cache.FastPathCache
}

// NewDirectBackend builds the baseline backend. fastPath may be nil.
func NewDirectBackend(target types.Arch, fastPath *cache.FastPathCache) *DirectBackend {
	return &DirectBackend{target: target, fastPath: fastPath}
}

func (b *DirectBackend) Name() string       { return "direct" }
func (b *DirectBackend) Target() types.Arch { return b.target }

func (b *DirectBackend) SupportedFeatures() []string {
	return []string{"portable", "fastpath_memoization"}
}

func (b *DirectBackend) Compile(ir *types.IRBlock) ([]byte, error) {
	if ir == nil {
		return nil, fmt.Errorf("nil block: %w", vmerrors.ErrCBackendRejected)
	}
	return encodePortable(ir, ir.Fingerprint(), b.fastPath)
}

func encodePortable(ir *types.IRBlock, sourceFP common.Hash, fastPath *cache.FastPathCache) ([]byte, error) {
	out := make([]byte, 0, headerSize+len(ir.Ops)*portableOpSize+19)
	out = append(out, portableMagic, portableVersion)
	out = append(out, common.Uint64ToBytes(ir.Address)...)
	out = append(out, sourceFP.Bytes()...)

	for _, op := range ir.Ops {
		translated, err := translateOp(op, fastPath)
		if err != nil {
			return nil, err
		}
		out = append(out, translated...)
	}

	switch ir.Term.JumpType {
	case types.TRAP_JUMP, types.DIRECT_JUMP, types.CONDITIONAL, types.FALLTHROUGH_JUMP, types.RETURN_JUMP:
	default:
		return nil, fmt.Errorf("terminator %d: %w", ir.Term.JumpType, vmerrors.ErrCUnsupportedOpcode)
	}
	out = append(out, terminatorTag, byte(ir.Term.JumpType), ir.Term.CondReg)
	out = append(out, common.Uint64ToBytes(ir.Term.Target)...)
	out = append(out, common.Uint64ToBytes(ir.Term.FalseTarget)...)

	if len(out) > maxNativeBlockSize {
		return nil, fmt.Errorf("%d bytes: %w", len(out), vmerrors.ErrCCodeTooLarge)
	}
	return out, nil
}

// translateOp produces the 12-byte translation of one instruction, going
// through the fast-path memoization layer when available.
func translateOp(op types.IROp, fastPath *cache.FastPathCache) ([]byte, error) {
	if op.Opcode > types.STORE_U64 {
		return nil, fmt.Errorf("opcode %d: %w", op.Opcode, vmerrors.ErrCUnsupportedOpcode)
	}
	if op.Dst >= types.RegCount || op.Src1 >= types.RegCount || op.Src2 >= types.RegCount {
		return nil, fmt.Errorf("register out of range: %w", vmerrors.ErrCBackendRejected)
	}
	if fastPath != nil {
		if translated, ok := fastPath.TranslateFast(op); ok {
			return translated, nil
		}
	}
	translated := make([]byte, 0, portableOpSize)
	translated = append(translated, op.Opcode, op.Dst, op.Src1, op.Src2)
	translated = append(translated, common.Uint64ToBytes(op.Imm)...)
	if fastPath != nil {
		fastPath.InsertFast(op, translated)
		log.Trace(log.FastPathMonitoring, "memoized instruction", "opcode", op.Opcode)
	}
	return translated, nil
}

// DecodePortable reconstructs the operation sequence and the source
// fingerprint from generated code, used for execution, integrity checks and
// diagnostics.
func DecodePortable(code []byte) (*types.IRBlock, common.Hash, error) {
	var fp common.Hash
	if len(code) < headerSize || code[0] != portableMagic {
		return nil, fp, fmt.Errorf("bad portable header: %w", vmerrors.ErrXCorruptEntry)
	}
	if code[1] != portableVersion {
		return nil, fp, fmt.Errorf("portable version %d: %w", code[1], vmerrors.ErrXCorruptEntry)
	}
	blk := &types.IRBlock{Address: common.BytesToUint64(code[2:10])}
	fp = common.BytesToHash(code[10:42])
	i := headerSize
	for i < len(code) {
		if code[i] == terminatorTag {
			if len(code)-i != 19 {
				return nil, fp, fmt.Errorf("truncated terminator: %w", vmerrors.ErrXCorruptEntry)
			}
			blk.Term = types.Terminator{
				JumpType:    int(code[i+1]),
				CondReg:     code[i+2],
				Target:      common.BytesToUint64(code[i+3 : i+11]),
				FalseTarget: common.BytesToUint64(code[i+11 : i+19]),
			}
			return blk, fp, nil
		}
		if len(code)-i < portableOpSize {
			return nil, fp, fmt.Errorf("truncated op: %w", vmerrors.ErrXCorruptEntry)
		}
		blk.Ops = append(blk.Ops, types.IROp{
			Opcode: code[i],
			Dst:    code[i+1],
			Src1:   code[i+2],
			Src2:   code[i+3],
			Imm:    common.BytesToUint64(code[i+4 : i+12]),
		})
		i += portableOpSize
	}
	return nil, fp, fmt.Errorf("missing terminator: %w", vmerrors.ErrXCorruptEntry)
}

// RunPortable executes generated portable code against one execution
// context's registers and guest memory.
func RunPortable(code []byte, regs *interp.Regs, mem types.Memory) (types.ExecutionResult, error) {
	blk, _, err := DecodePortable(code)
	if err != nil {
		return types.ExecutionResult{}, err
	}
	return interp.RunBlock(blk, regs, mem)
}

// VerifyPortable checks generated code against the key it is cached under: a
// structurally sound decode whose stored source fingerprint matches the key.
// A mismatch is cache corruption.
func VerifyPortable(code []byte, key types.BlockKey) error {
	_, fp, err := DecodePortable(code)
	if err != nil {
		return err
	}
	if fp != key.Fingerprint {
		return vmerrors.ErrXFingerprintMismatch
	}
	return nil
}
