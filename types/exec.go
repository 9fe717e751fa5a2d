package types

import "time"

// ExecutionSource records which tier satisfied a dispatch. Never persisted.
type ExecutionSource uint8

const (
	SourceAotImage ExecutionSource = iota
	SourceJitCompiled
	SourceInterpreted
)

func (s ExecutionSource) String() string {
	switch s {
	case SourceAotImage:
		return "aot"
	case SourceJitCompiled:
		return "jit"
	case SourceInterpreted:
		return "interpreted"
	default:
		return "unknown"
	}
}

// ExecutionResult is the outcome of executing one block (or one linked chain
// of blocks) starting at the dispatched PC.
type ExecutionResult struct {
	// NextPC is where control continues, or 0 after RETURN/TRAP.
	NextPC uint64
	// Terminated is set when the block ended in RETURN or TRAP.
	Terminated bool
	// GasUsed counts executed IR operations across all blocks of the dispatch.
	GasUsed int64
	// BlocksRun counts blocks executed without re-entering the dispatcher (>1
	// only when chain following kicked in).
	BlocksRun int
	// Source is the tier that served the dispatched PC (the head block when a
	// chain was followed).
	Source ExecutionSource
}

// CompileTask is the unit of work handed to the async compile pool. The pool
// owns the task until completion, at which point the resulting cached block
// belongs to the code cache.
type CompileTask struct {
	Key        BlockKey
	IR         *IRBlock
	Priority   int
	EnqueuedAt time.Time
}

// Memory is the byte-addressable guest memory interface, provided by the
// external memory subsystem. Implementations must be safe for concurrent use
// from multiple execution contexts.
type Memory interface {
	Read(addr uint64, n int) ([]byte, error)
	Write(addr uint64, data []byte) error
	// FetchInstruction reads code bytes; kept separate so an MMU can apply
	// execute permissions distinct from data reads.
	FetchInstruction(addr uint64, n int) ([]byte, error)
}

// Decoder is the external guest-instruction frontend: it turns raw bytes at
// pc into a normalized IR block with a terminator descriptor.
type Decoder interface {
	Decode(pc uint64) (*IRBlock, error)
}
