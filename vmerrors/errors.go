package vmerrors

import (
	"errors"
	"strings"
)

// Decode (D) Errors - fatal to the single dispatch, cache untouched
var (
	ErrDMalformedInstruction = errors.New("D1|MalformedInstruction: Guest bytes do not decode to a valid instruction.")
	ErrDTruncatedBlock       = errors.New("D2|TruncatedBlock: Guest block ends mid-instruction.")
	ErrDOutOfRangePC         = errors.New("D3|OutOfRangePC: Program counter points outside mapped guest memory.")
	ErrDUnsupportedArch      = errors.New("D4|UnsupportedArch: No decoder registered for the source architecture.")
)

// Compile (C) Errors - recovered locally, address stays on the interpreter path
var (
	ErrCUnsupportedOpcode = errors.New("C1|UnsupportedOpcode: Backend does not support an opcode in the block.")
	ErrCBackendRejected   = errors.New("C2|BackendRejected: Backend refused the block.")
	ErrCCodeTooLarge      = errors.New("C3|CodeTooLarge: Generated code exceeds the per-block size limit.")
	ErrCBackendPanic      = errors.New("C4|BackendPanic: Backend panicked during compilation.")
	ErrCTargetMismatch    = errors.New("C5|TargetMismatch: Block key targets a different architecture than the backend emits.")
)

// Cache (X) Errors - should be unreachable given the cache invariants
var (
	ErrXCorruptEntry        = errors.New("X1|CorruptEntry: Cached block failed its integrity check and was evicted defensively.")
	ErrXFingerprintMismatch = errors.New("X2|FingerprintMismatch: Cached block content does not match its key fingerprint.")
)

// AOT (A) Errors - image is rejected, engine proceeds without AOT
var (
	ErrABadMagic         = errors.New("A1|BadMagic: AOT image does not start with the expected magic bytes.")
	ErrABadVersion       = errors.New("A2|BadVersion: AOT image version is not supported.")
	ErrATruncatedHeader  = errors.New("A3|TruncatedHeader: AOT image is shorter than its fixed header.")
	ErrATruncatedSection = errors.New("A4|TruncatedSection: AOT section extends past the end of the image.")
	ErrABadChecksum      = errors.New("A5|BadChecksum: AOT section checksum does not match its contents.")
	ErrATargetMismatch   = errors.New("A6|TargetMismatch: AOT image was compiled for a different target architecture.")
)

// Pool (P) Errors - backpressure signals, never surfaced as hard failures
var (
	ErrPQueueFull = errors.New("P1|QueueFull: Compile queue is full; promotion retried on a later dispatch.")
	ErrPShutdown  = errors.New("P2|Shutdown: Compile pool is shut down; submission is a no-op.")
)

// Code extracts the short code (e.g. "D1") from one of the sentinel errors above.
func Code(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if i := strings.Index(msg, "|"); i > 0 && i <= 3 {
		return msg[:i]
	}
	return ""
}

// IsDecode reports whether err belongs to the decode error class.
func IsDecode(err error) bool {
	return strings.HasPrefix(Code(err), "D")
}

// IsCompile reports whether err belongs to the compile error class.
func IsCompile(err error) bool {
	return strings.HasPrefix(Code(err), "C")
}
