// Package backend wraps the native code-generation backends behind one
// interface. Backend internals are pluggable; the engine only relies on the
// Compile contract and the declared feature set (capability negotiation, not
// correctness).
package backend

import (
	"github.com/colorfulnotion/hybridvm/types"
)

// maxNativeBlockSize caps generated code per block; larger output is a
// compile error, the block stays interpreted.
const maxNativeBlockSize = 64 * 1024

// Backend turns one IR block into one tier's worth of machine bytes.
type Backend interface {
	Name() string
	Target() types.Arch
	// SupportedFeatures declares optional capabilities for negotiation.
	SupportedFeatures() []string
	// Compile translates the block or returns a compile-class error.
	Compile(ir *types.IRBlock) ([]byte, error)
}
