package types

import (
	"fmt"

	"github.com/colorfulnotion/hybridvm/common"
)

// BlockKey is the canonical identity of "a unit of guest code starting at
// GuestAddress for the SourceArch to TargetArch pair". The fingerprint covers
// the decoded content, so a block rewritten by self-modifying code gets a
// distinct key even at the same address.
type BlockKey struct {
	SourceArch   Arch
	TargetArch   Arch
	GuestAddress uint64
	Fingerprint  common.Hash
}

// NewBlockKey derives the key for a decoded block.
func NewBlockKey(source, target Arch, block *IRBlock) BlockKey {
	return BlockKey{
		SourceArch:   source,
		TargetArch:   target,
		GuestAddress: block.Address,
		Fingerprint:  block.Fingerprint(),
	}
}

func (k BlockKey) String() string {
	return fmt.Sprintf("%s->%s@%#x/%s", k.SourceArch, k.TargetArch, k.GuestAddress, k.Fingerprint.String_short())
}

// Encode returns the key's canonical byte form, used for persistence keys.
func (k BlockKey) Encode() []byte {
	out := make([]byte, 0, 2+8+32)
	out = append(out, byte(k.SourceArch), byte(k.TargetArch))
	out = append(out, common.Uint64ToBytes(k.GuestAddress)...)
	out = append(out, k.Fingerprint.Bytes()...)
	return out
}
