package backend

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// DisassembleX86 decodes emitted x86-64 code into one mnemonic per line,
// used by diagnostics and by the emitter's own tests.
func DisassembleX86(code []byte) ([]string, error) {
	var out []string
	for pos := 0; pos < len(code); {
		inst, err := x86asm.Decode(code[pos:], 64)
		if err != nil {
			return out, fmt.Errorf("undecodable byte sequence at offset %d: %w", pos, err)
		}
		out = append(out, x86asm.IntelSyntax(inst, uint64(pos), nil))
		pos += inst.Len
	}
	return out, nil
}

// DumpX86 renders a block's generated x86 code for debug logging.
func DumpX86(code []byte) string {
	lines, err := DisassembleX86(code)
	if err != nil {
		return fmt.Sprintf("<disassembly failed: %v>", err)
	}
	return strings.Join(lines, "\n")
}
