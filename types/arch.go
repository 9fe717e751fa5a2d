package types

import "fmt"

// Arch identifies a guest or host instruction set architecture.
type Arch uint8

const (
	ArchX86_64 Arch = iota
	ArchARM64
	ArchRISCV64
)

func (a Arch) String() string {
	switch a {
	case ArchX86_64:
		return "x86_64"
	case ArchARM64:
		return "arm64"
	case ArchRISCV64:
		return "riscv64"
	default:
		return fmt.Sprintf("arch(%d)", uint8(a))
	}
}

func ParseArch(s string) (Arch, error) {
	switch s {
	case "x86_64", "amd64":
		return ArchX86_64, nil
	case "arm64", "aarch64":
		return ArchARM64, nil
	case "riscv64":
		return ArchRISCV64, nil
	default:
		return 0, fmt.Errorf("unknown architecture %q", s)
	}
}
