package aot

import (
	"errors"
	"fmt"

	"github.com/colorfulnotion/hybridvm/backend"
	"github.com/colorfulnotion/hybridvm/log"
	"github.com/colorfulnotion/hybridvm/types"
	"github.com/colorfulnotion/hybridvm/vmerrors"
)

// BuildConfig controls image construction.
type BuildConfig struct {
	SourceArch types.Arch
	TargetArch types.Arch
	OptLevel   uint8
	EntryPoint uint64
	// EmitNative additionally emits raw x86-64 sections for blocks the
	// template emitter can handle. Blocks it rejects keep only their
	// portable section.
	EmitNative bool
}

// BuildImage compiles the given blocks through the backend and bundles the
// results into an image.
func BuildImage(cfg BuildConfig, be backend.Backend, blocks []*types.IRBlock) (*Image, error) {
	img := &Image{
		Version:    ImageVersion,
		SourceArch: cfg.SourceArch,
		TargetArch: cfg.TargetArch,
		OptLevel:   cfg.OptLevel,
		EntryPoint: cfg.EntryPoint,
	}

	for _, blk := range blocks {
		code, err := be.Compile(blk)
		if err != nil {
			return nil, fmt.Errorf("block 0x%x: %w", blk.Address, err)
		}
		fp := blk.Fingerprint()
		img.Sections = append(img.Sections, Section{
			Address:     blk.Address,
			Flags:       FlagPortable,
			Code:        code,
			Fingerprint: fp,
		})

		if cfg.EmitNative && cfg.TargetArch == types.ArchX86_64 {
			native, err := backend.EmitX86(blk)
			if errors.Is(err, vmerrors.ErrCUnsupportedOpcode) {
				log.Debug(log.AotMonitoring, "no native section for block", "addr", blk.Address, "err", err)
			} else if err != nil {
				return nil, fmt.Errorf("block 0x%x native: %w", blk.Address, err)
			} else {
				img.Sections = append(img.Sections, Section{
					Address:     blk.Address,
					Flags:       FlagNativeX86,
					Code:        native,
					Fingerprint: fp,
				})
			}
		}
	}
	log.Info(log.AotMonitoring, "built image", "blocks", len(blocks), "sections", len(img.Sections))
	return img, nil
}
