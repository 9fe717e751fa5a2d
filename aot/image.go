// Package aot defines the ahead-of-time image format and its persistent
// store. An image is a self-describing bundle of precompiled blocks that can
// be loaded at startup to warm the code cache before the first guest
// instruction runs.
package aot

import (
	"bytes"
	"fmt"

	"github.com/colorfulnotion/hybridvm/cache"
	"github.com/colorfulnotion/hybridvm/common"
	"github.com/colorfulnotion/hybridvm/types"
	"github.com/colorfulnotion/hybridvm/vmerrors"
)

// Image layout, all integers little-endian:
//
//	magic      [4]byte  "HVAI"
//	version    uint16
//	sourceArch uint8
//	targetArch uint8
//	optLevel   uint8
//	entryPoint uint64
//	sections   uint32
//
// followed by that many sections:
//
//	address     uint64
//	flags       uint32
//	codeLen     uint32
//	code        [codeLen]byte
//	fingerprint [32]byte   (source IR fingerprint, the cache identity)
//	checksum    [32]byte   (blake2b over everything above in the section)
var imageMagic = [4]byte{'H', 'V', 'A', 'I'}

const (
	ImageVersion = 1

	headerSize        = 21
	sectionHeaderSize = 16
	sectionTrailer    = 64
)

// Section flags.
const (
	// FlagPortable marks sections in the portable threaded-code format,
	// directly executable in-process.
	FlagPortable uint32 = 1 << 0
	// FlagNativeX86 marks raw x86-64 machine code sections. These are
	// carried for native deployment targets and skipped during warm-up.
	FlagNativeX86 uint32 = 1 << 1
)

// Section is one precompiled block inside an image.
type Section struct {
	Address     uint64
	Flags       uint32
	Code        []byte
	Fingerprint common.Hash
}

// Image is a decoded AOT image.
type Image struct {
	Version    uint16
	SourceArch types.Arch
	TargetArch types.Arch
	OptLevel   uint8
	EntryPoint uint64
	Sections   []Section
}

// Encode serializes the image, computing section checksums.
func (img *Image) Encode() []byte {
	var buf bytes.Buffer
	buf.Write(imageMagic[:])
	buf.Write(common.Uint16ToBytes(img.Version))
	buf.WriteByte(uint8(img.SourceArch))
	buf.WriteByte(uint8(img.TargetArch))
	buf.WriteByte(img.OptLevel)
	buf.Write(common.Uint64ToBytes(img.EntryPoint))
	buf.Write(common.Uint32ToBytes(uint32(len(img.Sections))))

	for _, s := range img.Sections {
		var sec bytes.Buffer
		sec.Write(common.Uint64ToBytes(s.Address))
		sec.Write(common.Uint32ToBytes(s.Flags))
		sec.Write(common.Uint32ToBytes(uint32(len(s.Code))))
		sec.Write(s.Code)
		sec.Write(s.Fingerprint.Bytes())
		checksum := common.Blake2Hash(sec.Bytes())
		buf.Write(sec.Bytes())
		buf.Write(checksum.Bytes())
	}
	return buf.Bytes()
}

// Decode parses and validates an image. The header is validated in full
// before any section content is trusted: a bad magic or version rejects the
// whole image immediately.
func Decode(data []byte) (*Image, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%d bytes: %w", len(data), vmerrors.ErrATruncatedHeader)
	}
	if !bytes.Equal(data[:4], imageMagic[:]) {
		return nil, fmt.Errorf("got %x: %w", data[:4], vmerrors.ErrABadMagic)
	}
	version := common.BytesToUint16(data[4:6])
	if version != ImageVersion {
		return nil, fmt.Errorf("version %d, want %d: %w", version, ImageVersion, vmerrors.ErrABadVersion)
	}

	img := &Image{
		Version:    version,
		SourceArch: types.Arch(data[6]),
		TargetArch: types.Arch(data[7]),
		OptLevel:   data[8],
		EntryPoint: common.BytesToUint64(data[9:17]),
	}
	count := common.BytesToUint32(data[17:21])

	pos := headerSize
	for i := uint32(0); i < count; i++ {
		if len(data)-pos < sectionHeaderSize {
			return nil, fmt.Errorf("section %d header: %w", i, vmerrors.ErrATruncatedSection)
		}
		addr := common.BytesToUint64(data[pos : pos+8])
		flags := common.BytesToUint32(data[pos+8 : pos+12])
		codeLen := int(common.BytesToUint32(data[pos+12 : pos+16]))
		total := sectionHeaderSize + codeLen + sectionTrailer
		if len(data)-pos < total {
			return nil, fmt.Errorf("section %d body: %w", i, vmerrors.ErrATruncatedSection)
		}

		body := data[pos : pos+sectionHeaderSize+codeLen+32]
		stored := common.BytesToHash(data[pos+sectionHeaderSize+codeLen+32 : pos+total])
		if common.Blake2Hash(body) != stored {
			return nil, fmt.Errorf("section %d addr 0x%x: %w", i, addr, vmerrors.ErrABadChecksum)
		}

		code := make([]byte, codeLen)
		copy(code, data[pos+sectionHeaderSize:pos+sectionHeaderSize+codeLen])
		img.Sections = append(img.Sections, Section{
			Address:     addr,
			Flags:       flags,
			Code:        code,
			Fingerprint: common.BytesToHash(data[pos+sectionHeaderSize+codeLen : pos+sectionHeaderSize+codeLen+32]),
		})
		pos += total
	}
	return img, nil
}

// CheckTarget rejects an image built for a different guest/host pairing.
func (img *Image) CheckTarget(source, target types.Arch) error {
	if img.SourceArch != source || img.TargetArch != target {
		return fmt.Errorf("image %s->%s, host %s->%s: %w",
			img.SourceArch, img.TargetArch, source, target, vmerrors.ErrATargetMismatch)
	}
	return nil
}

// WarmUpEntries converts the image's executable sections into code-cache
// entries. Native sections are skipped; they exist for out-of-process
// deployment, not for the in-process cache.
func (img *Image) WarmUpEntries() []cache.WarmUpEntry {
	entries := make([]cache.WarmUpEntry, 0, len(img.Sections))
	for _, s := range img.Sections {
		if s.Flags&FlagPortable == 0 {
			continue
		}
		key := types.BlockKey{
			SourceArch:   img.SourceArch,
			TargetArch:   img.TargetArch,
			GuestAddress: s.Address,
			Fingerprint:  s.Fingerprint,
		}
		entries = append(entries, cache.WarmUpEntry{
			Key:   key,
			Block: cache.NewCachedBlock(s.Code, types.SourceAotImage),
		})
	}
	return entries
}
