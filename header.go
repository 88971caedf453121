package mpq

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Format is the archive header revision.
type Format uint16

const (
	FormatV1 Format = 0 // classic; tables below 4 GiB
	FormatV2 Format = 1 // hi-block table and 16-bit table offset extensions
	FormatV3 Format = 2 // 64-bit archive size, HET and BET tables
)

func (f Format) String() string {
	switch f {
	case FormatV1:
		return "v1"
	case FormatV2:
		return "v2"
	case FormatV3:
		return "v3"
	}
	return fmt.Sprintf("Format(%d)", uint16(f))
}

// Header magics and sizes.
const (
	headerMagic   = 0x1A51504D // "MPQ\x1A"
	userDataMagic = 0x1B51504D // "MPQ\x1B"

	headerSizeV1 = 0x20
	headerSizeV2 = 0x2C
	headerSizeV3 = 0x44

	userDataSize = 16

	// headerAlign is the boundary at which an archive header may start
	// inside its containing file.
	headerAlign = 0x200
)

// ArchiveHeader is the decoded MPQ header. All table offsets are relative
// to the start of the archive, not of the containing file.
type ArchiveHeader struct {
	HeaderSize      uint32
	ArchiveSize     uint32
	Format          Format
	SectorSizeShift uint16

	HashTableOffset  uint32
	BlockTableOffset uint32
	HashTableSize    uint32 // entries
	BlockTableSize   uint32 // entries

	// v2 fields.
	HiBlockTableOffset   uint64
	HashTableOffsetHigh  uint16
	BlockTableOffsetHigh uint16

	// v3 fields.
	ArchiveSize64  uint64
	BetTableOffset uint64
	HetTableOffset uint64
}

// HashTablePos returns the 64-bit hash table position.
func (h ArchiveHeader) HashTablePos() uint64 {
	return MergeOffset(h.HashTableOffset, h.HashTableOffsetHigh)
}

// BlockTablePos returns the 64-bit block table position.
func (h ArchiveHeader) BlockTablePos() uint64 {
	return MergeOffset(h.BlockTableOffset, h.BlockTableOffsetHigh)
}

// SectorSize returns the logical sector size, 512 << SectorSizeShift.
func (h ArchiveHeader) SectorSize() uint32 { return 512 << h.SectorSizeShift }

// ParseHeader decodes the archive header at the start of buf.
//
// buf must begin with "MPQ\x1A" (ErrFormat otherwise) and be at least as
// long as the fixed size of the header's revision (ErrTruncated).
// Revisions newer than FormatV3 yield ErrUnsupportedVersion.
func ParseHeader(buf []byte) (ArchiveHeader, error) {
	if len(buf) < headerSizeV1 {
		return ArchiveHeader{}, fmt.Errorf("%w: header needs %d bytes, have %d", ErrTruncated, headerSizeV1, len(buf))
	}
	if m := binary.LittleEndian.Uint32(buf[0:4]); m != headerMagic {
		return ArchiveHeader{}, fmt.Errorf("%w: archive magic 0x%08X", ErrFormat, m)
	}

	le := binary.LittleEndian
	h := ArchiveHeader{
		HeaderSize:       le.Uint32(buf[4:8]),
		ArchiveSize:      le.Uint32(buf[8:12]),
		Format:           Format(le.Uint16(buf[12:14])),
		SectorSizeShift:  le.Uint16(buf[14:16]),
		HashTableOffset:  le.Uint32(buf[16:20]),
		BlockTableOffset: le.Uint32(buf[20:24]),
		HashTableSize:    le.Uint32(buf[24:28]),
		BlockTableSize:   le.Uint32(buf[28:32]),
	}
	if h.Format > FormatV3 {
		return ArchiveHeader{}, fmt.Errorf("%w: archive format %d", ErrUnsupportedVersion, uint16(h.Format))
	}

	if h.Format >= FormatV2 {
		if len(buf) < headerSizeV2 {
			return ArchiveHeader{}, fmt.Errorf("%w: %v header needs %d bytes, have %d", ErrTruncated, h.Format, headerSizeV2, len(buf))
		}
		h.HiBlockTableOffset = le.Uint64(buf[32:40])
		h.HashTableOffsetHigh = le.Uint16(buf[40:42])
		h.BlockTableOffsetHigh = le.Uint16(buf[42:44])
	}
	if h.Format >= FormatV3 {
		if len(buf) < headerSizeV3 {
			return ArchiveHeader{}, fmt.Errorf("%w: %v header needs %d bytes, have %d", ErrTruncated, h.Format, headerSizeV3, len(buf))
		}
		h.ArchiveSize64 = le.Uint64(buf[44:52])
		h.BetTableOffset = le.Uint64(buf[52:60])
		h.HetTableOffset = le.Uint64(buf[60:68])
	}
	return h, nil
}

// UserData describes the optional "MPQ\x1B" shunt that precedes an
// archive. The shunt reserves space for application data and points at the
// real header.
type UserData struct {
	// Offset is the position of the shunt in the containing file.
	Offset int64

	// Size is the number of bytes reserved for user data.
	Size uint32

	// HeaderOffset is the archive header position relative to Offset.
	HeaderOffset uint32

	// HeaderSize is the size of the user data header proper.
	HeaderSize uint32
}

// FindHeader locates the archive header inside the first size bytes of r.
//
// Candidates are probed at every 512-byte boundary. A user data shunt is
// followed to the header it points to. The returned base is the file
// offset of "MPQ\x1A"; ud is nil when no shunt was present.
// ErrFormat is returned when no header is found.
func FindHeader(r io.ReaderAt, size int64) (base int64, ud *UserData, err error) {
	var magic [userDataSize]byte
	for off := int64(0); off+4 <= size; off += headerAlign {
		n, err := r.ReadAt(magic[:], off)
		if n < 4 {
			if err != nil && !errors.Is(err, io.EOF) {
				return 0, nil, err
			}
			break
		}
		switch binary.LittleEndian.Uint32(magic[0:4]) {
		case headerMagic:
			return off, nil, nil
		case userDataMagic:
			if n < userDataSize {
				return 0, nil, fmt.Errorf("%w: user data header at %d", ErrTruncated, off)
			}
			u := &UserData{
				Offset:       off,
				Size:         binary.LittleEndian.Uint32(magic[4:8]),
				HeaderOffset: binary.LittleEndian.Uint32(magic[8:12]),
				HeaderSize:   binary.LittleEndian.Uint32(magic[12:16]),
			}
			target := off + int64(u.HeaderOffset)
			var m [4]byte
			if _, err := r.ReadAt(m[:], target); err != nil || binary.LittleEndian.Uint32(m[:]) != headerMagic {
				return 0, nil, fmt.Errorf("%w: user data at %d points to %d, which is not an archive header",
					ErrFormat, off, target)
			}
			return target, u, nil
		}
	}
	return 0, nil, fmt.Errorf("%w: no archive header found", ErrFormat)
}
