package mpq

import (
	"encoding/binary"
	"fmt"
)

const (
	blockEntrySize   = 16
	hiBlockEntrySize = 2
)

// BlockEntry is one decoded slot of the classic block table.
//
// A block is either a file, free space left behind by a deleted file, or an
// unused slot. Free space keeps its offset and size but clears FileSize and
// Flags; an unused slot clears all four fields.
type BlockEntry struct {
	// Offset is the low 32 bits of the block position, relative to the
	// start of the archive.
	Offset uint32

	// OffsetHigh holds bits 32..47 of the position, taken from the
	// hi-block table of v2+ archives. It is zero otherwise.
	OffsetHigh uint16

	// CompressedSize is the number of bytes the block occupies on disk.
	CompressedSize uint32

	// FileSize is the size of the file once decoded.
	FileSize uint32

	Flags Flags
}

// Position returns the full 64-bit block position.
func (e BlockEntry) Position() uint64 { return MergeOffset(e.Offset, e.OffsetHigh) }

// IsEmpty reports a free-space placeholder: offset and size set, file size
// and flags cleared.
func (e BlockEntry) IsEmpty() bool {
	return e.Offset != 0 && e.CompressedSize != 0 && e.FileSize == 0 && e.Flags == 0
}

// IsUnused reports a slot with all four fields zero.
func (e BlockEntry) IsUnused() bool {
	return e.Offset == 0 && e.CompressedSize == 0 && e.FileSize == 0 && e.Flags == 0
}

// BlockTable is a parsed, immutable classic block table. It is safe for
// concurrent use.
type BlockTable struct {
	entries []BlockEntry
}

// ParseBlockTable decodes count 16-byte entries from the already-decrypted
// buf. hiBuf, when non-nil, is the hi-block table: count little-endian
// uint16 values holding bits 32..47 of each entry's offset.
//
// ErrTruncated is returned when either buffer is too short.
func ParseBlockTable(buf, hiBuf []byte, count uint32) (*BlockTable, error) {
	if need := uint64(count) * blockEntrySize; uint64(len(buf)) < need {
		return nil, fmt.Errorf("%w: block table needs %d bytes, have %d", ErrTruncated, need, len(buf))
	}
	if hiBuf != nil {
		if need := uint64(count) * hiBlockEntrySize; uint64(len(hiBuf)) < need {
			return nil, fmt.Errorf("%w: hi-block table needs %d bytes, have %d", ErrTruncated, need, len(hiBuf))
		}
	}

	entries := make([]BlockEntry, count)
	for i := range entries {
		row := buf[i*blockEntrySize : (i+1)*blockEntrySize]
		entries[i] = BlockEntry{
			Offset:         binary.LittleEndian.Uint32(row[0:4]),
			CompressedSize: binary.LittleEndian.Uint32(row[4:8]),
			FileSize:       binary.LittleEndian.Uint32(row[8:12]),
			Flags:          Flags(binary.LittleEndian.Uint32(row[12:16])),
		}
		if hiBuf != nil {
			entries[i].OffsetHigh = binary.LittleEndian.Uint16(hiBuf[i*hiBlockEntrySize:])
		}
	}
	return &BlockTable{entries: entries}, nil
}

// Len returns the number of entries.
func (t *BlockTable) Len() int { return len(t.entries) }

// Entry returns entry i or ErrOutOfRange.
func (t *BlockTable) Entry(i uint32) (BlockEntry, error) {
	if int(i) >= len(t.entries) {
		return BlockEntry{}, fmt.Errorf("%w: block %d of %d", ErrOutOfRange, i, len(t.entries))
	}
	return t.entries[i], nil
}
