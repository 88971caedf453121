// bet.go
//
// Extended block table ("BET") parser for MPQ v3 archives.
// Every file is a fixed-width, bit-packed record whose fields (position,
// file size, compressed size, flag index and one reserved field) sit at
// per-table bit offsets and widths. Flags are not stored per record: each
// record carries a short index into a shared palette of distinct flag
// masks, since most files in an archive share a handful of combinations.
//
// A parallel bit array holds the part of each file's Jenkins name hash that
// the HET table does not keep, which lets lookups reject HET collisions.

package mpq

import (
	"encoding/binary"
	"fmt"
)

const (
	betVersion    = 1
	betFlagSize   = 4
	betFieldCount = 5
)

// BET record fields, in on-disk layout order.
const (
	BetPosition = iota
	BetFileSize
	BetCompressedSize
	BetFlagIndex
	BetReserved
)

var betFieldNames = [betFieldCount]string{"position", "file size", "compressed size", "flag index", "reserved"}

// BetLayout describes how BET records and name hashes are packed.
type BetLayout struct {
	Version   uint32
	TableSize uint32
	FileCount uint32
	Unknown08 uint32

	// TableEntrySize is the size of one record in bytes; records are
	// TableEntrySize*8 bits wide.
	TableEntrySize uint32

	// Fields is indexed by BetPosition, BetFileSize, ... BetReserved.
	Fields [betFieldCount]BitRange

	HashBitsTotal uint32
	HashBitsExtra uint32
	HashBits      uint32
	HashArraySize uint32 // byte size of the packed name-hash array
	FlagCount     uint32
}

// EntryBitWidth returns the width of one record in bits.
func (l BetLayout) EntryBitWidth() uint64 { return uint64(l.TableEntrySize) * 8 }

// BetRecord is one decoded BET record.
type BetRecord struct {
	Position       uint64
	FileSize       uint64
	CompressedSize uint64
	FlagIndex      uint32
	Flags          Flags
}

// BetTable is a parsed, immutable BET table. It is safe for concurrent use.
type BetTable struct {
	layout  BetLayout
	flags   []Flags
	records []byte
	hashes  bitArray
}

// ParseBetTable decodes a complete BET table, 12-byte extended header
// included, from the already-decrypted buf.
//
// ErrFormat is returned for a foreign magic, ErrUnsupportedVersion for a
// revision other than 1, ErrTruncated when the palette, records or name
// hashes do not fit, and ErrCorruptLayout when any field's bit range
// exceeds the record width.
func ParseBetTable(buf []byte) (*BetTable, error) {
	h, err := ParseExtHeader(buf, MagicBET)
	if err != nil {
		return nil, err
	}
	if h.Version != betVersion {
		return nil, fmt.Errorf("%w: BET version %d", ErrUnsupportedVersion, h.Version)
	}

	r := payloadReader{buf: extPayload(buf, h), kind: MagicBET}
	l := BetLayout{Version: h.Version}
	if err := r.uint32s(&l.TableSize, &l.FileCount, &l.Unknown08, &l.TableEntrySize); err != nil {
		return nil, err
	}
	for i := range l.Fields {
		if err := r.uint32s(&l.Fields[i].Offset); err != nil {
			return nil, err
		}
	}
	for i := range l.Fields {
		if err := r.uint32s(&l.Fields[i].Width); err != nil {
			return nil, err
		}
	}
	if err := r.uint32s(&l.HashBitsTotal, &l.HashBitsExtra, &l.HashBits, &l.HashArraySize, &l.FlagCount); err != nil {
		return nil, err
	}

	entryBits := l.EntryBitWidth()
	for i, f := range l.Fields {
		if f.Width > maxBitWidth || f.End() > entryBits {
			return nil, fmt.Errorf("%w: BET %s field bits [%d,%d) exceed %d-bit record",
				ErrCorruptLayout, betFieldNames[i], f.Offset, f.End(), entryBits)
		}
	}
	if l.HashBitsTotal > maxBitWidth || uint64(l.HashBits)+uint64(l.HashBitsExtra) != uint64(l.HashBitsTotal) {
		return nil, fmt.Errorf("%w: BET name hash width %d != %d+%d",
			ErrCorruptLayout, l.HashBitsTotal, l.HashBits, l.HashBitsExtra)
	}

	flagBytes, err := r.bytes(uint64(l.FlagCount) * betFlagSize)
	if err != nil {
		return nil, err
	}
	flags := make([]Flags, l.FlagCount)
	for i := range flags {
		flags[i] = Flags(binary.LittleEndian.Uint32(flagBytes[i*betFlagSize:]))
	}

	recordBytes, err := packedSize(uint64(l.FileCount), entryBits)
	if err != nil {
		return nil, fmt.Errorf("BET records: %w", err)
	}
	records, err := r.bytes(recordBytes)
	if err != nil {
		return nil, err
	}
	hashBytes, err := r.bytes(uint64(l.HashArraySize))
	if err != nil {
		return nil, err
	}
	hashes, err := newBitArray(hashBytes, uint(l.HashBitsTotal), uint64(l.FileCount))
	if err != nil {
		return nil, err
	}

	return &BetTable{layout: l, flags: flags, records: records, hashes: hashes}, nil
}

// Layout returns the table's field layout.
func (t *BetTable) Layout() BetLayout { return t.layout }

// Len returns the number of records.
func (t *BetTable) Len() int { return int(t.layout.FileCount) }

// FlagPalette returns a copy of the shared flag table.
func (t *BetTable) FlagPalette() []Flags { return append([]Flags(nil), t.flags...) }

// Record decodes record i.
//
// ErrOutOfRange is returned when i >= FileCount and ErrCorruptLayout when
// the record's flag index lies outside the flag palette.
func (t *BetTable) Record(i uint32) (BetRecord, error) {
	if i >= t.layout.FileCount {
		return BetRecord{}, fmt.Errorf("%w: BET record %d of %d", ErrOutOfRange, i, t.layout.FileCount)
	}

	base := uint64(i) * t.layout.EntryBitWidth()
	var vals [betFieldCount]uint64
	for f, fr := range t.layout.Fields {
		v, err := fr.read(t.records, base)
		if err != nil {
			return BetRecord{}, fmt.Errorf("BET record %d %s: %w", i, betFieldNames[f], err)
		}
		vals[f] = v
	}

	fi := vals[BetFlagIndex]
	if fi >= uint64(len(t.flags)) {
		return BetRecord{}, fmt.Errorf("%w: BET record %d flag index %d, palette has %d",
			ErrCorruptLayout, i, fi, len(t.flags))
	}
	return BetRecord{
		Position:       vals[BetPosition],
		FileSize:       vals[BetFileSize],
		CompressedSize: vals[BetCompressedSize],
		FlagIndex:      uint32(fi),
		Flags:          t.flags[fi],
	}, nil
}

// NameHash returns the name-hash remainder stored for record i.
func (t *BetTable) NameHash(i uint32) (uint64, error) {
	return t.hashes.get(uint64(i))
}

// matchesName reports whether record i's stored name hash agrees with the
// low HashBits bits of full. Tables without name hashes match everything.
func (t *BetTable) matchesName(i uint32, full uint64) bool {
	if t.layout.HashBits == 0 {
		return true
	}
	stored, err := t.NameHash(i)
	if err != nil {
		return false
	}
	mask := ^uint64(0) >> (maxBitWidth - t.layout.HashBits)
	return stored&mask == full&mask
}
