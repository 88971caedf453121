// het.go
//
// Extended hash table ("HET") parser for MPQ v3 archives.
// The table maps *truncated 64-bit name hashes* → *BET file index* through
// two parallel bit-packed arrays: one hash value per slot and one file index
// per slot. Lookups probe the hash array linearly from the home slot and,
// on a match, read the index array at the same position.
//
// The top bit of every stored hash is reserved: a slot whose value is all
// ones has never been used and ends a probe, any other value with the top
// bit set is a deleted slot that a probe steps over.

package mpq

import (
	"fmt"
)

const (
	hetVersion     = 1
	hetFixedFields = 8

	// maxIndexBits is the widest file index a slot may hold; BET indexes
	// are 32-bit.
	maxIndexBits = 32
)

// HetLayout describes the capacity metadata of a HET table.
type HetLayout struct {
	Version      uint32
	TableSize    uint32 // total table size as recorded by the writer
	MaxFileCount uint32 // capacity of the companion BET table
	SlotCount    uint32 // number of hash/index slots

	// HashBits is the width of each stored hash, reserved top bit included.
	HashBits uint32

	// IndexBitsTotal is the width of each index slot; it is the sum of
	// IndexBits and IndexBitsExtra.
	IndexBitsTotal uint32
	IndexBitsExtra uint32
	IndexBits      uint32

	// IndexTableSize is the byte size of the packed index array.
	IndexTableSize uint32
}

// HetTable is a parsed, immutable HET table. It is safe for concurrent use.
type HetTable struct {
	layout  HetLayout
	hashes  bitArray
	indexes bitArray

	keyMask uint64 // bits of a name hash that are stored
	topBit  uint64 // reserved marker bit
	free    uint64 // value of a never-used slot
}

// ParseHetTable decodes a complete HET table, 12-byte extended header
// included, from the already-decrypted buf.
//
// ErrFormat is returned for a foreign magic, ErrUnsupportedVersion for a
// revision other than 1, ErrTruncated when either packed array does not
// fit, and ErrCorruptLayout when the declared bit widths are impossible or
// files are declared without any slot to hold them.
func ParseHetTable(buf []byte) (*HetTable, error) {
	h, err := ParseExtHeader(buf, MagicHET)
	if err != nil {
		return nil, err
	}
	if h.Version != hetVersion {
		return nil, fmt.Errorf("%w: HET version %d", ErrUnsupportedVersion, h.Version)
	}

	r := payloadReader{buf: extPayload(buf, h), kind: MagicHET}
	l := HetLayout{Version: h.Version}
	if err := r.uint32s(
		&l.TableSize, &l.MaxFileCount, &l.SlotCount, &l.HashBits,
		&l.IndexBitsTotal, &l.IndexBitsExtra, &l.IndexBits, &l.IndexTableSize,
	); err != nil {
		return nil, err
	}

	if l.HashBits < 2 || l.HashBits > maxBitWidth {
		return nil, fmt.Errorf("%w: HET hash width %d outside 2..%d", ErrCorruptLayout, l.HashBits, maxBitWidth)
	}
	if l.IndexBitsTotal > maxIndexBits {
		return nil, fmt.Errorf("%w: HET index width %d exceeds %d", ErrCorruptLayout, l.IndexBitsTotal, maxIndexBits)
	}
	if uint64(l.IndexBits)+uint64(l.IndexBitsExtra) != uint64(l.IndexBitsTotal) {
		return nil, fmt.Errorf("%w: HET index width %d != %d+%d",
			ErrCorruptLayout, l.IndexBitsTotal, l.IndexBits, l.IndexBitsExtra)
	}

	if l.SlotCount == 0 && l.MaxFileCount > 0 {
		return nil, fmt.Errorf("%w: HET has no slots for %d files", ErrCorruptLayout, l.MaxFileCount)
	}

	hashSize, err := packedSize(uint64(l.SlotCount), uint64(l.HashBits))
	if err != nil {
		return nil, err
	}
	hashBytes, err := r.bytes(hashSize)
	if err != nil {
		return nil, err
	}
	hashes, err := newBitArray(hashBytes, uint(l.HashBits), uint64(l.SlotCount))
	if err != nil {
		return nil, err
	}
	indexBytes, err := r.bytes(uint64(l.IndexTableSize))
	if err != nil {
		return nil, err
	}
	indexes, err := newBitArray(indexBytes, uint(l.IndexBitsTotal), uint64(l.SlotCount))
	if err != nil {
		return nil, err
	}

	top := uint64(1) << (l.HashBits - 1)
	return &HetTable{
		layout:  l,
		hashes:  hashes,
		indexes: indexes,
		keyMask: top - 1,
		topBit:  top,
		free:    ^uint64(0) >> (maxBitWidth - l.HashBits),
	}, nil
}

// Layout returns the table's capacity metadata.
func (t *HetTable) Layout() HetLayout { return t.layout }

// Find resolves name to a BET file index.
func (t *HetTable) Find(name string) (uint32, bool) {
	return t.FindHash(HashNameJenkins(name), nil)
}

// FindHash resolves a full 64-bit Jenkins name hash to a BET file index.
//
// The hash is truncated to the stored width (top bit cleared) and probed
// from slot truncated%SlotCount, visiting at most SlotCount slots. When
// verify is non-nil a matching slot is accepted only if verify(index)
// returns true; otherwise probing continues, which lets callers reject
// truncated-hash collisions with the BET name hash.
func (t *HetTable) FindHash(full uint64, verify func(index uint32) bool) (uint32, bool) {
	idx, _, ok := t.probe(full, verify)
	return idx, ok
}

func (t *HetTable) probe(full uint64, verify func(uint32) bool) (index uint32, probes int, ok bool) {
	slots := uint64(t.layout.SlotCount)
	if slots == 0 {
		return 0, 0, false
	}
	key := full & t.keyMask
	start := key % slots
	for i := range slots {
		slot := (start + i) % slots
		probes++
		v, err := t.hashes.get(slot)
		if err != nil {
			return 0, probes, false
		}
		switch {
		case v == t.free:
			return 0, probes, false
		case v&t.topBit != 0, v != key:
			continue
		}
		raw, err := t.indexes.get(slot)
		if err != nil {
			return 0, probes, false
		}
		if verify == nil || verify(uint32(raw)) {
			return uint32(raw), probes, true
		}
	}
	return 0, probes, false
}
