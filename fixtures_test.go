package mpq

import (
	"encoding/binary"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
)

// extTableBytes prefixes payload with an extended table header.
func extTableBytes(magic Magic, version uint32, payload []byte) []byte {
	buf, _ := ExtHeader{Magic: magic, Version: version, DataSize: uint32(len(payload))}.MarshalBinary()
	return append(buf, payload...)
}

func appendUint32s(buf []byte, vals ...uint32) []byte {
	for _, v := range vals {
		buf = binary.LittleEndian.AppendUint32(buf, v)
	}
	return buf
}

// packBits stores vals as a contiguous array of width-bit elements.
func packBits(tb testing.TB, width uint, vals []uint64) []byte {
	tb.Helper()
	buf := make([]byte, bitsToBytes(uint64(width)*uint64(len(vals))))
	for i, v := range vals {
		require.NoError(tb, WriteBits(buf, uint64(i)*uint64(width), width, v))
	}
	return buf
}

// hetFixture is the plaintext content of a HET table.
type hetFixture struct {
	hashBits  uint32
	indexBits uint32
	slots     []uint64 // stored hash per slot
	indexes   []uint64 // file index per slot
}

func hetFree(hashBits uint32) uint64   { return ^uint64(0) >> (64 - hashBits) }
func hetDeleted(hashBits uint32) uint64 { return 1 << (hashBits - 1) }

func newHetFixture(slotCount int, hashBits, indexBits uint32) hetFixture {
	f := hetFixture{
		hashBits:  hashBits,
		indexBits: indexBits,
		slots:     make([]uint64, slotCount),
		indexes:   make([]uint64, slotCount),
	}
	for i := range f.slots {
		f.slots[i] = hetFree(hashBits)
	}
	return f
}

// insert places the truncated form of full at its first free slot.
func (f hetFixture) insert(full uint64, index uint32) int {
	key := full & (hetDeleted(f.hashBits) - 1)
	slot := int(key % uint64(len(f.slots)))
	for f.slots[slot] != hetFree(f.hashBits) {
		slot = (slot + 1) % len(f.slots)
	}
	f.slots[slot] = key
	f.indexes[slot] = uint64(index)
	return slot
}

func (f hetFixture) layout() HetLayout {
	n := uint32(len(f.slots))
	return HetLayout{
		Version:        hetVersion,
		MaxFileCount:   n,
		SlotCount:      n,
		HashBits:       f.hashBits,
		IndexBitsTotal: f.indexBits,
		IndexBits:      f.indexBits,
		IndexTableSize: uint32(bitsToBytes(uint64(n) * uint64(f.indexBits))),
	}
}

// bytes encodes the table. mutate, when non-nil, edits the declared layout
// after the arrays have been packed with the real one.
func (f hetFixture) bytes(tb testing.TB, mutate func(*HetLayout)) []byte {
	tb.Helper()
	hashes := packBits(tb, uint(f.hashBits), f.slots)
	indexes := packBits(tb, uint(f.indexBits), f.indexes)

	l := f.layout()
	l.TableSize = uint32(extHeaderSize + hetFixedFields*4 + len(hashes) + len(indexes))
	if mutate != nil {
		mutate(&l)
	}
	payload := appendUint32s(nil,
		l.TableSize, l.MaxFileCount, l.SlotCount, l.HashBits,
		l.IndexBitsTotal, l.IndexBitsExtra, l.IndexBits, l.IndexTableSize)
	payload = append(payload, hashes...)
	payload = append(payload, indexes...)
	return extTableBytes(MagicHET, l.Version, payload)
}

// betFixture is the plaintext content of a BET table.
type betFixture struct {
	records    []BetRecord
	palette    []Flags
	hashBits   uint32
	nameHashes []uint64
}

// Record layout used by fixtures: none of the fields is byte aligned past
// the first one.
var fixtureBetFields = [betFieldCount]BitRange{
	BetPosition:       {Offset: 0, Width: 40},
	BetFileSize:       {Offset: 40, Width: 32},
	BetCompressedSize: {Offset: 72, Width: 32},
	BetFlagIndex:      {Offset: 104, Width: 4},
	BetReserved:       {Offset: 108, Width: 0},
}

const fixtureBetEntrySize = 14

func (f betFixture) layout() BetLayout {
	n := uint32(len(f.records))
	return BetLayout{
		Version:        betVersion,
		FileCount:      n,
		Unknown08:      0x10,
		TableEntrySize: fixtureBetEntrySize,
		Fields:         fixtureBetFields,
		HashBitsTotal:  f.hashBits,
		HashBits:       f.hashBits,
		HashArraySize:  uint32(bitsToBytes(uint64(n) * uint64(f.hashBits))),
		FlagCount:      uint32(len(f.palette)),
	}
}

func (f betFixture) bytes(tb testing.TB, mutate func(*BetLayout)) []byte {
	tb.Helper()
	l := f.layout()

	recordBits := l.EntryBitWidth()
	records := make([]byte, bitsToBytes(uint64(len(f.records))*recordBits))
	for i, r := range f.records {
		base := uint64(i) * recordBits
		vals := [betFieldCount]uint64{r.Position, r.FileSize, r.CompressedSize, uint64(r.FlagIndex), 0}
		for fi, fr := range l.Fields {
			require.NoError(tb, WriteBits(records, base+uint64(fr.Offset), uint(fr.Width), vals[fi]))
		}
	}
	hashes := packBits(tb, uint(f.hashBits), f.nameHashes)

	if mutate != nil {
		mutate(&l)
	}
	payload := appendUint32s(nil, l.TableSize, l.FileCount, l.Unknown08, l.TableEntrySize)
	for _, fr := range l.Fields {
		payload = appendUint32s(payload, fr.Offset)
	}
	for _, fr := range l.Fields {
		payload = appendUint32s(payload, fr.Width)
	}
	payload = appendUint32s(payload, l.HashBitsTotal, l.HashBitsExtra, l.HashBits, l.HashArraySize, l.FlagCount)
	for _, fl := range f.palette {
		payload = appendUint32s(payload, uint32(fl))
	}
	payload = append(payload, records...)
	payload = append(payload, hashes...)
	return extTableBytes(MagicBET, l.Version, payload)
}

// testFile is one file stored in a synthetic archive.
type testFile struct {
	name    string
	locale  Locale
	data    []byte
	flags   Flags // FlagExists is added automatically
	deleted bool  // hash slot deleted, block left as free space
}

// archiveLayout describes a synthetic archive for buildArchive.
type archiveLayout struct {
	format    Format
	files     []testFile
	hashSlots uint32 // classic hash table and HET slot count; defaults to 16

	// prefix is the number of bytes placed before the archive header. It
	// must be a multiple of 512. With userData the prefix starts with a
	// user data shunt pointing at the header.
	prefix   int
	userData bool

	extended  bool // write HET and BET tables (v3)
	noClassic bool // omit the classic hash and block tables
}

func headerSizeOf(f Format) int {
	switch f {
	case FormatV2:
		return headerSizeV2
	case FormatV3:
		return headerSizeV3
	}
	return headerSizeV1
}

// buildArchive lays out files, then the tables the layout asks for, and
// finally patches the header in front. Tables are encrypted the way real
// archives store them.
func buildArchive(tb testing.TB, l archiveLayout) []byte {
	tb.Helper()
	if l.hashSlots == 0 {
		l.hashSlots = 16
	}

	hsize := headerSizeOf(l.format)
	body := make([]byte, hsize)

	blocks := make([]BlockEntry, len(l.files))
	for i, f := range l.files {
		blocks[i] = BlockEntry{
			Offset:         uint32(len(body)),
			CompressedSize: uint32(len(f.data)),
			FileSize:       uint32(len(f.data)),
			Flags:          f.flags | FlagExists,
		}
		if f.deleted {
			blocks[i].FileSize = 0
			blocks[i].Flags = 0
		}
		body = append(body, f.data...)
	}

	hdr := ArchiveHeader{HeaderSize: uint32(hsize), Format: l.format, SectorSizeShift: 3}

	if !l.noClassic {
		mask := l.hashSlots - 1
		rows := make(map[uint32]hashSlot)
		for i, f := range l.files {
			h := HashName(f.name)
			slot := h.Offset & mask
			for {
				if _, taken := rows[slot]; !taken {
					break
				}
				slot = (slot + 1) & mask
			}
			block := uint32(i)
			if f.deleted {
				block = rawSlotDeleted
			}
			rows[slot] = hashSlot{a: h.A, b: h.B, locale: f.locale, block: block}
		}
		hashBuf := hashTableBytes(l.hashSlots, rows)
		encryptTable(hashBuf, hashTableKey)
		hdr.HashTableOffset = uint32(len(body))
		hdr.HashTableSize = l.hashSlots
		body = append(body, hashBuf...)

		blockBuf := blockTableBytes(blocks...)
		encryptTable(blockBuf, blockTableKey)
		hdr.BlockTableOffset = uint32(len(body))
		hdr.BlockTableSize = uint32(len(blocks))
		body = append(body, blockBuf...)

		if l.format >= FormatV2 {
			hdr.HiBlockTableOffset = uint64(len(body))
			body = append(body, make([]byte, len(blocks)*hiBlockEntrySize)...)
		}
	}

	if l.extended {
		het := newHetFixture(int(l.hashSlots), 64, 8)
		bet := betFixture{hashBits: 32}
		for i, f := range l.files {
			full := HashNameJenkins(f.name)
			slot := het.insert(full, uint32(i))
			if f.deleted {
				het.slots[slot] = hetDeleted(het.hashBits)
			}

			b := blocks[i]
			fi := slices.Index(bet.palette, b.Flags)
			if fi < 0 {
				fi = len(bet.palette)
				bet.palette = append(bet.palette, b.Flags)
			}
			bet.records = append(bet.records, BetRecord{
				Position:       b.Position(),
				FileSize:       uint64(b.FileSize),
				CompressedSize: uint64(b.CompressedSize),
				FlagIndex:      uint32(fi),
			})
			bet.nameHashes = append(bet.nameHashes, full&0xFFFFFFFF)
		}

		hetBuf := het.bytes(tb, nil)
		encryptTable(hetBuf[extHeaderSize:], hashTableKey)
		hdr.HetTableOffset = uint64(len(body))
		body = append(body, hetBuf...)

		betBuf := bet.bytes(tb, nil)
		encryptTable(betBuf[extHeaderSize:], blockTableKey)
		hdr.BetTableOffset = uint64(len(body))
		body = append(body, betBuf...)
	}

	hdr.ArchiveSize = uint32(len(body))
	hdr.ArchiveSize64 = uint64(len(body))
	copy(body, headerBytes(hdr))

	out := make([]byte, l.prefix, l.prefix+len(body))
	if l.userData {
		copy(out, userDataBytes(uint32(l.prefix-userDataSize), uint32(l.prefix)))
	}
	return append(out, body...)
}

// attributesBytes encodes an attributes overlay with the arrays selected
// by flags.
func attributesBytes(flags AttrFlags, crcs []uint32, times []uint64, md5s [][md5Size]byte) []byte {
	buf := appendUint32s(nil, 100, uint32(flags))
	if flags&AttrCRC32 != 0 {
		buf = appendUint32s(buf, crcs...)
	}
	if flags&AttrTimestamp != 0 {
		for _, ts := range times {
			buf = binary.LittleEndian.AppendUint64(buf, ts)
		}
	}
	if flags&AttrMD5 != 0 {
		for _, sum := range md5s {
			buf = append(buf, sum[:]...)
		}
	}
	return buf
}
