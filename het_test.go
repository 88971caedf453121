package mpq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHetTable_FindNames(t *testing.T) {
	names := []string{"(listfile)", "(attributes)", `Scripts\common.j`, `Units\Orc\Grunt.mdx`, "war3map.w3e"}

	f := newHetFixture(16, 64, 8)
	for i, name := range names {
		f.insert(HashNameJenkins(name), uint32(i))
	}

	tbl, err := ParseHetTable(f.bytes(t, nil))
	require.NoError(t, err)

	l := tbl.Layout()
	assert.Equal(t, uint32(16), l.SlotCount)
	assert.Equal(t, uint32(64), l.HashBits)
	assert.Equal(t, uint32(8), l.IndexBitsTotal)

	for i, name := range names {
		idx, ok := tbl.Find(name)
		require.True(t, ok, name)
		assert.Equal(t, uint32(i), idx, name)
	}
	_, ok := tbl.Find("missing.txt")
	assert.False(t, ok)
}

func TestHetTable_Probe(t *testing.T) {
	const full = 0x0123456789ABCD03 // stored as 0x03 with 8-bit hashes

	tests := []struct {
		name    string
		slots   []uint64
		indexes []uint64
		verify  func(uint32) bool
		want    uint32
		found   bool
		probes  int
	}{
		{
			name:    "home_slot",
			slots:   []uint64{0xFF, 0xFF, 0xFF, 0x03},
			indexes: []uint64{0, 0, 0, 9},
			want:    9,
			found:   true,
			probes:  1,
		},
		{
			name:    "deleted_then_wraparound",
			slots:   []uint64{0x03, 0xFF, 0xFF, 0x85},
			indexes: []uint64{9, 0, 0, 1},
			want:    9,
			found:   true,
			probes:  2,
		},
		{
			name:    "free_slot_stops",
			slots:   []uint64{0x03, 0xFF, 0xFF, 0xFF},
			indexes: []uint64{9, 0, 0, 0},
			probes:  1,
		},
		{
			name:    "deleted_copy_is_skipped",
			slots:   []uint64{0xFF, 0xFF, 0xFF, 0x83},
			indexes: []uint64{0, 0, 0, 9},
			probes:  2,
		},
		{
			name:    "all_deleted_is_bounded",
			slots:   []uint64{0x80, 0x81, 0x82, 0x83},
			indexes: []uint64{0, 0, 0, 0},
			probes:  4,
		},
		{
			name:    "verify_rejects_collision",
			slots:   []uint64{0x03, 0xFF, 0xFF, 0x03},
			indexes: []uint64{2, 0, 0, 1},
			verify:  func(i uint32) bool { return i == 2 },
			want:    2,
			found:   true,
			probes:  2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := hetFixture{hashBits: 8, indexBits: 4, slots: tt.slots, indexes: tt.indexes}
			tbl, err := ParseHetTable(f.bytes(t, nil))
			require.NoError(t, err)

			idx, probes, ok := tbl.probe(full, tt.verify)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, idx)
			assert.Equal(t, tt.probes, probes)
		})
	}
}

func TestParseHetTable_Errors(t *testing.T) {
	f := newHetFixture(8, 16, 4)
	f.insert(0xABCD, 1)

	tests := []struct {
		name   string
		buf    func() []byte
		target error
	}{
		{"bet_magic", func() []byte {
			return extTableBytes(MagicBET, 1, f.bytes(t, nil)[extHeaderSize:])
		}, ErrFormat},
		{"version", func() []byte {
			return f.bytes(t, func(l *HetLayout) { l.Version = 2 })
		}, ErrUnsupportedVersion},
		{"short_fixed_fields", func() []byte {
			return extTableBytes(MagicHET, 1, appendUint32s(nil, 1, 2, 3))
		}, ErrTruncated},
		{"hash_width_too_wide", func() []byte {
			return f.bytes(t, func(l *HetLayout) { l.HashBits = 65 })
		}, ErrCorruptLayout},
		{"hash_width_too_narrow", func() []byte {
			return f.bytes(t, func(l *HetLayout) { l.HashBits = 1 })
		}, ErrCorruptLayout},
		{"index_width_mismatch", func() []byte {
			return f.bytes(t, func(l *HetLayout) { l.IndexBitsExtra = 1 })
		}, ErrCorruptLayout},
		{"index_wider_than_32_bits", func() []byte {
			return f.bytes(t, func(l *HetLayout) {
				l.IndexBitsTotal = 33
				l.IndexBits = 33
			})
		}, ErrCorruptLayout},
		{"no_slots", func() []byte {
			return f.bytes(t, func(l *HetLayout) { l.SlotCount = 0 })
		}, ErrCorruptLayout},
		{"index_array_truncated", func() []byte {
			return f.bytes(t, func(l *HetLayout) { l.IndexTableSize = 1 })
		}, ErrTruncated},
		{"hash_array_truncated", func() []byte {
			return f.bytes(t, func(l *HetLayout) { l.SlotCount = 64 })
		}, ErrTruncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseHetTable(tt.buf())
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

func TestHetTable_EmptyTable(t *testing.T) {
	f := hetFixture{hashBits: 8, indexBits: 4}
	tbl, err := ParseHetTable(f.bytes(t, nil))
	require.NoError(t, err)

	_, ok := tbl.Find("anything")
	assert.False(t, ok)
}
