// hashtable.go
//
// Classic MPQ hash table.
// The table maps *(name hashes, locale, platform)* → *block table index*
// through open addressing over a power-of-two array of 16-byte slots.
// The home slot is the table-offset hash masked by capacity-1; collisions
// spill forward (with wraparound) to the next free slot.
//
// The raw block-index field doubles as a slot state: 0xFFFFFFFF marks a slot
// that was never used and ends a probe, 0xFFFFFFFE marks a deleted slot that
// a probe must step over. The parser decodes those sentinels into SlotState
// once so lookups never compare against magic numbers.

package mpq

import (
	"encoding/binary"
	"fmt"
)

const (
	hashEntrySize = 16

	rawSlotUnused  = 0xFFFFFFFF
	rawSlotDeleted = 0xFFFFFFFE
)

// Locale is a Windows LANGID. LocaleNeutral (0) marks language-neutral
// files and is the fallback for every lookup in Archive.Find.
type Locale uint16

// LocaleNeutral is the default, language-neutral locale.
const LocaleNeutral Locale = 0

// SlotState is the decoded form of a hash table slot's block index.
type SlotState uint8

const (
	// SlotUnused marks a slot that has never held a file. It terminates
	// a probe sequence.
	SlotUnused SlotState = iota
	// SlotDeleted marks a slot whose file was removed. Probing continues
	// past it.
	SlotDeleted
	// SlotOccupied marks a slot that references a block table entry.
	SlotOccupied
)

func (s SlotState) String() string {
	switch s {
	case SlotUnused:
		return "unused"
	case SlotDeleted:
		return "deleted"
	case SlotOccupied:
		return "occupied"
	}
	return fmt.Sprintf("SlotState(%d)", uint8(s))
}

// HashEntry is one decoded slot of the classic hash table.
type HashEntry struct {
	HashA    uint32
	HashB    uint32
	Locale   Locale
	Platform uint16
	State    SlotState

	// block is meaningful only when State is SlotOccupied.
	block uint32
}

// BlockIndex returns the referenced block table index. ok is false for
// unused and deleted slots.
func (e HashEntry) BlockIndex() (index uint32, ok bool) {
	if e.State != SlotOccupied {
		return 0, false
	}
	return e.block, true
}

// HasEverExisted reports whether the slot has ever held a file, i.e. it is
// not SlotUnused.
func (e HashEntry) HasEverExisted() bool { return e.State != SlotUnused }

// Exists reports whether the slot currently references a file: it is
// neither unused nor deleted.
func (e HashEntry) Exists() bool { return e.State == SlotOccupied }

func (e HashEntry) matches(h NameHash, locale Locale, platform uint16) bool {
	return e.HashA == h.A && e.HashB == h.B && e.Locale == locale && e.Platform == platform
}

// HashTable is a parsed, immutable classic hash table. It is safe for
// concurrent use.
type HashTable struct {
	entries []HashEntry
	mask    uint32
}

// ParseHashTable decodes capacity consecutive 16-byte slots from the
// already-decrypted buf.
//
// ErrFormat is returned when capacity is not a power of two, ErrTruncated
// when buf is shorter than capacity*16 bytes. Extra trailing bytes are
// ignored.
func ParseHashTable(buf []byte, capacity uint32) (*HashTable, error) {
	if capacity == 0 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("%w: hash table capacity %d is not a power of two", ErrFormat, capacity)
	}
	if need := uint64(capacity) * hashEntrySize; uint64(len(buf)) < need {
		return nil, fmt.Errorf("%w: hash table needs %d bytes, have %d", ErrTruncated, need, len(buf))
	}

	entries := make([]HashEntry, capacity)
	for i := range entries {
		row := buf[i*hashEntrySize : (i+1)*hashEntrySize]
		e := HashEntry{
			HashA:    binary.LittleEndian.Uint32(row[0:4]),
			HashB:    binary.LittleEndian.Uint32(row[4:8]),
			Locale:   Locale(binary.LittleEndian.Uint16(row[8:10])),
			Platform: binary.LittleEndian.Uint16(row[10:12]),
		}
		switch raw := binary.LittleEndian.Uint32(row[12:16]); raw {
		case rawSlotUnused:
			e.State = SlotUnused
		case rawSlotDeleted:
			e.State = SlotDeleted
		default:
			e.State = SlotOccupied
			e.block = raw
		}
		entries[i] = e
	}
	return &HashTable{entries: entries, mask: capacity - 1}, nil
}

// Len returns the table capacity.
func (t *HashTable) Len() int { return len(t.entries) }

// Entry returns slot i.
func (t *HashTable) Entry(i uint32) (HashEntry, error) {
	if int(i) >= len(t.entries) {
		return HashEntry{}, fmt.Errorf("%w: hash slot %d of %d", ErrOutOfRange, i, len(t.entries))
	}
	return t.entries[i], nil
}

// Find resolves name for the exact locale and platform and returns the
// block table index it references.
//
// The boolean result reports whether the name was present; a miss is a
// normal outcome, not an error.
func (t *HashTable) Find(name string, locale Locale, platform uint16) (uint32, bool) {
	return t.FindHash(HashName(name), locale, platform)
}

// FindHash is Find over precomputed name hashes.
//
// The probe starts at h.Offset&(capacity-1), stops at the first unused
// slot, steps over deleted slots and visits at most capacity slots, so a
// corrupt table without any unused slot cannot loop forever.
func (t *HashTable) FindHash(h NameHash, locale Locale, platform uint16) (uint32, bool) {
	idx, _, ok := t.probe(h, locale, platform)
	return idx, ok
}

// probe is FindHash that also reports how many slots were inspected.
func (t *HashTable) probe(h NameHash, locale Locale, platform uint16) (index uint32, probes int, ok bool) {
	start := h.Offset & t.mask
	for i := range uint32(len(t.entries)) {
		e := &t.entries[(start+i)&t.mask]
		probes++
		switch e.State {
		case SlotUnused:
			return 0, probes, false
		case SlotDeleted:
			continue
		}
		if e.matches(h, locale, platform) {
			return e.block, probes, true
		}
	}
	return 0, probes, false
}

// Locales returns the locales under which h is stored for platform, in
// probe order. Deleted slots are skipped.
func (t *HashTable) Locales(h NameHash, platform uint16) []Locale {
	var out []Locale
	start := h.Offset & t.mask
	for i := range uint32(len(t.entries)) {
		e := &t.entries[(start+i)&t.mask]
		if e.State == SlotUnused {
			break
		}
		if e.State == SlotOccupied && e.HashA == h.A && e.HashB == h.B && e.Platform == platform {
			out = append(out, e.Locale)
		}
	}
	return out
}
