// attributes.go
//
// "(attributes)" overlay: optional per-block integrity metadata.
// The overlay is correlated 1:1 with block table slots and carries any
// subset of CRC-32, FILETIME timestamp and MD5 digest per block. It is
// consulted after a lookup to verify payload bytes and never takes part in
// name resolution.
//
// Unlike the load-bearing tables, the overlay degrades instead of failing:
// a buffer too short for the prologue yields an invalid overlay, and arrays
// cut short by truncation are padded with defaults so the entry count
// always equals the block count.

package mpq

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"math"
	"strings"
	"time"
)

// AttrFlags selects which arrays an attributes overlay carries.
type AttrFlags uint32

const (
	AttrCRC32     AttrFlags = 0x00000001
	AttrTimestamp AttrFlags = 0x00000002
	AttrMD5       AttrFlags = 0x00000004
)

const (
	attrPrologueSize = 8
	md5Size          = md5.Size
)

// defaultMD5 is the digest reported for blocks whose MD5 is absent.
var defaultMD5 = strings.Repeat("F", md5Size*2)

// AttrEntry is the metadata recorded for one block.
type AttrEntry struct {
	CRC32 uint32

	// Timestamp is a Windows FILETIME: 100ns intervals since 1601-01-01.
	Timestamp uint64

	// MD5 is the lowercase hex digest, or 32 'F's when absent.
	MD5 string
}

// Attributes is a parsed, immutable attributes overlay.
type Attributes struct {
	Version uint32
	Flags   AttrFlags
	entries []AttrEntry
}

// ParseAttributes decodes an attributes overlay for fileBlockCount blocks.
//
// It never fails. A buffer shorter than the 8-byte prologue yields an
// invalid overlay with no entries. Otherwise the CRC-32, timestamp and MD5
// arrays are read in that order for each bit set in the presence mask, and
// entries the buffer cannot supply keep their defaults: 0 for CRC-32 and
// timestamp, "FFFF…" for MD5.
func ParseAttributes(buf []byte, fileBlockCount uint32) *Attributes {
	if len(buf) < attrPrologueSize {
		return &Attributes{}
	}
	a := &Attributes{
		Version: binary.LittleEndian.Uint32(buf[0:4]),
		Flags:   AttrFlags(binary.LittleEndian.Uint32(buf[4:8])),
		entries: make([]AttrEntry, fileBlockCount),
	}
	for i := range a.entries {
		a.entries[i].MD5 = defaultMD5
	}

	rest := buf[attrPrologueSize:]
	if a.Flags&AttrCRC32 != 0 {
		for i := range a.entries {
			if len(rest) < 4 {
				rest = nil
				break
			}
			a.entries[i].CRC32 = binary.LittleEndian.Uint32(rest)
			rest = rest[4:]
		}
	}
	if a.Flags&AttrTimestamp != 0 {
		for i := range a.entries {
			if len(rest) < 8 {
				rest = nil
				break
			}
			a.entries[i].Timestamp = binary.LittleEndian.Uint64(rest)
			rest = rest[8:]
		}
	}
	if a.Flags&AttrMD5 != 0 {
		for i := range a.entries {
			if len(rest) < md5Size {
				break
			}
			a.entries[i].MD5 = hex.EncodeToString(rest[:md5Size])
			rest = rest[md5Size:]
		}
	}
	return a
}

// IsValid reports whether the overlay carries any data: a non-zero version
// and at least one presence bit.
func (a *Attributes) IsValid() bool { return a.Version > 0 && a.Flags != 0 }

// Len returns the number of entries; zero for an invalid overlay.
func (a *Attributes) Len() int { return len(a.entries) }

// Entry returns the metadata of block i.
func (a *Attributes) Entry(i uint32) (AttrEntry, error) {
	if int(i) >= len(a.entries) {
		return AttrEntry{}, fmt.Errorf("%w: attributes entry %d of %d", ErrOutOfRange, i, len(a.entries))
	}
	return a.entries[i], nil
}

// filetimeEpochDelta is the number of 100ns intervals between 1601-01-01
// and the Unix epoch.
const filetimeEpochDelta = 116444736000000000

// Time converts block i's FILETIME into a time.Time. A zero timestamp
// yields the zero time; a timestamp beyond the int64 range yields
// ErrOutOfRange.
func (a *Attributes) Time(i uint32) (time.Time, error) {
	e, err := a.Entry(i)
	if err != nil || e.Timestamp == 0 {
		return time.Time{}, err
	}
	if e.Timestamp > math.MaxInt64 {
		return time.Time{}, fmt.Errorf("%w: block %d timestamp 0x%X", ErrOutOfRange, i, e.Timestamp)
	}
	ticks := int64(e.Timestamp) - filetimeEpochDelta
	return time.Unix(ticks/1e7, (ticks%1e7)*100).UTC(), nil
}

// VerifyCRC32 checks data against the CRC-32 (IEEE) recorded for block i.
//
// ErrNoChecksum is returned when the overlay carries no CRC-32 array and
// ErrChecksumMismatch when the values differ.
func (a *Attributes) VerifyCRC32(i uint32, data []byte) error {
	if a.Flags&AttrCRC32 == 0 {
		return fmt.Errorf("%w: crc32", ErrNoChecksum)
	}
	e, err := a.Entry(i)
	if err != nil {
		return err
	}
	if got := crc32.ChecksumIEEE(data); got != e.CRC32 {
		return fmt.Errorf("%w: block %d crc32 %08x, want %08x", ErrChecksumMismatch, i, got, e.CRC32)
	}
	return nil
}

// VerifyMD5 checks data against the MD5 digest recorded for block i.
//
// The error contract matches VerifyCRC32.
func (a *Attributes) VerifyMD5(i uint32, data []byte) error {
	if a.Flags&AttrMD5 == 0 {
		return fmt.Errorf("%w: md5", ErrNoChecksum)
	}
	e, err := a.Entry(i)
	if err != nil {
		return err
	}
	sum := md5.Sum(data)
	if got := hex.EncodeToString(sum[:]); got != e.MD5 {
		return fmt.Errorf("%w: block %d md5 %s, want %s", ErrChecksumMismatch, i, got, e.MD5)
	}
	return nil
}
