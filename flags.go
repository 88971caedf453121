package mpq

import (
	"strings"
)

// Flags is the capability bitmask carried by every block, either directly
// in a classic block table entry or through the BET flag palette.
//
// The core only decodes the bits; interpreting them to materialise payload
// bytes is the job of a PayloadDecoder.
type Flags uint32

// Block flag bits.
const (
	FlagImplode      Flags = 0x00000100 // PKWARE DCL imploded.
	FlagCompress     Flags = 0x00000200 // Multi-algorithm compressed.
	FlagEncrypted    Flags = 0x00010000 // Encrypted with the file key.
	FlagFixKey       Flags = 0x00020000 // Key adjusted by block offset and size.
	FlagPatchFile    Flags = 0x00100000 // Incremental patch file.
	FlagSingleUnit   Flags = 0x01000000 // Stored as one unit, not in sectors.
	FlagDeleteMarker Flags = 0x02000000 // Deletes the file from lower-priority archives.
	FlagSectorCRC    Flags = 0x04000000 // Sector checksums follow the data.
	FlagExists       Flags = 0x80000000 // Block holds a file.

	flagCompressMask = FlagImplode | FlagCompress
)

// Exists reports whether the block holds a file.
func (f Flags) Exists() bool { return f&FlagExists != 0 }

// IsImploded reports PKWARE DCL compression.
func (f Flags) IsImploded() bool { return f&FlagImplode != 0 }

// IsCompressed reports whether the payload is compressed by any method,
// imploding included.
func (f Flags) IsCompressed() bool { return f&flagCompressMask != 0 }

// IsEncrypted reports whether the payload is encrypted.
func (f Flags) IsEncrypted() bool { return f&FlagEncrypted != 0 }

// HasFixKey reports whether the encryption key is adjusted by the block
// position and file size.
func (f Flags) HasFixKey() bool { return f&FlagFixKey != 0 }

// IsPatchFile reports an incremental patch file.
func (f Flags) IsPatchFile() bool { return f&FlagPatchFile != 0 }

// IsSingleUnit reports a payload stored as one unit rather than sectors.
func (f Flags) IsSingleUnit() bool { return f&FlagSingleUnit != 0 }

// IsDeleteMarker reports a deletion marker.
func (f Flags) IsDeleteMarker() bool { return f&FlagDeleteMarker != 0 }

// HasSectorCRC reports per-sector checksums after the payload.
func (f Flags) HasSectorCRC() bool { return f&FlagSectorCRC != 0 }

var flagNames = []struct {
	bit  Flags
	name string
}{
	{FlagImplode, "implode"},
	{FlagCompress, "compress"},
	{FlagEncrypted, "encrypted"},
	{FlagFixKey, "fix-key"},
	{FlagPatchFile, "patch"},
	{FlagSingleUnit, "single-unit"},
	{FlagDeleteMarker, "delete-marker"},
	{FlagSectorCRC, "sector-crc"},
	{FlagExists, "exists"},
}

// String renders the known bits joined by '|', e.g. "compress|exists".
// Unknown bits are ignored; an empty mask renders as "none".
func (f Flags) String() string {
	var names []string
	for _, fn := range flagNames {
		if f&fn.bit != 0 {
			names = append(names, fn.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}
