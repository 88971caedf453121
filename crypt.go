// crypt.go
//
// Classic MPQ name hashing and table decryption.
// Every classic lookup hashes the file name three times with the same
// 0x500-entry crypt table under different seeds: one hash picks the home
// slot and two more verify the match. The same table drives the stream
// cipher that protects the on-disk hash and block tables.

package mpq

import "encoding/binary"

// Hash types select the 256-entry section of cryptTable used by HashString.
const (
	hashTypeTableOffset = 0
	hashTypeNameA       = 1
	hashTypeNameB       = 2
	hashTypeFileKey     = 3
)

var cryptTable = func() (t [0x500]uint32) {
	seed := uint32(0x00100001)
	for i := range 0x100 {
		for j := i; j < 0x500; j += 0x100 {
			seed = (seed*125 + 3) % 0x2AAAAB
			hi := (seed & 0xFFFF) << 0x10
			seed = (seed*125 + 3) % 0x2AAAAB
			lo := seed & 0xFFFF
			t[j] = hi | lo
		}
	}
	return t
}()

// Table keys. The on-disk classic tables (and the payload of the extended
// tables) are encrypted with the file-key hash of these fixed names.
var (
	hashTableKey  = HashString("(hash table)", hashTypeFileKey)
	blockTableKey = HashString("(block table)", hashTypeFileKey)
)

// HashString computes the classic MPQ hash of s under hashType.
//
// Names are case-insensitive and '/' is treated as '\', so "war3map.j" and
// "WAR3MAP.J" hash identically.
func HashString(s string, hashType uint32) uint32 {
	seed1 := uint32(0x7FED7FED)
	seed2 := uint32(0xEEEEEEEE)
	for i := range len(s) {
		ch := uint32(normalizeNameByte(s[i], upperASCII))
		seed1 = cryptTable[hashType<<8+ch] ^ (seed1 + seed2)
		seed2 = ch + seed1 + seed2 + seed2<<5 + 3
	}
	return seed1
}

// NameHash holds the three classic hashes of one file name.
type NameHash struct {
	Offset uint32 // home slot selector
	A      uint32 // first verification hash
	B      uint32 // second verification hash
}

// HashName computes all three classic hashes of name.
func HashName(name string) NameHash {
	return NameHash{
		Offset: HashString(name, hashTypeTableOffset),
		A:      HashString(name, hashTypeNameA),
		B:      HashString(name, hashTypeNameB),
	}
}

type nameCase uint8

const (
	upperASCII nameCase = iota
	lowerASCII
)

// normalizeNameByte folds case and path separators the way the format's
// hash functions expect.
func normalizeNameByte(c byte, fold nameCase) byte {
	switch {
	case c == '/':
		return '\\'
	case fold == upperASCII && c >= 'a' && c <= 'z':
		return c - 0x20
	case fold == lowerASCII && c >= 'A' && c <= 'Z':
		return c + 0x20
	}
	return c
}

// decryptTable decrypts buf in place with key. The cipher works on
// little-endian 32-bit words; a trailing partial word is left untouched.
func decryptTable(buf []byte, key uint32) {
	seed := uint32(0xEEEEEEEE)
	for i := 0; i+4 <= len(buf); i += 4 {
		seed += cryptTable[0x400+(key&0xFF)]
		plain := binary.LittleEndian.Uint32(buf[i:]) ^ (key + seed)
		key = (^key<<0x15 + 0x11111111) | key>>0x0B
		seed = plain + seed + seed<<5 + 3
		binary.LittleEndian.PutUint32(buf[i:], plain)
	}
}
