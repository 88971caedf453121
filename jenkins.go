package mpq

import "math/bits"

// HashNameJenkins computes the 64-bit name hash used by the extended (HET)
// hash table: Bob Jenkins' lookup3 hashlittle2 over the lower-cased,
// backslash-normalised name, with the primary result in the high word.
func HashNameJenkins(name string) uint64 {
	buf := make([]byte, len(name))
	for i := range len(name) {
		buf[i] = normalizeNameByte(name[i], lowerASCII)
	}
	c, b := hashLittle2(buf, 0, 0)
	return uint64(c)<<32 | uint64(b)
}

// hashLittle2 is lookup3's hashlittle2 evaluated byte-wise, so the result
// does not depend on host endianness or alignment. pc and pb seed the
// primary and secondary results respectively.
func hashLittle2(k []byte, pc, pb uint32) (c, b uint32) {
	a := 0xdeadbeef + uint32(len(k)) + pc
	b = a
	c = a + pb

	for len(k) > 12 {
		a += le32(k[0:4])
		b += le32(k[4:8])
		c += le32(k[8:12])
		a, b, c = jenkinsMix(a, b, c)
		k = k[12:]
	}
	if len(k) == 0 {
		return c, b
	}

	var tail [12]byte
	copy(tail[:], k)
	a += le32(tail[0:4])
	b += le32(tail[4:8])
	c += le32(tail[8:12])
	a, b, c = jenkinsFinal(a, b, c)
	return c, b
}

func le32(p []byte) uint32 {
	return uint32(p[0]) | uint32(p[1])<<8 | uint32(p[2])<<16 | uint32(p[3])<<24
}

func jenkinsMix(a, b, c uint32) (uint32, uint32, uint32) {
	a -= c
	a ^= bits.RotateLeft32(c, 4)
	c += b
	b -= a
	b ^= bits.RotateLeft32(a, 6)
	a += c
	c -= b
	c ^= bits.RotateLeft32(b, 8)
	b += a
	a -= c
	a ^= bits.RotateLeft32(c, 16)
	c += b
	b -= a
	b ^= bits.RotateLeft32(a, 19)
	a += c
	c -= b
	c ^= bits.RotateLeft32(b, 4)
	b += a
	return a, b, c
}

func jenkinsFinal(a, b, c uint32) (uint32, uint32, uint32) {
	c ^= b
	c -= bits.RotateLeft32(b, 14)
	a ^= c
	a -= bits.RotateLeft32(c, 11)
	b ^= a
	b -= bits.RotateLeft32(a, 25)
	c ^= b
	c -= bits.RotateLeft32(b, 16)
	a ^= c
	a -= bits.RotateLeft32(c, 4)
	b ^= a
	b -= bits.RotateLeft32(a, 14)
	c ^= b
	c -= bits.RotateLeft32(b, 24)
	return a, b, c
}
