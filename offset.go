package mpq

// MergeOffset joins a 32-bit low offset with its 16-bit high-order
// extension into a 64-bit archive position.
//
// MPQ v2 and later keep the classic 32-bit offset fields and store the
// extra bits in side tables (the hi-block table and the header's
// *OffsetHigh fields), so blocks beyond 4 GiB stay addressable without
// widening every table entry. Bits 48..63 of the result are always zero.
func MergeOffset(low uint32, high uint16) uint64 {
	return uint64(high)<<32 | uint64(low)
}
