// bitfield.go
//
// Bit-granular codec shared by the extended (HET/BET) tables.
// Values are packed least-significant-bit first inside each byte and bytes
// are consumed in ascending address order, so a field may start at any bit
// and straddle as many byte boundaries as its width requires.
//
// Both extended tables describe their layout as data (BitRange descriptors
// and bitArray strides) and never decode packed fields by hand.

package mpq

import (
	"fmt"
	"math/bits"
)

// maxBitWidth is the widest field the codec can move in one call.
const maxBitWidth = 64

// ReadBits decodes the bitWidth-bit unsigned value that starts bitOffset
// bits into buf.
//
// A width of zero always yields zero. ErrOutOfRange is returned when
// bitWidth exceeds 64 or when the field would extend past len(buf)*8.
func ReadBits(buf []byte, bitOffset uint64, bitWidth uint) (uint64, error) {
	if err := checkBitRange(buf, bitOffset, bitWidth); err != nil {
		return 0, err
	}

	var (
		value uint64
		done  uint
		pos   = bitOffset
	)
	for done < bitWidth {
		shift := uint(pos & 7)
		n := min(8-shift, bitWidth-done)
		chunk := (uint64(buf[pos>>3]) >> shift) & (1<<n - 1)
		value |= chunk << done
		done += n
		pos += uint64(n)
	}
	return value, nil
}

// WriteBits stores the low bitWidth bits of value at bitOffset bits into
// buf. Bits outside the field are left untouched.
//
// The error contract matches ReadBits; on error buf is not modified.
func WriteBits(buf []byte, bitOffset uint64, bitWidth uint, value uint64) error {
	if err := checkBitRange(buf, bitOffset, bitWidth); err != nil {
		return err
	}

	var (
		done uint
		pos  = bitOffset
	)
	for done < bitWidth {
		shift := uint(pos & 7)
		n := min(8-shift, bitWidth-done)
		mask := byte((1<<n - 1) << shift)
		bits := byte(((value >> done) & (1<<n - 1)) << shift)
		buf[pos>>3] = buf[pos>>3]&^mask | bits
		done += n
		pos += uint64(n)
	}
	return nil
}

func checkBitRange(buf []byte, bitOffset uint64, bitWidth uint) error {
	if bitWidth > maxBitWidth {
		return fmt.Errorf("%w: bit width %d exceeds %d", ErrOutOfRange, bitWidth, maxBitWidth)
	}
	end := bitOffset + uint64(bitWidth)
	if end < bitOffset || end > uint64(len(buf))*8 {
		return fmt.Errorf("%w: bits [%d,%d) beyond buffer of %d bits",
			ErrOutOfRange, bitOffset, end, uint64(len(buf))*8)
	}
	return nil
}

// bitsToBytes returns the number of bytes needed to hold n bits.
func bitsToBytes(n uint64) uint64 { return n/8 + (n&7+7)/8 }

// packedSize returns the byte size of count elements of width bits each.
// ErrCorruptLayout is returned when the bit count does not fit in 64 bits.
func packedSize(count, width uint64) (uint64, error) {
	hi, lo := bits.Mul64(count, width)
	if hi != 0 {
		return 0, fmt.Errorf("%w: %d elements of %d bits overflow", ErrCorruptLayout, count, width)
	}
	return bitsToBytes(lo), nil
}

// BitRange locates one field inside a fixed-width packed record.
type BitRange struct {
	Offset uint32 // bit offset from the start of the record
	Width  uint32 // bit width, 0..64
}

// End returns the first bit past the field.
func (f BitRange) End() uint64 { return uint64(f.Offset) + uint64(f.Width) }

// read decodes the field from the record that starts at recordBase bits
// into buf.
func (f BitRange) read(buf []byte, recordBase uint64) (uint64, error) {
	return ReadBits(buf, recordBase+uint64(f.Offset), uint(f.Width))
}

// bitArray is a flat, fixed-stride array of packed unsigned values.
//
// The HET hash and index arrays and the BET record and name-hash arrays
// are all bitArrays over a sub-slice of their table buffer. A bitArray
// never owns its bytes and is immutable once built.
type bitArray struct {
	data  []byte
	width uint   // bits per element, 0..64
	count uint64 // number of elements
}

// newBitArray validates that data can hold count elements of width bits.
func newBitArray(data []byte, width uint, count uint64) (bitArray, error) {
	if width > maxBitWidth {
		return bitArray{}, fmt.Errorf("%w: element width %d exceeds %d", ErrCorruptLayout, width, maxBitWidth)
	}
	need, err := packedSize(count, uint64(width))
	if err != nil {
		return bitArray{}, err
	}
	if uint64(len(data)) < need {
		return bitArray{}, fmt.Errorf("%w: bit array needs %d bytes, have %d", ErrTruncated, need, len(data))
	}
	return bitArray{data: data, width: width, count: count}, nil
}

// get returns element i.
func (a bitArray) get(i uint64) (uint64, error) {
	if i >= a.count {
		return 0, fmt.Errorf("%w: element %d of %d", ErrOutOfRange, i, a.count)
	}
	return ReadBits(a.data, i*uint64(a.width), a.width)
}
