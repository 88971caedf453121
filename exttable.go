package mpq

import (
	"encoding/binary"
	"fmt"
)

// Magic identifies an extended table kind. It is the 4-byte ASCII
// signature read as a little-endian uint32.
type Magic uint32

const (
	MagicHET Magic = 0x1A544548 // "HET\x1A"
	MagicBET Magic = 0x1A544542 // "BET\x1A"
)

func (m Magic) String() string {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(m))
	return fmt.Sprintf("%q", b[:])
}

// extHeaderSize is the size of the prologue shared by HET and BET.
const extHeaderSize = 12

// ExtHeader is the prologue common to the extended tables.
type ExtHeader struct {
	Magic   Magic
	Version uint32

	// DataSize is the number of bytes that follow the header.
	DataSize uint32
}

// ParseExtHeader decodes the 12-byte prologue at the start of buf and
// checks it against want.
//
// ErrTruncated is returned when buf is shorter than the prologue or than
// the declared data size, ErrFormat when the magic is not want. A HET
// prologue is never accepted where a BET one is expected, or vice versa.
func ParseExtHeader(buf []byte, want Magic) (ExtHeader, error) {
	if len(buf) < extHeaderSize {
		return ExtHeader{}, fmt.Errorf("%w: extended header needs %d bytes, have %d", ErrTruncated, extHeaderSize, len(buf))
	}
	h := ExtHeader{
		Magic:    Magic(binary.LittleEndian.Uint32(buf[0:4])),
		Version:  binary.LittleEndian.Uint32(buf[4:8]),
		DataSize: binary.LittleEndian.Uint32(buf[8:12]),
	}
	if h.Magic != want {
		return ExtHeader{}, fmt.Errorf("%w: extended table magic %v, want %v", ErrFormat, h.Magic, want)
	}
	if rest := uint64(len(buf) - extHeaderSize); uint64(h.DataSize) > rest {
		return ExtHeader{}, fmt.Errorf("%w: %v declares %d data bytes, %d remain", ErrTruncated, want, h.DataSize, rest)
	}
	return h, nil
}

// MarshalBinary encodes h as its 12-byte on-disk prologue.
func (h ExtHeader) MarshalBinary() ([]byte, error) {
	return h.AppendBinary(make([]byte, 0, extHeaderSize))
}

// AppendBinary appends the 12-byte prologue to b.
func (h ExtHeader) AppendBinary(b []byte) ([]byte, error) {
	b = binary.LittleEndian.AppendUint32(b, uint32(h.Magic))
	b = binary.LittleEndian.AppendUint32(b, h.Version)
	b = binary.LittleEndian.AppendUint32(b, h.DataSize)
	return b, nil
}

// extPayload returns the DataSize bytes that follow a validated header.
func extPayload(buf []byte, h ExtHeader) []byte {
	return buf[extHeaderSize : extHeaderSize+int(h.DataSize)]
}

// payloadReader is a cursor over the fixed uint32 fields at the start of
// an extended table payload.
type payloadReader struct {
	buf  []byte
	off  int
	kind Magic
}

func (r *payloadReader) uint32() (uint32, error) {
	if r.off+4 > len(r.buf) {
		return 0, fmt.Errorf("%w: %v header field at byte %d", ErrTruncated, r.kind, r.off)
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

// uint32s fills dst in order, stopping at the first short read.
func (r *payloadReader) uint32s(dst ...*uint32) error {
	for _, d := range dst {
		v, err := r.uint32()
		if err != nil {
			return err
		}
		*d = v
	}
	return nil
}

// bytes consumes the next n bytes.
func (r *payloadReader) bytes(n uint64) ([]byte, error) {
	if uint64(len(r.buf)-r.off) < n {
		return nil, fmt.Errorf("%w: %v needs %d more bytes at %d, have %d",
			ErrTruncated, r.kind, n, r.off, len(r.buf)-r.off)
	}
	b := r.buf[r.off : r.off+int(n)]
	r.off += int(n)
	return b, nil
}
