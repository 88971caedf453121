package mpq

import "errors"

// Sentinel errors returned by the table parsers and the Archive.
//
// Every error that leaves this package wraps exactly one of these values so
// callers can branch with errors.Is while still getting a descriptive
// message. A lookup miss is never an error; Find-style methods report it
// through a boolean result instead.
var (
	// ErrFormat reports a structure whose signature or shape is not the one
	// requested: a wrong magic, or a hash table capacity that is not a
	// power of two.
	ErrFormat = errors.New("mpq: invalid format")

	// ErrTruncated reports a buffer shorter than the fixed minimum size of
	// the structure being decoded.
	ErrTruncated = errors.New("mpq: truncated data")

	// ErrOutOfRange reports a bit-field access beyond the buffer or an
	// index beyond the declared entry count.
	ErrOutOfRange = errors.New("mpq: out of range")

	// ErrCorruptLayout reports an extended table whose declared field
	// layout is inconsistent: a bit range wider than the record or a flag
	// index beyond the flag palette.
	ErrCorruptLayout = errors.New("mpq: corrupt table layout")

	// ErrUnsupportedVersion reports an archive header or extended table
	// revision this package does not decode.
	ErrUnsupportedVersion = errors.New("mpq: unsupported version")

	// ErrNoChecksum is returned by attribute verification when the overlay
	// does not carry the requested kind of checksum.
	ErrNoChecksum = errors.New("mpq: checksum not present in attributes")

	// ErrChecksumMismatch is returned when payload bytes do not match the
	// checksum recorded in the attributes overlay.
	ErrChecksumMismatch = errors.New("mpq: checksum mismatch")

	// ErrDecoderRequired is returned when a block is compressed or
	// encrypted and no PayloadDecoder was configured.
	ErrDecoderRequired = errors.New("mpq: payload decoder required")

	// ErrClosed is returned by Archive methods after Close.
	ErrClosed = errors.New("mpq: archive closed")
)
