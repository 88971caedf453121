package mpq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExtHeader(t *testing.T) {
	buf := extTableBytes(MagicHET, 1, []byte{1, 2, 3, 4})

	h, err := ParseExtHeader(buf, MagicHET)
	require.NoError(t, err)
	assert.Equal(t, ExtHeader{Magic: MagicHET, Version: 1, DataSize: 4}, h)
	assert.Equal(t, []byte{1, 2, 3, 4}, extPayload(buf, h))

	enc, err := h.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, buf[:extHeaderSize], enc)
}

func TestParseExtHeader_NeverSwapsKinds(t *testing.T) {
	het := extTableBytes(MagicHET, 1, nil)
	bet := extTableBytes(MagicBET, 1, nil)

	_, err := ParseExtHeader(bet, MagicHET)
	assert.ErrorIs(t, err, ErrFormat)
	_, err = ParseExtHeader(het, MagicBET)
	assert.ErrorIs(t, err, ErrFormat)

	_, err = ParseExtHeader([]byte("HET\x1BXXXXYYYY"), MagicHET)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestParseExtHeader_Truncated(t *testing.T) {
	buf := extTableBytes(MagicBET, 1, make([]byte, 8))

	_, err := ParseExtHeader(buf[:extHeaderSize-1], MagicBET)
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = ParseExtHeader(buf[:len(buf)-1], MagicBET)
	assert.ErrorIs(t, err, ErrTruncated, "declared data size exceeds the buffer")
}

func TestMagic_String(t *testing.T) {
	assert.Equal(t, `"HET\x1a"`, MagicHET.String())
	assert.Equal(t, `"BET\x1a"`, MagicBET.String())
}

func TestPayloadReader(t *testing.T) {
	r := payloadReader{buf: appendUint32s(nil, 7, 9), kind: MagicHET}

	var a, b, c uint32
	require.NoError(t, r.uint32s(&a, &b))
	assert.Equal(t, uint32(7), a)
	assert.Equal(t, uint32(9), b)

	err := r.uint32s(&c)
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = r.bytes(1)
	assert.ErrorIs(t, err, ErrTruncated)

	got, err := r.bytes(0)
	require.NoError(t, err)
	assert.Empty(t, got)
}
