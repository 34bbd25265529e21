package container

import (
	"encoding/binary"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	entries := [][2][]byte{
		{[]byte("a"), []byte("1")},
		{[]byte("bb"), []byte("22")},
	}
	payload := encodeEntries(entries)

	decoded, err := decodeEntries(payload)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.Equal(t, "a", string(decoded[0][0]))
	assert.Equal(t, "1", string(decoded[0][1]))
	assert.Equal(t, "bb", string(decoded[1][0]))
	assert.Equal(t, "22", string(decoded[1][1]))
}

func TestDecodeEmptyPayload(t *testing.T) {
	decoded, err := decodeEntries(nil)
	require.NoError(t, err)
	assert.Nil(t, decoded)
}

func TestDecodeRejectsShortPayload(t *testing.T) {
	_, err := decodeEntries([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestDecodeRejectsBadChecksum(t *testing.T) {
	payload := encodeEntries([][2][]byte{{[]byte("k"), []byte("v")}})
	// Flip a bit in the body without touching the trailing checksum, as
	// a half-applied concurrent write to the shared block would.
	corrupt := append([]byte(nil), payload...)
	corrupt[0] ^= 0xFF

	_, err := decodeEntries(corrupt)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestDecodeRejectsTruncatedField(t *testing.T) {
	payload := encodeEntries([][2][]byte{{[]byte("key"), []byte("value")}})
	// Cut the last two bytes of the value off the body and checksum what
	// remains, so the payload passes its checksum and decoding reaches a
	// length prefix that claims more bytes than the body still holds.
	body := payload[:len(payload)-checksumLen-2]
	var sum [checksumLen]byte
	binary.LittleEndian.PutUint64(sum[:], xxhash.Sum64(body))
	truncated := append(append([]byte(nil), body...), sum[:]...)

	_, err := decodeEntries(truncated)
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.ErrorContains(t, err, "truncated field")
}
