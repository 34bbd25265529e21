// Package container implements the variable-size Dict of spec.md
// §4.5: a fixed (start, size, len) header plus a re-serialized payload
// block, grown 4x on overflow. Synchronization is the caller's
// responsibility (the label registry's shared lock, or a metric's
// sample lock).
//
// The wire format is a small length-prefixed binary encoding written
// with encoding/binary — the one place in this repo that reaches for the
// standard library over a pack dependency; see DESIGN.md for why no
// library in the retrieved set fits a generic "serialize an arbitrary
// small map to an arena payload block" job better than a dozen lines of
// varint framing. A trailing xxhash checksum guards against reading a
// payload a writer on another process left half-written: the backing
// block is shared memory, not a journaled file, so there is no fsync
// barrier to rely on for a consistent read.
package container

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// ErrCorrupt indicates the stored payload didn't decode to a well-formed
// sequence of length-prefixed entries, or failed its checksum.
var ErrCorrupt = errors.New("container: corrupt payload")

const checksumLen = 8

func encodeEntries(entries [][2][]byte) []byte {
	buf := make([]byte, 0, 64)
	var tmp [binary.MaxVarintLen64]byte
	putVarint := func(v uint64) {
		n := binary.PutUvarint(tmp[:], v)
		buf = append(buf, tmp[:n]...)
	}
	putVarint(uint64(len(entries)))
	for _, kv := range entries {
		putVarint(uint64(len(kv[0])))
		buf = append(buf, kv[0]...)
		putVarint(uint64(len(kv[1])))
		buf = append(buf, kv[1]...)
	}
	var sum [checksumLen]byte
	binary.LittleEndian.PutUint64(sum[:], xxhash.Sum64(buf))
	return append(buf, sum[:]...)
}

func decodeEntries(payload []byte) ([][2][]byte, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	if len(payload) < checksumLen {
		return nil, fmt.Errorf("%w: short payload", ErrCorrupt)
	}
	body, sum := payload[:len(payload)-checksumLen], payload[len(payload)-checksumLen:]
	if binary.LittleEndian.Uint64(sum) != xxhash.Sum64(body) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	r := body
	readVarint := func() (uint64, error) {
		v, n := binary.Uvarint(r)
		if n <= 0 {
			return 0, fmt.Errorf("%w: varint", ErrCorrupt)
		}
		r = r[n:]
		return v, nil
	}
	readBytes := func() ([]byte, error) {
		n, err := readVarint()
		if err != nil {
			return nil, err
		}
		if uint64(len(r)) < n {
			return nil, fmt.Errorf("%w: truncated field", ErrCorrupt)
		}
		b := r[:n]
		r = r[n:]
		return b, nil
	}

	count, err := readVarint()
	if err != nil {
		return nil, err
	}
	entries := make([][2][]byte, 0, count)
	for i := uint64(0); i < count; i++ {
		k, err := readBytes()
		if err != nil {
			return nil, err
		}
		v, err := readBytes()
		if err != nil {
			return nil, err
		}
		entries = append(entries, [2][]byte{k, v})
	}
	return entries, nil
}
