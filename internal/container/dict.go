package container

import (
	"gosuda.org/mpmetrics/internal/arena"
	"gosuda.org/mpmetrics/internal/layout"
)

// growthFactor mirrors heap.py's Object._object setter comment: "Scale
// by a lot to minimize allocations; Heap doesn't free backing memory".
const growthFactor = 4

const minPayloadSize = 64

// Dict is an arena-resident string-keyed map of byte-encoded values. Its
// header lives inline in some parent struct (an ObjectHeader field); its
// payload lives in a separately allocated, independently grown block.
// The caller must hold whatever lock guards the parent struct — Dict
// itself does no locking, per spec.md §4.5.
type Dict[V any] struct {
	hdr   *layout.ObjectHeader
	a     *arena.Arena
	enc   func(V) []byte
	dec   func([]byte) (V, error)
}

// NewDict binds a Dict view to an inline header and an arena, using enc/
// dec to (de)serialize values.
func NewDict[V any](hdr *layout.ObjectHeader, a *arena.Arena, enc func(V) []byte, dec func([]byte) (V, error)) *Dict[V] {
	return &Dict[V]{hdr: hdr, a: a, enc: enc, dec: dec}
}

// Snapshot decodes the entire map. Cheap relative to a re-serialize, but
// still a full decode — callers on a hot path should not call this per
// observation (spec.md §9 open question).
func (d *Dict[V]) Snapshot() (map[string]V, error) {
	out := map[string]V{}
	if d.hdr.Length == 0 {
		return out, nil
	}
	block := arena.BlockFrom(d.a, int64(d.hdr.Start), int64(d.hdr.Size))
	mem, err := block.Deref()
	if err != nil {
		return nil, err
	}
	entries, err := decodeEntries(mem[:d.hdr.Length])
	if err != nil {
		return nil, err
	}
	for _, kv := range entries {
		v, err := d.dec(kv[1])
		if err != nil {
			return nil, err
		}
		out[string(kv[0])] = v
	}
	return out, nil
}

// Get looks up a single key, decoding the whole map to do it (the
// container is only used on cold paths per spec.md §4.5's rationale).
func (d *Dict[V]) Get(key string) (V, bool, error) {
	m, err := d.Snapshot()
	if err != nil {
		var zero V
		return zero, false, err
	}
	v, ok := m[key]
	return v, ok, nil
}

// Set inserts or updates key, re-serializing the full payload and
// growing the backing block if needed.
func (d *Dict[V]) Set(key string, value V) error {
	m, err := d.Snapshot()
	if err != nil {
		return err
	}
	m[key] = value
	return d.store(m)
}

// Delete removes key if present.
func (d *Dict[V]) Delete(key string) error {
	m, err := d.Snapshot()
	if err != nil {
		return err
	}
	if _, ok := m[key]; !ok {
		return nil
	}
	delete(m, key)
	return d.store(m)
}

func (d *Dict[V]) store(m map[string]V) error {
	entries := make([][2][]byte, 0, len(m))
	for k, v := range m {
		entries = append(entries, [2][]byte{[]byte(k), d.enc(v)})
	}
	payload := encodeEntries(entries)

	if uint64(len(payload)) > d.hdr.Size {
		newSize := uint64(len(payload)) * growthFactor
		if newSize < minPayloadSize {
			newSize = minPayloadSize
		}
		block, err := d.a.Malloc(int64(newSize), 8)
		if err != nil {
			return err
		}
		d.hdr.Start = uint64(block.Start())
		d.hdr.Size = uint64(block.Size())
	}

	block := arena.BlockFrom(d.a, int64(d.hdr.Start), int64(d.hdr.Size))
	mem, err := block.Deref()
	if err != nil {
		return err
	}
	copy(mem, payload)
	d.hdr.Length = uint64(len(payload))
	return nil
}
