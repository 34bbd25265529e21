package arena

import (
	"fmt"
	"unsafe"
)

// Block identifies a byte range inside an Arena: (arena, start, size). It
// is cheap to copy; dereferencing lazily faults in any not-yet-mapped
// pages in the receiving process, per spec.md §3.2.
type Block struct {
	a     *Arena
	start int64
	size  int64
}

// BlockFrom reconstructs a Block from offsets previously read out of a
// Object/Dict header stored in shared memory (see internal/container).
func BlockFrom(a *Arena, start, size int64) Block {
	return Block{a: a, start: start, size: size}
}

// Start returns the block's arena-relative byte offset.
func (b Block) Start() int64 { return b.start }

// Size returns the block's size in bytes.
func (b Block) Size() int64 { return b.size }

// IsZero reports whether this is the zero Block (no allocation).
func (b Block) IsZero() bool { return b.a == nil && b.start == 0 && b.size == 0 }

// Deref returns a byte slice aliasing the block's bytes in this
// process's address space, mapping any missing pages on demand.
func (b Block) Deref() ([]byte, error) {
	if b.a == nil {
		return nil, fmt.Errorf("arena: deref of zero block")
	}
	return b.a.derefRange(b.start, b.size)
}

// Free is a no-op: the arena never frees individual allocations
// (spec.md §1 Non-goals).
func (b Block) Free() {}

// Malloc reserves size bytes aligned to alignment (a power of two) and
// returns a Block. See spec.md §4.1 for the allocation algorithm.
func (a *Arena) Malloc(size, alignment int64) (Block, error) {
	if size <= 0 {
		return Block{}, ErrInvalidSize
	}
	if alignment <= 0 || alignment&(alignment-1) != 0 {
		return Block{}, ErrInvalidAlignment
	}

	if size > a.mapSize {
		size = alignUp(size, a.mapSize)
	}

	guard := a.baseLock.Guard()
	defer guard()

	base := *a.basePtr
	pageBoundary := alignUp(int64(base), a.mapSize)
	candidate := alignUp(int64(base), alignment)
	if candidate+size > pageBoundary {
		candidate = pageBoundary
	}

	info, err := a.file.Stat()
	if err != nil {
		return Block{}, fmt.Errorf("arena: stat backing file: %w", err)
	}
	if candidate+size > info.Size() {
		newLen := alignUp(candidate+size, a.mapSize)
		if err := a.file.Truncate(newLen); err != nil {
			return Block{}, fmt.Errorf("arena: grow backing file: %w", err)
		}
	}

	*a.basePtr = uint64(candidate + size)

	return Block{a: a, start: candidate, size: size}, nil
}

// ReserveFixed returns the Block for the single well-known slot placed
// immediately after the arena header, at a deterministic offset every
// process computes the same way without needing to be told it. Registry
// uses this for its cross-process metric name directory (spec.md §3.2:
// a newly exec'd process must be able to find an existing metric by
// name using only the inherited fd, with no side channel). The first
// caller to see the cursor still sitting at the header (base <= start)
// creates and reports fresh=true; every later caller, in this or any
// other process, gets back the identical bytes with fresh=false.
func (a *Arena) ReserveFixed(size, alignment int64) (block Block, fresh bool, err error) {
	if size <= 0 {
		return Block{}, false, ErrInvalidSize
	}
	if alignment <= 0 || alignment&(alignment-1) != 0 {
		return Block{}, false, ErrInvalidAlignment
	}

	guard := a.baseLock.Guard()
	defer guard()

	start := alignUp(headerSize, alignment)

	if int64(*a.basePtr) > start {
		return Block{a: a, start: start, size: size}, false, nil
	}

	info, err := a.file.Stat()
	if err != nil {
		return Block{}, false, fmt.Errorf("arena: stat backing file: %w", err)
	}
	if start+size > info.Size() {
		newLen := alignUp(start+size, a.mapSize)
		if err := a.file.Truncate(newLen); err != nil {
			return Block{}, false, fmt.Errorf("arena: grow backing file: %w", err)
		}
	}
	*a.basePtr = uint64(start + size)
	return Block{a: a, start: start, size: size}, true, nil
}

func (a *Arena) derefRange(start, size int64) ([]byte, error) {
	first := start / a.mapSize
	last := (start + size - 1) / a.mapSize
	span := last - first + 1

	a.mapMu.Lock()
	if int64(len(a.maps)) <= last {
		grown := make([][]byte, last+1)
		copy(grown, a.maps)
		a.maps = grown
	}
	if a.maps[first] == nil {
		mem, err := a.mapWindow(first, span)
		if err != nil {
			a.mapMu.Unlock()
			return nil, err
		}
		a.maps[first] = mem
	}
	mem := a.maps[first]
	a.mapMu.Unlock()

	off := start - first*a.mapSize
	return mem[off : off+size], nil
}

func bytesToUint64(b []byte) *uint64 {
	return (*uint64)(unsafe.Pointer(&b[0]))
}
