package layout

import (
	"unsafe"

	"gosuda.org/mpmetrics/internal/arena"
)

// Box[T] is the ownership wrapper of spec.md §3.3: it allocates
// unsafe.Sizeof(T) bytes from an arena at a cache-line alignment and
// overlays a *T on them. Boxes are the only objects that own arena
// storage; everything else is a non-owning view. The overlay itself uses
// the teacher's mskip.go cast idiom
// ("(*mskipNode)(unsafe.Pointer(arena.Index(ptr)))"), generalized with
// Go generics so it works for any fixed-shape T instead of one hardcoded
// node type.
type Box[T any] struct {
	block arena.Block
	ptr   *T
}

// NewBox allocates and zero-initializes a Box[T] in a.
func NewBox[T any](a *arena.Arena) (*Box[T], error) {
	var zero T
	size := int64(unsafe.Sizeof(zero))
	block, err := a.Malloc(size, arena.CacheLineSize())
	if err != nil {
		return nil, err
	}
	mem, err := block.Deref()
	if err != nil {
		return nil, err
	}
	ptr := (*T)(unsafe.Pointer(&mem[0]))
	*ptr = zero
	return &Box[T]{block: block, ptr: ptr}, nil
}

// OpenBox reconstructs a Box[T] view over a Block obtained elsewhere
// (e.g. read out of a LabeledCollector's shared map), without
// re-initializing its contents. This is the receiving side of
// spec.md §4.4: "on deserialization the receiving process reconstructs
// the typed overlay by dereferencing the block in its own address
// space".
func OpenBox[T any](block arena.Block) (*Box[T], error) {
	mem, err := block.Deref()
	if err != nil {
		return nil, err
	}
	return &Box[T]{block: block, ptr: (*T)(unsafe.Pointer(&mem[0]))}, nil
}

// OpenOrInitBox overlays a *T onto block, zero-initializing only when
// fresh is true. Registry's cross-process metric directory is the one
// Box that many independent NewRegistry calls, possibly in different
// processes, must converge on sharing rather than each re-allocating:
// the first caller to reserve the slot (arena.ReserveFixed reports
// fresh=true) gets a zeroed struct to initialize, and every later
// caller reopens whatever is already there.
func OpenOrInitBox[T any](block arena.Block, fresh bool) (*Box[T], error) {
	mem, err := block.Deref()
	if err != nil {
		return nil, err
	}
	ptr := (*T)(unsafe.Pointer(&mem[0]))
	if fresh {
		var zero T
		*ptr = zero
	}
	return &Box[T]{block: block, ptr: ptr}, nil
}

// Get returns the typed overlay.
func (b *Box[T]) Get() *T { return b.ptr }

// Block returns the (start, size) identifier, which is all that needs to
// cross a process boundary for another process to open the same Box via
// OpenBox.
func (b *Box[T]) Block() arena.Block { return b.block }
