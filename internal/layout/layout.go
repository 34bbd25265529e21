// Package layout provides the typed-overlay building blocks of spec.md
// §4.4: a byte-offset Cursor implementing the C-style struct layout
// algorithm, a variable-length Array view, and the Box ownership wrapper.
//
// Fixed-shape metric bodies (Counter, Gauge, Summary) are plain Go
// structs overlaid directly via unsafe.Pointer, following the teacher's
// mskip.go technique (mskipNode is cast onto arena bytes the same way):
// since every participating process runs the same binary built by the
// same Go toolchain, Go's own struct layout is already process-stable,
// so there is no need to hand-roll field offsets for the fixed-shape
// case the way the Python source does for ctypes interop. Cursor exists
// for the one case that is genuinely variable at runtime: Histogram's
// per-bucket-count data, whose shape depends on a value supplied at
// construction time and therefore can't be a Go struct type.
package layout

// Cursor is a bump-offset allocator for laying out byte ranges within a
// single block, mirroring types.py's Struct._fields_iter algorithm:
// align forward to the next field's alignment, place it, advance.
type Cursor struct {
	off uintptr
}

// Place aligns the cursor up to align, reserves size bytes, and returns
// the start offset of the reserved range.
func (c *Cursor) Place(size, align uintptr) uintptr {
	c.off = AlignUp(c.off, align)
	start := c.off
	c.off += size
	return start
}

// Size returns the total bytes reserved so far, rounded up to the
// largest alignment seen is the caller's responsibility (mirrors
// Struct.size deriving from the final field's end, per spec.md §4.4).
func (c *Cursor) Size() uintptr { return c.off }

// AlignUp rounds x up to the nearest multiple of a, which must be a
// power of two.
func AlignUp(x, a uintptr) uintptr {
	return (x + a - 1) &^ (a - 1)
}

// ObjectHeader is the fixed three-scalar header spec.md §3.3 describes
// for Object[T]: it locates a separately-allocated, independently-grown
// serialized payload block inside the arena. It is always embedded
// inline in a parent struct (e.g. a LabeledCollector's label map, or a
// Counter's exemplar label set), never allocated as a standalone Box.
type ObjectHeader struct {
	Start  uint64
	Size   uint64
	Length uint64
}
