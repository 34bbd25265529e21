package layout

import "unsafe"

// Array[T] is a variable-length, fixed-element-size view over a byte
// range, the generics-based stand-in for spec.md §3.3's Array[T, N]:
// since N is only known at runtime for Histogram (it depends on the
// bucket count passed to the constructor), Go generics — which require
// compile-time type parameters — can't parameterize over N the way the
// source's generics.py memoizes Array[T, N] by both arguments. A slice
// view sidesteps the need for memoized identity entirely: constructing
// one is just arithmetic, never an allocation.
type Array[T any] struct {
	mem      []byte
	elemSize uintptr
	n        int
}

// NewArrayView overlays mem (len(mem) >= n*sizeof(T)) as n contiguous T
// cells, each strided by unsafe.Sizeof(T), which for a struct T already
// includes any trailing padding its alignment needs.
func NewArrayView[T any](mem []byte, n int) *Array[T] {
	var zero T
	elemSize := unsafe.Sizeof(zero)
	return &Array[T]{mem: mem[:uintptr(n)*elemSize], elemSize: elemSize, n: n}
}

// Len returns the element count.
func (a *Array[T]) Len() int { return a.n }

// At returns a pointer to element i, for atomic or direct access.
func (a *Array[T]) At(i int) *T {
	off := uintptr(i) * a.elemSize
	return (*T)(unsafe.Pointer(&a.mem[off]))
}

// ByteSize returns the array's total footprint in bytes.
func (a *Array[T]) ByteSize() uintptr { return a.elemSize * uintptr(a.n) }

// ElemSize returns the per-element stride.
func (a *Array[T]) ElemSize() uintptr { return a.elemSize }
