package atomic64

import "unsafe"

func asUint64Ptr(p *float64) unsafe.Pointer { return unsafe.Pointer(p) }

// NewInt64At, NewUint64At and NewDoubleAt overlay a cell directly from a
// pointer into a Go struct field (the Box[T] overlay case, where the
// field is already a natively-aligned, natively-typed word) instead of
// from a raw []byte, sparing callers an unsafe round trip through a
// slice header when they already have the typed pointer in hand.

func NewInt64At(p *int64) *Int64 { return &Int64{p: p} }

func NewUint64At(p *uint64) *Uint64 { return &Uint64{p: p} }

func NewDoubleAt(p *float64) *Double {
	return &Double{p: (*uint64)(asUint64Ptr(p))}
}
