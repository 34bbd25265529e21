// Package atomic64 implements the three logical atomic types spec.md §4.3
// requires over shared memory: AtomicInt64, AtomicUInt64, AtomicDouble.
// Int64/Uint64 map directly onto sync/atomic. Double has no native atomic
// add, so it is implemented as a CompareAndSwap retry loop over the
// IEEE-754 bit pattern, which stays wait-free and sequentially consistent
// without needing the interprocess-lock fallback the source reaches for
// (mpmetrics/atomic.py's LockingDouble). See LockingUint64 and
// LockingDouble in locking.go for the lock-guarded fallback path spec.md §4.3 still
// requires for misaligned cells.
package atomic64

import (
	"errors"
	"math"
	"sync/atomic"
	"unsafe"
)

// ErrOverflow is returned by Add when raise_on_overflow is true and the
// add would overflow; per spec.md §4.3 the atomic's value is left
// unchanged.
var ErrOverflow = errors.New("atomic64: overflow")

// Int64 overlays a signed 64-bit atomic cell onto shared memory.
type Int64 struct{ p *int64 }

// NewInt64 overlays mem (must be 8 bytes, 8-byte aligned) as an Int64.
func NewInt64(mem []byte) (*Int64, error) {
	p, err := cellPtr[int64](mem)
	if err != nil {
		return nil, err
	}
	return &Int64{p: p}, nil
}

func (a *Int64) Get() int64  { return atomic.LoadInt64(a.p) }
func (a *Int64) Set(v int64) { atomic.StoreInt64(a.p, v) }

// Add performs old+delta, returning the pre-add value as spec.md §4.3
// requires (the Summary/Histogram ticket counter depends on this).
func (a *Int64) Add(delta int64, raiseOnOverflow bool) (int64, error) {
	for {
		old := atomic.LoadInt64(a.p)
		sum := old + delta
		if raiseOnOverflow && signedOverflow(old, delta, sum) {
			return old, ErrOverflow
		}
		if atomic.CompareAndSwapInt64(a.p, old, sum) {
			return old, nil
		}
	}
}

func signedOverflow(a, b, sum int64) bool {
	return (a >= 0) == (b >= 0) && (sum >= 0) != (a >= 0)
}

// Uint64 overlays an unsigned 64-bit atomic cell onto shared memory.
type Uint64 struct{ p *uint64 }

// NewUint64 overlays mem (must be 8 bytes, 8-byte aligned) as a Uint64.
func NewUint64(mem []byte) (*Uint64, error) {
	p, err := cellPtr[uint64](mem)
	if err != nil {
		return nil, err
	}
	return &Uint64{p: p}, nil
}

func (a *Uint64) Get() uint64  { return atomic.LoadUint64(a.p) }
func (a *Uint64) Set(v uint64) { atomic.StoreUint64(a.p, v) }

// Add performs old+delta with unsigned wraparound detection, returning
// the pre-add value.
func (a *Uint64) Add(delta uint64, raiseOnOverflow bool) (uint64, error) {
	for {
		old := atomic.LoadUint64(a.p)
		sum := old + delta
		if raiseOnOverflow && sum < old {
			return old, ErrOverflow
		}
		if atomic.CompareAndSwapUint64(a.p, old, sum) {
			return old, nil
		}
	}
}

// AddRaw performs the add unconditionally (raise_on_overflow=false),
// wrapping on overflow, and returns the pre-add value.
func (a *Uint64) AddRaw(delta uint64) uint64 {
	v, _ := a.Add(delta, false)
	return v
}

// Double overlays a float64 atomic cell onto shared memory, represented
// in bits so it can ride sync/atomic's CAS.
type Double struct{ p *uint64 }

// NewDouble overlays mem (must be 8 bytes, 8-byte aligned) as a Double.
func NewDouble(mem []byte) (*Double, error) {
	p, err := cellPtr[uint64](mem)
	if err != nil {
		return nil, err
	}
	return &Double{p: p}, nil
}

func (a *Double) Get() float64 {
	return math.Float64frombits(atomic.LoadUint64(a.p))
}

func (a *Double) Set(v float64) {
	atomic.StoreUint64(a.p, math.Float64bits(v))
}

// Add performs old+delta in floating point. Overflow is defined by
// spec.md §4.3 as "NaN production": a sum that turns NaN while neither
// operand started as NaN (e.g. (+Inf) + (-Inf)).
func (a *Double) Add(delta float64, raiseOnOverflow bool) (float64, error) {
	for {
		oldBits := atomic.LoadUint64(a.p)
		old := math.Float64frombits(oldBits)
		sum := old + delta
		if raiseOnOverflow && math.IsNaN(sum) && !math.IsNaN(old) && !math.IsNaN(delta) {
			return old, ErrOverflow
		}
		if atomic.CompareAndSwapUint64(a.p, oldBits, math.Float64bits(sum)) {
			return old, nil
		}
	}
}

func cellPtr[T any](mem []byte) (*T, error) {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if len(mem) < size {
		return nil, errors.New("atomic64: backing memory too small")
	}
	p := unsafe.Pointer(&mem[0])
	if uintptr(p)%uintptr(size) != 0 {
		return nil, errors.New("atomic64: backing memory not naturally aligned")
	}
	return (*T)(p), nil
}
