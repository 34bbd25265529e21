package atomic64

import (
	"math"

	"gosuda.org/mpmetrics/internal/ipclock"
)

// LockingUint64 provides the same contract as Uint64 via an interprocess
// lock instead of native atomics, for cells the allocator could not give
// natural alignment (spec.md §4.3: "where the platform lacks native
// 64-bit atomics, the same contract must be provided via a per-value
// internal interprocess lock; callers cannot distinguish the two
// implementations").
type LockingUint64 struct {
	lock *ipclock.Lock
	p    *uint64
}

// NewLockingUint64 overlays mem as a lock-guarded Uint64.
func NewLockingUint64(lock *ipclock.Lock, mem []byte) (*LockingUint64, error) {
	p, err := cellPtr[uint64](mem)
	if err != nil {
		return nil, err
	}
	return &LockingUint64{lock: lock, p: p}, nil
}

func (a *LockingUint64) Get() uint64 {
	defer a.lock.Guard()()
	return *a.p
}

func (a *LockingUint64) Set(v uint64) {
	defer a.lock.Guard()()
	*a.p = v
}

func (a *LockingUint64) Add(delta uint64, raiseOnOverflow bool) (uint64, error) {
	defer a.lock.Guard()()
	old := *a.p
	sum := old + delta
	if raiseOnOverflow && sum < old {
		return old, ErrOverflow
	}
	*a.p = sum
	return old, nil
}

// LockingDouble is the lock-guarded fallback for Double.
type LockingDouble struct {
	lock *ipclock.Lock
	p    *float64
}

// NewLockingDouble overlays mem as a lock-guarded Double.
func NewLockingDouble(lock *ipclock.Lock, mem []byte) (*LockingDouble, error) {
	p, err := cellPtr[float64](mem)
	if err != nil {
		return nil, err
	}
	return &LockingDouble{lock: lock, p: p}, nil
}

func (a *LockingDouble) Get() float64 {
	defer a.lock.Guard()()
	return *a.p
}

func (a *LockingDouble) Set(v float64) {
	defer a.lock.Guard()()
	*a.p = v
}

func (a *LockingDouble) Add(delta float64, raiseOnOverflow bool) (float64, error) {
	defer a.lock.Guard()()
	old := *a.p
	sum := old + delta
	if raiseOnOverflow && math.IsNaN(sum) && !math.IsNaN(old) && !math.IsNaN(delta) {
		return old, ErrOverflow
	}
	*a.p = sum
	return old, nil
}
