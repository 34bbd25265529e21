// Package ipclock implements the interprocess lock contract spec.md §4.2
// treats as an external black box: mutual exclusion across processes on
// a byte range of a shared file, robust against holder crash.
//
// Rather than a pthread robust mutex living inside the shared region (the
// source's _mpmetrics.Lock, implemented in C and requiring cgo to port
// faithfully), this implementation uses POSIX fcntl byte-range record
// locks keyed by (file, offset). The kernel releases a process's record
// locks when every fd referencing the open file closes, including on
// crash or SIGKILL, which satisfies spec.md §9's open question about
// robustness without a robust-mutex primitive. A per-Lock sync.Mutex
// additionally serializes same-process callers, since POSIX record locks
// are associated with the (process, inode) pair and would otherwise let
// a second goroutine in the same process "acquire" a lock its own
// process already holds. New (cache.go) makes this work by handing out
// the same *Lock to every same-process caller of a given cell, instead
// of a fresh one whose procMu nobody else shares.
package ipclock

import (
	"errors"
	"os"
	"sync"
	"time"
)

// ErrNotHeld is returned by Release when the lock isn't held by this Lock
// instance, spec.md §7's "permission denied" lock error.
var ErrNotHeld = errors.New("ipclock: release of a lock not held")

// Lock guards a shared memory cell at a fixed byte offset in file.
type Lock struct {
	file   *os.File
	offset int64

	procMu sync.Mutex
	held   bool
}

// Acquire blocks (if block is true) or polls up to timeout (if block is
// false and timeout > 0) waiting for the lock. A zero timeout with
// block=false makes Acquire a non-blocking try-lock. Returns false,nil on
// a timeout/try that didn't succeed.
func (l *Lock) Acquire(block bool, timeout time.Duration) (bool, error) {
	osTimeout := timeout
	if block {
		l.procMu.Lock()
	} else {
		deadline := time.Now().Add(timeout)
		for !l.procMu.TryLock() {
			if timeout <= 0 || time.Now().After(deadline) {
				return false, nil
			}
			time.Sleep(time.Millisecond)
		}
		if timeout > 0 {
			osTimeout = time.Until(deadline)
		}
	}

	ok, err := l.acquireOS(block, osTimeout)
	if err != nil {
		l.procMu.Unlock()
		return false, err
	}
	if !ok {
		l.procMu.Unlock()
		return false, nil
	}
	l.held = true
	return true, nil
}

// Release releases a previously-acquired lock.
func (l *Lock) Release() error {
	if !l.held {
		return ErrNotHeld
	}
	err := l.releaseOS()
	l.held = false
	l.procMu.Unlock()
	return err
}

// Guard acquires the lock (blocking) and returns a func that releases it,
// for use as `defer lock.Guard()()`.
func (l *Lock) Guard() func() {
	if _, err := l.Acquire(true, 0); err != nil {
		// The interprocess lock is documented as a black box that may
		// surface platform errors (spec.md §7); a blocking acquire that
		// fails outright indicates a broken fd, which callers cannot
		// meaningfully recover from mid-critical-section.
		panic(err)
	}
	return func() {
		_ = l.Release()
	}
}
