package ipclock

import (
	"os"
	"sync"
	"weak"

	"golang.org/x/sys/unix"
)

// cellIdentity names one (file, offset) lock cell by inode rather than by
// *os.File, so two different file descriptors referring to the same
// underlying arena (one kept open by path, one adopted from an inherited
// fd) still resolve to the same Lock.
type cellIdentity struct {
	dev, ino uint64
	offset   int64
}

// processLockCache deduplicates Locks per cell within one process. POSIX
// fcntl record locks are associated with the (process, inode) pair, not
// with the file descriptor or Lock value used to request them: a second
// Lock instance guarding the same cell in the same process would succeed
// in acquiring the OS lock immediately, since the kernel considers the
// process to already hold it, defeating mutual exclusion between two
// goroutines that each went through their own Lock. Routing every New
// call for a given cell through this cache, the same way
// internal/arena/cache.go dedupes Arena mappings by inode, makes the
// per-Lock procMu the thing that actually serializes same-process
// callers, with the OS lock left to do its job across processes.
var (
	processLockCacheMu sync.Mutex
	processLockCache   = map[cellIdentity]weak.Pointer[Lock]{}
)

func cellIdentityOf(f *os.File, offset int64) (cellIdentity, bool) {
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return cellIdentity{}, false
	}
	return cellIdentity{dev: uint64(st.Dev), ino: st.Ino, offset: offset}, true
}

// New returns a Lock guarding the 8-byte cell at offset in file. Distinct
// offsets in the same file are independent locks; this is what lets a
// single arena file host many unrelated locks (the arena's own
// shared_base lock, each metric's sample lock, each labeled collector's
// shared-map lock) without them contending with each other. Repeated
// calls for the same (file identity, offset) within one process return
// the same *Lock, so concurrent same-process callers serialize on its
// procMu instead of racing past it.
func New(file *os.File, offset int64) *Lock {
	id, ok := cellIdentityOf(file, offset)
	if !ok {
		return &Lock{file: file, offset: offset}
	}

	processLockCacheMu.Lock()
	defer processLockCacheMu.Unlock()

	if wp, found := processLockCache[id]; found {
		if l := wp.Value(); l != nil {
			return l
		}
	}
	l := &Lock{file: file, offset: offset}
	processLockCache[id] = weak.Make(l)
	return l
}
