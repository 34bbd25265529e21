package arena

import (
	"os"
	"sync"
	"weak"

	"golang.org/x/sys/unix"
)

// statIdentity returns the (dev, ino) pair identifying the backing file,
// stable across unlink (as long as some fd keeps the inode alive) and
// across the path-vs-fd handoff ambiguity that spec.md §3.1's "backing
// file is unlinked but kept open" creates.
func statIdentity(f *os.File) (identity, bool) {
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return identity{}, false
	}
	return identity{dev: uint64(st.Dev), ino: st.Ino}, true
}

// processArenaCache deduplicates Arena mappings per backing file within
// one process, the Go analogue of heap.py's
// "_heaps = WeakValueDictionary()" (Python's heaps are indexed by
// filename; ours by inode, which additionally tolerates opening the same
// arena both by inherited fd and by path within one process). We use the
// stdlib "weak" package instead of a regular map so a process that stops
// using an Arena doesn't pin it in this cache forever.
var (
	processArenaCacheMu sync.Mutex
	processArenaCache   = map[identity]weak.Pointer[Arena]{}
)

func cacheStore(id identity, a *Arena) {
	processArenaCacheMu.Lock()
	defer processArenaCacheMu.Unlock()
	processArenaCache[id] = weak.Make(a)
}

func cacheLoad(id identity) (*Arena, bool) {
	processArenaCacheMu.Lock()
	defer processArenaCacheMu.Unlock()
	wp, ok := processArenaCache[id]
	if !ok {
		return nil, false
	}
	a := wp.Value()
	if a == nil {
		delete(processArenaCache, id)
		return nil, false
	}
	return a, true
}
