// Package arena implements a file-backed shared-memory arena: a
// monotonically-growing byte region that hands out process-stable,
// aligned byte ranges (Blocks) whose identity survives a fork or an
// exec-with-inherited-fd, even though the mapped address differs per
// process.
//
// The allocation scheme follows the teacher's marena package (bump
// pointer, atomics-guarded cursor) generalized to a file-backed region
// shared across processes instead of a single in-process byte slice.
package arena

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"gosuda.org/mpmetrics/internal/ipclock"
)

var (
	// ErrInvalidSize is returned when malloc is asked for a non-positive size.
	ErrInvalidSize = errors.New("arena: size must be strictly positive")
	// ErrInvalidAlignment is returned when the requested alignment isn't a power of two.
	ErrInvalidAlignment = errors.New("arena: alignment must be a power of two")
	// ErrInvalidMapSize is returned when map_size isn't a page-multiple power of two.
	ErrInvalidMapSize = errors.New("arena: map_size must be a power of two multiple of the allocation granularity")
)

// headerLockLen is the byte range fcntl-locks to guard shared_base.
const headerLockLen = 8

// headerSize is sizeof(lock anchor) + sizeof(shared_base), matching
// spec.md §3.1: "the first sizeof(InterprocessLock)+sizeof(usize) bytes
// of the file hold the arena's own metadata".
const headerSize = headerLockLen + 8

// Arena owns a growable file-backed shared region.
type Arena struct {
	file    *os.File
	mapSize int64

	baseLock *ipclock.Lock
	basePtr  *uint64 // view of shared_base, valid only while holding baseLock

	mapMu sync.Mutex
	maps  [][]byte // sparse, indexed by page number; nil until faulted in

	id identity
}

// identity is used to dedupe Arenas mapping the same backing file within
// one process (the Go analogue of heap.py's WeakValueDictionary cache,
// see cache.go).
type identity struct {
	dev, ino uint64
}

// Options configures arena creation/adoption.
type Options struct {
	// MapSize is the OS-request granularity; must be a power of two and a
	// multiple of the platform allocation granularity. Zero selects the
	// OS page size.
	MapSize int64
	// KeepPath, when creating a new arena, skips unlinking the backing
	// file so a second process can rendezvous with it by path instead of
	// by inherited file descriptor. Default behavior unlinks immediately
	// after creation, per spec.md §3.1 lifecycle.
	KeepPath bool
}

// New creates a brand-new arena backed by an anonymous temp file.
func New(opts Options) (*Arena, error) {
	mapSize := opts.MapSize
	if mapSize == 0 {
		mapSize = int64(pageSize())
	}
	if err := checkMapSize(mapSize); err != nil {
		return nil, err
	}

	f, err := os.CreateTemp("", "mpmetrics-arena-*")
	if err != nil {
		return nil, fmt.Errorf("arena: create backing file: %w", err)
	}
	if err := f.Truncate(mapSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("arena: truncate backing file: %w", err)
	}

	a := &Arena{file: f, mapSize: mapSize}
	if err := a.mapHeader(); err != nil {
		f.Close()
		return nil, err
	}
	a.baseLock = ipclock.New(f, 0)
	*a.basePtr = headerSize

	if id, ok := statIdentity(f); ok {
		a.id = id
		cacheStore(id, a)
	}

	if !opts.KeepPath {
		_ = os.Remove(f.Name())
	}

	return a, nil
}

// Adopt wraps an inherited file descriptor (e.g. one passed to a child
// process via exec.Cmd.ExtraFiles) as an Arena. This is the receiving
// side of spec.md §3.2's "the file descriptor is the only thing that
// must be materialized on the receiver".
func Adopt(fd uintptr, mapSize int64) (*Arena, error) {
	if mapSize == 0 {
		mapSize = int64(pageSize())
	}
	if err := checkMapSize(mapSize); err != nil {
		return nil, err
	}

	f := os.NewFile(fd, "mpmetrics-arena")
	if f == nil {
		return nil, fmt.Errorf("arena: invalid fd %d", fd)
	}

	if id, ok := statIdentity(f); ok {
		if cached, ok := cacheLoad(id); ok {
			f.Close()
			return cached, nil
		}
	}

	a := &Arena{file: f, mapSize: mapSize}
	if err := a.mapHeader(); err != nil {
		f.Close()
		return nil, err
	}
	a.baseLock = ipclock.New(f, 0)

	if id, ok := statIdentity(f); ok {
		a.id = id
		cacheStore(id, a)
	}
	return a, nil
}

// Open re-opens an arena by path, used when the creator kept the path
// around (Options.KeepPath) instead of passing an fd across exec.
func Open(path string, mapSize int64) (*Arena, error) {
	if mapSize == 0 {
		mapSize = int64(pageSize())
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("arena: open %s: %w", path, err)
	}

	if id, ok := statIdentity(f); ok {
		if cached, ok := cacheLoad(id); ok {
			f.Close()
			return cached, nil
		}
	}

	a := &Arena{file: f, mapSize: mapSize}
	if err := a.mapHeader(); err != nil {
		f.Close()
		return nil, err
	}
	a.baseLock = ipclock.New(f, 0)

	if id, ok := statIdentity(f); ok {
		a.id = id
		cacheStore(id, a)
	}
	return a, nil
}

func (a *Arena) mapHeader() error {
	mem, err := a.mapWindow(0, 1)
	if err != nil {
		return err
	}
	a.mapMu.Lock()
	a.maps = [][]byte{mem}
	a.mapMu.Unlock()
	a.basePtr = bytesToUint64(mem[headerLockLen : headerLockLen+8])
	return nil
}

// File returns the backing *os.File (used by ipclock for fcntl byte-range
// locking and by Fork helpers to pass via exec.Cmd.ExtraFiles).
func (a *Arena) File() *os.File { return a.file }

// MapSize returns the configured OS-request granularity.
func (a *Arena) MapSize() int64 { return a.mapSize }

// Close releases this process's mappings. It does not affect other
// processes sharing the same backing file.
func (a *Arena) Close() error {
	a.mapMu.Lock()
	defer a.mapMu.Unlock()
	var firstErr error
	for i, m := range a.maps {
		if m == nil {
			continue
		}
		if err := unmap(m); err != nil && firstErr == nil {
			firstErr = err
		}
		a.maps[i] = nil
	}
	if err := a.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func checkMapSize(mapSize int64) error {
	if mapSize <= 0 || mapSize&(mapSize-1) != 0 {
		return ErrInvalidMapSize
	}
	if mapSize%int64(allocationGranularity()) != 0 {
		return ErrInvalidMapSize
	}
	return nil
}

func alignUp(x, a int64) int64 {
	return (x + a - 1) &^ (a - 1)
}
