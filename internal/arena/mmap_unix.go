//go:build unix

package arena

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// mapWindow mmaps span*mapSize bytes of the backing file starting at page
// firstPage, mirroring heap.py's Block.deref mmap call.
func (a *Arena) mapWindow(firstPage, span int64) ([]byte, error) {
	length := int(span * a.mapSize)
	offset := firstPage * a.mapSize
	mem, err := unix.Mmap(int(a.file.Fd()), offset, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("arena: mmap offset=%d length=%d: %w", offset, length, err)
	}
	return mem, nil
}

func unmap(mem []byte) error {
	return unix.Munmap(mem)
}

func pageSize() int {
	return unix.Getpagesize()
}

func allocationGranularity() int {
	return unix.Getpagesize()
}
