package arena

import "github.com/klauspost/cpuid/v2"

// defaultCacheLineSize is the fallback used when the platform doesn't
// report an L1 cache line size. Mirrors heap.py's
// "os.sysconf(SC_LEVEL1_DCACHE_LINESIZE)" probe, whose except clause
// also falls back to 64.
const defaultCacheLineSize = 64

// CacheLineSize returns the detected L1 data cache line size, used as the
// default alignment for Box allocations (spec.md §3.3: "Box[T]...
// allocates T.size bytes from an arena at the caller's cache-line
// alignment").
func CacheLineSize() int64 {
	if line := cpuid.CPU.CacheLine; line > 0 {
		return int64(line)
	}
	return defaultCacheLineSize
}
