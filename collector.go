package mpmetrics

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"gosuda.org/mpmetrics/internal/arena"
	"gosuda.org/mpmetrics/internal/container"
	"gosuda.org/mpmetrics/internal/ipclock"
	"gosuda.org/mpmetrics/internal/layout"
)

// addSampleFunc is how a concrete metric kind reports its samples during
// the sampling protocol (spec.md §4.6), with suffix applied after the
// family name ("_total", "_sum", "_bucket", ...).
type addSampleFunc func(suffix string, value float64, labels map[string]string, ex *Exemplar)

// sampler is implemented by every concrete metric body (counterData,
// gaugeData, summaryData, histogramData, enumData). It takes the arena
// because some bodies (Counter/Histogram exemplars) hold an ObjectHeader
// that must be dereferenced through the arena to decode, and a data
// struct can never hold a *arena.Arena field itself: it is a byte-level
// overlay placed directly in shared memory, and a Go pointer written
// into shared bytes would be meaningless to any other process (or even
// this one, after a remap).
type sampler interface {
	sample(a *arena.Arena, add addSampleFunc) error
}

// singleCollector wraps one non-labeled metric instance (spec.md §4.7's
// Collector, forwarding describe/collect to the wrapped metric).
type singleCollector[T sampler] struct {
	a    *arena.Arena
	box  *layout.Box[T]
	lock *ipclock.Lock
	name string
	help string
	typ  ValueType
}

// newSingleCollector resolves name against r's cross-process metric
// directory: the first process to construct a metric under this name
// allocates its body and runs init, and every other process sharing r's
// arena (including this one, if constructed twice by mistake — Register
// still catches that) reopens the identical bytes untouched.
func newSingleCollector[T sampler](r *Registry, name, help string, typ ValueType, init func(*T)) (*singleCollector[T], error) {
	a := r.Arena()
	box, fresh, err := openOrCreateNamed[T](r, name, func(a *arena.Arena) (*layout.Box[T], error) {
		return layout.NewBox[T](a)
	})
	if err != nil {
		return nil, err
	}
	if fresh && init != nil {
		init(box.Get())
	}
	return &singleCollector[T]{a: a, box: box, lock: lockForBox(a, box), name: name, help: help, typ: typ}, nil
}

// lockForBox returns the interprocess lock guarding a fixed-shape metric
// body's first field. Every concrete body (counterData, gaugeData,
// summaryData, histogramData, enumData) places its lock cell as field
// zero by convention, so the lock's fcntl byte-range offset is simply
// the block's absolute file offset.
func lockForBox[T any](a *arena.Arena, box *layout.Box[T]) *ipclock.Lock {
	return ipclock.New(a.File(), box.Block().Start())
}

func (c *singleCollector[T]) Describe() MetricFamily {
	return MetricFamily{Name: c.name, Help: c.help, Type: c.typ}
}

// Collect acquires the metric's interprocess lock before sampling.
// Counter/Gauge don't strictly need it, but Summary/Histogram's
// hot/cold swap protocol is only safe against one sampler at a time
// across the whole process group, so every kind pays the (cold-path)
// cost uniformly rather than special-casing it per kind.
func (c *singleCollector[T]) Collect() (MetricFamily, error) {
	unlock := c.lock.Guard()
	defer unlock()

	fam := MetricFamily{Name: c.name, Help: c.help, Type: c.typ}
	err := c.box.Get().sample(c.a, func(suffix string, value float64, labels map[string]string, ex *Exemplar) {
		fam.Samples = append(fam.Samples, Sample{Name: c.name + suffix, Labels: labels, Value: value, Exemplar: ex})
	})
	return fam, err
}

// arenaRef is the 16-byte (start, size) identifier stored as a labeled
// collector's Dict value, letting any process reconstruct the same
// child metric's Box via layout.OpenBox.
type arenaRef struct {
	Start, Size uint64
}

func encodeArenaRef(r arenaRef) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], r.Start)
	binary.LittleEndian.PutUint64(buf[8:16], r.Size)
	return buf
}

func decodeArenaRef(b []byte) (arenaRef, error) {
	if len(b) != 16 {
		return arenaRef{}, fmt.Errorf("mpmetrics: corrupt arena ref (len=%d)", len(b))
	}
	return arenaRef{
		Start: binary.LittleEndian.Uint64(b[0:8]),
		Size:  binary.LittleEndian.Uint64(b[8:16]),
	}, nil
}

// labeledCollectorShared is the arena-resident portion of a labeled
// collector: a lock anchor plus the Dict header mapping label tuples to
// child metric arena refs (spec.md §3.4, §4.7).
type labeledCollectorShared struct {
	lockCell uint64
	metrics  layout.ObjectHeader
}

// labeledCollector is the process-local half of spec.md §4.7's
// LabeledCollector: it owns the shared label map plus a process-local
// cache, and knows how to allocate and sample child metrics of type T.
type labeledCollector[T sampler] struct {
	a          *arena.Arena
	shared     *layout.Box[labeledCollectorShared]
	sharedLock *ipclock.Lock
	dict       *container.Dict[arenaRef]

	labelNames []string
	name, help string
	typ        ValueType
	newChild   func(a *arena.Arena) (*layout.Box[T], error)

	localMu sync.Mutex
	local   map[string]*layout.Box[T]
	// locks caches one ipclock.Lock per child key, so child handles and
	// Collect reuse it instead of calling ipclock.New on every use.
	// ipclock.New already returns the same *Lock for a given (file,
	// offset) within a process; holding it here also keeps that cached
	// Lock alive for as long as this collector is.
	locks map[string]*ipclock.Lock
}

// newLabeledCollector resolves name the same way newSingleCollector
// does, but for the labeledCollectorShared anchor: every process that
// constructs a *Vec under this name must land on the same shared label
// map, or WithLabelValues in one process would be invisible to Collect
// in another.
func newLabeledCollector[T sampler](r *Registry, name, help string, typ ValueType, labelNames []string, newChild func(a *arena.Arena) (*layout.Box[T], error)) (*labeledCollector[T], error) {
	a := r.Arena()
	sharedBox, _, err := openOrCreateNamed[labeledCollectorShared](r, name, func(a *arena.Arena) (*layout.Box[labeledCollectorShared], error) {
		return layout.NewBox[labeledCollectorShared](a)
	})
	if err != nil {
		return nil, err
	}
	shared := sharedBox.Get()
	lockOffset := sharedBox.Block().Start() + int64(fieldOffsetLockCell)
	lc := &labeledCollector[T]{
		a:          a,
		shared:     sharedBox,
		sharedLock: ipclock.New(a.File(), lockOffset),
		labelNames: labelNames,
		name:       name,
		help:       help,
		typ:        typ,
		newChild:   newChild,
		local:      map[string]*layout.Box[T]{},
		locks:      map[string]*ipclock.Lock{},
	}
	lc.dict = container.NewDict[arenaRef](&shared.metrics, a, encodeArenaRef, decodeArenaRef)
	return lc, nil
}

// fieldOffsetLockCell is unsafe.Offsetof(labeledCollectorShared{}.lockCell),
// which is always 0 since it's the first field; named for readability at
// the one call site that needs an absolute file offset for fcntl.
const fieldOffsetLockCell = 0

func labelKey(values []string) string {
	return strings.Join(values, "\x00")
}

// resolveLabelValues implements spec.md §4.7's labels() arity rule for
// positional values (the positional-vs-keyword exclusivity spec.md
// describes is structural in Go: WithLabelValues and With are distinct
// methods, so "passing both" can't happen).
func (lc *labeledCollector[T]) resolveLabelValues(values []string) ([]string, error) {
	if len(values) != len(lc.labelNames) {
		return nil, argumentErrorf("expected %d label values, got %d", len(lc.labelNames), len(values))
	}
	return values, nil
}

func (lc *labeledCollector[T]) resolveLabelMap(labels map[string]string) ([]string, error) {
	if len(labels) != len(lc.labelNames) {
		return nil, argumentErrorf("expected %d labels, got %d", len(lc.labelNames), len(labels))
	}
	values := make([]string, len(lc.labelNames))
	for i, n := range lc.labelNames {
		v, ok := labels[n]
		if !ok {
			return nil, argumentErrorf("missing label %q", n)
		}
		values[i] = v
	}
	return values, nil
}

// lockFor returns the cached interprocess lock for an already-resolved
// child key. child must have been called with this key first.
func (lc *labeledCollector[T]) lockFor(key string) *ipclock.Lock {
	lc.localMu.Lock()
	defer lc.localMu.Unlock()
	return lc.locks[key]
}

// child resolves a label tuple to its Box[T], allocating a fresh child
// in the arena on a global miss (spec.md §4.7's labels() cold path).
func (lc *labeledCollector[T]) child(values []string) (*layout.Box[T], error) {
	key := labelKey(values)

	lc.localMu.Lock()
	box, ok := lc.local[key]
	lc.localMu.Unlock()
	if ok {
		return box, nil
	}

	unlock := lc.sharedLock.Guard()
	defer unlock()

	ref, found, err := lc.dict.Get(key)
	if err != nil {
		return nil, err
	}

	if found {
		block := arena.BlockFrom(lc.a, int64(ref.Start), int64(ref.Size))
		box, err = layout.OpenBox[T](block)
		if err != nil {
			return nil, err
		}
	} else {
		box, err = lc.newChild(lc.a)
		if err != nil {
			return nil, err
		}
		if err := lc.dict.Set(key, arenaRef{Start: uint64(box.Block().Start()), Size: uint64(box.Block().Size())}); err != nil {
			return nil, err
		}
	}

	lc.localMu.Lock()
	lc.local[key] = box
	lc.locks[key] = lockForBox(lc.a, box)
	lc.localMu.Unlock()
	return box, nil
}

func (lc *labeledCollector[T]) Describe() MetricFamily {
	return MetricFamily{Name: lc.name, Help: lc.help, Type: lc.typ}
}

// snapshotChildren returns every child this process knows about, first
// mirroring any shared-map keys it hasn't seen yet into the local
// cache (metrics.py's LabeledCollector.collect union-of-local-and-shared
// iteration).
func (lc *labeledCollector[T]) snapshotChildren() (map[string]*layout.Box[T], error) {
	unlock := lc.sharedLock.Guard()
	all, err := lc.dict.Snapshot()
	unlock()
	if err != nil {
		return nil, err
	}

	lc.localMu.Lock()
	defer lc.localMu.Unlock()
	for key, ref := range all {
		if _, ok := lc.local[key]; ok {
			continue
		}
		block := arena.BlockFrom(lc.a, int64(ref.Start), int64(ref.Size))
		box, err := layout.OpenBox[T](block)
		if err != nil {
			return nil, err
		}
		lc.local[key] = box
		lc.locks[key] = lockForBox(lc.a, box)
	}
	snapshot := make(map[string]*layout.Box[T], len(lc.local))
	for k, v := range lc.local {
		snapshot[k] = v
	}
	return snapshot, nil
}

// Collect mirrors the union-of-local-and-shared iteration metrics.py's
// LabeledCollector.collect performs.
func (lc *labeledCollector[T]) Collect() (MetricFamily, error) {
	fam := MetricFamily{Name: lc.name, Help: lc.help, Type: lc.typ}

	snapshot, err := lc.snapshotChildren()
	if err != nil {
		return fam, err
	}

	for key, box := range snapshot {
		values := strings.Split(key, "\x00")
		labels := make(map[string]string, len(lc.labelNames))
		for i, n := range lc.labelNames {
			labels[n] = values[i]
		}
		childUnlock := lc.lockFor(key).Guard()
		err := box.Get().sample(lc.a, func(suffix string, value float64, extra map[string]string, ex *Exemplar) {
			merged := mergeLabels(labels, extra)
			fam.Samples = append(fam.Samples, Sample{Name: lc.name + suffix, Labels: merged, Value: value, Exemplar: ex})
		})
		childUnlock()
		if err != nil {
			return fam, err
		}
	}
	return fam, nil
}

func mergeLabels(base, extra map[string]string) map[string]string {
	if len(extra) == 0 {
		out := make(map[string]string, len(base))
		for k, v := range base {
			out[k] = v
		}
		return out
	}
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
