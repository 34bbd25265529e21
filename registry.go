package mpmetrics

import (
	"sync"
	"unsafe"

	"go.uber.org/zap"

	"gosuda.org/mpmetrics/internal/arena"
	"gosuda.org/mpmetrics/internal/container"
	"gosuda.org/mpmetrics/internal/ipclock"
	"gosuda.org/mpmetrics/internal/layout"
)

// registryDirectory is the fixed, always-first-in-the-arena anchor a
// Registry uses to let any process that adopts the same backing file
// find an existing metric by name instead of allocating a duplicate
// (spec.md §3.2). It sits at the deterministic offset
// arena.ReserveFixed computes, so a freshly exec'd child that only
// inherited the arena's fd can locate it without any side channel.
type registryDirectory struct {
	lockCell uint64
	entries  layout.ObjectHeader
}

var registryDirectorySize = int64(unsafe.Sizeof(registryDirectory{}))

// Registry collects a set of Collectors and aggregates their samples,
// the way metrics.py's CollectorFactory registers into a
// prometheus_client registry.Registry.
type Registry struct {
	arena *arena.Arena

	dirLock *ipclock.Lock
	dir     *container.Dict[arenaRef]

	mu         sync.Mutex
	collectors []Collector
	names      map[string]struct{}

	logger *zap.Logger
}

// NewRegistry creates a registry backed by a. Metrics constructed with
// this registry (via the Registry field of their Opts) share its arena, so they
// all live in the same backing file and can be handed to a child process
// with a single fd. If a is an arena a process adopted from an existing
// one (arena.Adopt/arena.Open), NewRegistry reattaches to whatever
// metric directory a previous process already placed there rather than
// starting a second, disconnected one.
func NewRegistry(a *arena.Arena) *Registry {
	block, fresh, err := a.ReserveFixed(registryDirectorySize, arena.CacheLineSize())
	if err != nil {
		panic(err)
	}
	dirBox, err := layout.OpenOrInitBox[registryDirectory](block, fresh)
	if err != nil {
		panic(err)
	}
	dir := dirBox.Get()
	return &Registry{
		arena:   a,
		dirLock: ipclock.New(a.File(), block.Start()),
		dir:     container.NewDict[arenaRef](&dir.entries, a, encodeArenaRef, decodeArenaRef),
		names:   map[string]struct{}{},
		logger:  zap.NewNop(),
	}
}

// openOrCreateNamed resolves name to an existing arena Box if some
// process (this one or another sharing the same arena) already placed
// one under that name, or allocates a fresh one via create and records
// it. fresh reports which branch was taken, so callers can run
// one-time initialization (timestamps, bucket layout) only on genuine
// creation.
func openOrCreateNamed[T any](r *Registry, name string, create func(a *arena.Arena) (*layout.Box[T], error)) (box *layout.Box[T], fresh bool, err error) {
	unlock := r.dirLock.Guard()
	defer unlock()

	ref, found, err := r.dir.Get(name)
	if err != nil {
		return nil, false, err
	}
	if found {
		block := arena.BlockFrom(r.arena, int64(ref.Start), int64(ref.Size))
		box, err := layout.OpenBox[T](block)
		return box, false, err
	}

	box, err = create(r.arena)
	if err != nil {
		return nil, false, err
	}
	if err := r.dir.Set(name, arenaRef{Start: uint64(box.Block().Start()), Size: uint64(box.Block().Size())}); err != nil {
		return nil, false, err
	}
	return box, true, nil
}

// SetLogger installs a structured logger used to report per-collector
// sampling failures without aborting the rest of Gather (spec.md §7:
// "an error in one metric's sampling must not abort collection of the
// others").
func (r *Registry) SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	r.mu.Lock()
	r.logger = l
	r.mu.Unlock()
}

// Register adds a Collector to the registry, rejecting a name collision
// the way prometheus_client's registry.register does. This only guards
// against two collectors in the *same process* claiming one name; across
// processes, openOrCreateNamed's arena-resident directory is what makes
// the same name resolve to the same underlying storage.
func (r *Registry) Register(c Collector) error {
	fam := c.Describe()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.names[fam.Name]; dup {
		return configErrorf("duplicate metric name %q", fam.Name)
	}
	r.names[fam.Name] = struct{}{}
	r.collectors = append(r.collectors, c)
	return nil
}

// Gather runs every registered collector's sampling protocol and
// aggregates the results. A single collector's error is logged and
// skipped rather than propagated, so one broken metric cannot blind a
// scraper to the rest of the process's state.
func (r *Registry) Gather() []MetricFamily {
	r.mu.Lock()
	collectors := make([]Collector, len(r.collectors))
	copy(collectors, r.collectors)
	logger := r.logger
	r.mu.Unlock()

	out := make([]MetricFamily, 0, len(collectors))
	for _, c := range collectors {
		fam, err := c.Collect()
		if err != nil {
			logger.Error("mpmetrics: collector sample failed", zap.Error(err))
			continue
		}
		out = append(out, fam)
	}
	return out
}

// Arena returns the shared-memory arena backing this registry's metrics.
func (r *Registry) Arena() *arena.Arena { return r.arena }

var (
	defaultRegistryOnce sync.Once
	defaultRegistry     *Registry
)

// DefaultRegistry returns the process-wide default registry, lazily
// creating its arena on first use — the Go analogue of
// metrics.py's CollectorFactory.heap classproperty.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		a, err := arena.New(arena.Options{})
		if err != nil {
			panic(err)
		}
		defaultRegistry = NewRegistry(a)
	})
	return defaultRegistry
}
