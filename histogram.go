package mpmetrics

import (
	"math"
	"runtime"
	"sort"
	"strconv"
	"sync/atomic"
	"unsafe"

	"gosuda.org/mpmetrics/internal/arena"
	"gosuda.org/mpmetrics/internal/ipclock"
	"gosuda.org/mpmetrics/internal/layout"
)

// DefBuckets are the default histogram buckets, matching
// prometheus/client_golang's DefBuckets.
var DefBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// HistogramOpts configures a Histogram or HistogramVec.
type HistogramOpts struct {
	Namespace string
	Subsystem string
	Name      string
	Help      string
	Unit      string
	Registry  *Registry
	// Buckets are the upper bounds of each bucket, in increasing order.
	// A final +Inf bucket is appended automatically if not already
	// present. Defaults to DefBuckets.
	Buckets []float64
}

func (o HistogramOpts) resolveBuckets() ([]float64, error) {
	bounds := o.Buckets
	if bounds == nil {
		bounds = DefBuckets
	}
	if len(bounds) == 0 {
		return nil, configErrorf("histogram must have at least one bucket")
	}
	for i := 1; i < len(bounds); i++ {
		if bounds[i] <= bounds[i-1] {
			return nil, configErrorf("histogram buckets must be strictly increasing")
		}
	}
	if bounds[len(bounds)-1] != math.Inf(1) {
		bounds = append(append([]float64{}, bounds...), math.Inf(1))
	}
	return bounds, nil
}

// histogramData is a Histogram's arena body. Its bucket count is only
// known at construction time, so unlike Counter/Gauge/Summary it cannot
// be a single fixed Go struct: the header below is fixed-size and lives
// in a Box, but the per-bucket thresholds, hot/cold bucket counts, and
// exemplar slots live in a second block whose internal layout is
// computed once at construction with a layout.Cursor (the one case
// layout.Cursor exists for; see internal/layout's package doc).
type histogramData struct {
	lockCell       uint64
	countAndHotIdx uint64
	created        float64
	numBuckets     uint64
	sumBits        [2]uint64
	count          [2]uint64
	payloadStart   uint64
	payloadSize    uint64
	thresholdsOff  uint64
	bucketsOff     [2]uint64
	exemplarsOff   uint64
}

func exemplarSlotSize() uintptr { return unsafe.Sizeof(exemplarSlot{}) }

func (d *histogramData) initBuckets(a *arena.Arena, upperBounds []float64) error {
	n := uintptr(len(upperBounds))

	var cur layout.Cursor
	thresholdsOff := cur.Place(n*8, 8)
	hotOff := cur.Place(n*8, 8)
	coldOff := cur.Place(n*8, 8)
	exemplarsOff := cur.Place(n*exemplarSlotSize(), 8)
	size := cur.Size()

	block, err := a.Malloc(int64(size), 8)
	if err != nil {
		return err
	}
	mem, err := block.Deref()
	if err != nil {
		return err
	}

	thresholds := layout.NewArrayView[float64](mem[thresholdsOff:thresholdsOff+n*8], len(upperBounds))
	for i, v := range upperBounds {
		*thresholds.At(i) = v
	}

	d.numBuckets = uint64(n)
	d.payloadStart = uint64(block.Start())
	d.payloadSize = uint64(block.Size())
	d.thresholdsOff = uint64(thresholdsOff)
	d.bucketsOff[0] = uint64(hotOff)
	d.bucketsOff[1] = uint64(coldOff)
	d.exemplarsOff = uint64(exemplarsOff)
	d.created = nowFloat()
	return nil
}

func (d *histogramData) payload(a *arena.Arena) ([]byte, error) {
	block := arena.BlockFrom(a, int64(d.payloadStart), int64(d.payloadSize))
	return block.Deref()
}

func (d *histogramData) thresholdsView(mem []byte) *layout.Array[float64] {
	n := int(d.numBuckets)
	start := d.thresholdsOff
	return layout.NewArrayView[float64](mem[start:start+uint64(n)*8], n)
}

func (d *histogramData) bucketsView(mem []byte, idx uint64) *layout.Array[uint64] {
	n := int(d.numBuckets)
	start := d.bucketsOff[idx]
	return layout.NewArrayView[uint64](mem[start:start+uint64(n)*8], n)
}

func (d *histogramData) exemplarsView(mem []byte) *layout.Array[exemplarSlot] {
	n := int(d.numBuckets)
	sz := uint64(exemplarSlotSize())
	start := d.exemplarsOff
	return layout.NewArrayView[exemplarSlot](mem[start:start+uint64(n)*sz], n)
}

func bisectLeft(thresholds *layout.Array[float64], amount float64) int {
	return sort.Search(thresholds.Len(), func(i int) bool {
		return *thresholds.At(i) >= amount
	})
}

// observe records amount in the appropriate bucket and updates the
// running sum/count for the current hot buffer. If exemplar is non-nil,
// it is stored on the matched bucket's exemplar slot under lock — the
// only part of Observe that isn't lock-free, so it is paid only by
// callers that actually use exemplars.
func (d *histogramData) observe(a *arena.Arena, lock *ipclock.Lock, amount float64, exemplar *Exemplar) error {
	mem, err := d.payload(a)
	if err != nil {
		return err
	}
	thresholds := d.thresholdsView(mem)
	bucket := bisectLeft(thresholds, amount)

	n := atomic.AddUint64(&d.countAndHotIdx, 1)
	hotIdx := n >> 63
	buckets := d.bucketsView(mem, hotIdx)
	if bucket < buckets.Len() {
		atomic.AddUint64((*uint64)(unsafe.Pointer(buckets.At(bucket))), 1)
	}
	for {
		old := atomic.LoadUint64(&d.sumBits[hotIdx])
		next := math.Float64bits(math.Float64frombits(old) + amount)
		if atomic.CompareAndSwapUint64(&d.sumBits[hotIdx], old, next) {
			break
		}
	}
	atomic.AddUint64(&d.count[hotIdx], 1)

	if exemplar != nil && bucket < thresholds.Len() {
		exemplars := d.exemplarsView(mem)
		unlock := lock.Guard()
		defer unlock()
		if err := exemplars.At(bucket).set(a, exemplar); err != nil {
			return err
		}
	}
	return nil
}

func formatLE(v float64) string {
	if math.IsInf(v, 1) {
		return "+Inf"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// sample runs the same swap-quiesce-merge protocol as Summary, applied
// per bucket as well as to sum/count, then emits cumulative bucket
// samples the way OpenMetrics histograms require (each _bucket sample
// counts everything at or below its threshold, not just its own slice).
func (d *histogramData) sample(a *arena.Arena, add addSampleFunc) error {
	mem, err := d.payload(a)
	if err != nil {
		return err
	}
	thresholds := d.thresholdsView(mem)
	nb := thresholds.Len()

	n := atomic.AddUint64(&d.countAndHotIdx, 1<<63)
	count := n & ((1 << 63) - 1)
	hotIdx := n >> 63
	coldIdx := hotIdx ^ 1

	for count != atomic.LoadUint64(&d.count[coldIdx]) {
		runtime.Gosched()
	}

	hotBuckets := d.bucketsView(mem, hotIdx)
	coldBuckets := d.bucketsView(mem, coldIdx)
	for i := 0; i < nb; i++ {
		c := atomic.LoadUint64((*uint64)(unsafe.Pointer(coldBuckets.At(i))))
		if c != 0 {
			atomic.AddUint64((*uint64)(unsafe.Pointer(hotBuckets.At(i))), c)
			atomic.StoreUint64((*uint64)(unsafe.Pointer(coldBuckets.At(i))), 0)
		}
	}

	coldSum := math.Float64frombits(atomic.LoadUint64(&d.sumBits[coldIdx]))
	coldCount := atomic.LoadUint64(&d.count[coldIdx])
	for {
		old := atomic.LoadUint64(&d.sumBits[hotIdx])
		next := math.Float64bits(math.Float64frombits(old) + coldSum)
		if atomic.CompareAndSwapUint64(&d.sumBits[hotIdx], old, next) {
			break
		}
	}
	atomic.AddUint64(&d.count[hotIdx], coldCount)
	atomic.StoreUint64(&d.sumBits[coldIdx], 0)
	atomic.StoreUint64(&d.count[coldIdx], 0)

	exemplars := d.exemplarsView(mem)
	var cumulative uint64
	for i := 0; i < nb; i++ {
		cumulative += atomic.LoadUint64((*uint64)(unsafe.Pointer(hotBuckets.At(i))))
		le := *thresholds.At(i)
		ex, err := exemplars.At(i).get(a)
		if err != nil {
			return err
		}
		add("_bucket", float64(cumulative), map[string]string{"le": formatLE(le)}, ex)
	}
	add("_sum", math.Float64frombits(atomic.LoadUint64(&d.sumBits[hotIdx])), nil, nil)
	add("_count", float64(atomic.LoadUint64(&d.count[hotIdx])), nil, nil)
	add("_created", d.created, nil, nil)
	return nil
}

// Histogram samples observations into cumulative buckets (spec.md §4).
type Histogram struct {
	*singleCollector[histogramData]
}

// NewHistogram constructs a standalone (unlabeled) Histogram.
func NewHistogram(opts HistogramOpts) (*Histogram, error) {
	name, err := buildFQName(opts.Namespace, opts.Subsystem, opts.Name, opts.Unit, false)
	if err != nil {
		return nil, err
	}
	bounds, err := opts.resolveBuckets()
	if err != nil {
		return nil, err
	}
	reg := resolveRegistry(opts.Registry)
	a := reg.Arena()
	var initErr error
	sc, err := newSingleCollector[histogramData](reg, name, opts.Help, HistogramValue, func(d *histogramData) {
		initErr = d.initBuckets(a, bounds)
	})
	if err != nil {
		return nil, err
	}
	if initErr != nil {
		return nil, initErr
	}
	h := &Histogram{singleCollector: sc}
	if err := reg.Register(h); err != nil {
		return nil, err
	}
	return h, nil
}

// Observe records a value, with an optional exemplar (spec.md §4.6).
func (h *Histogram) Observe(amount float64, exemplar *Exemplar) error {
	return h.box.Get().observe(h.a, h.lock, amount, exemplar)
}

// HistogramVec is a family of Histograms distinguished by a fixed label
// set.
type HistogramVec struct {
	lc *labeledCollector[histogramData]
}

// NewHistogramVec constructs a labeled Histogram family.
func NewHistogramVec(opts HistogramOpts, labelNames []string) (*HistogramVec, error) {
	name, err := buildFQName(opts.Namespace, opts.Subsystem, opts.Name, opts.Unit, false)
	if err != nil {
		return nil, err
	}
	if err := validateLabelNames(labelNames, []string{"le"}); err != nil {
		return nil, err
	}
	bounds, err := opts.resolveBuckets()
	if err != nil {
		return nil, err
	}
	reg := resolveRegistry(opts.Registry)
	lc, err := newLabeledCollector[histogramData](reg, name, opts.Help, HistogramValue, labelNames, func(a *arena.Arena) (*layout.Box[histogramData], error) {
		box, err := layout.NewBox[histogramData](a)
		if err != nil {
			return nil, err
		}
		if err := box.Get().initBuckets(a, bounds); err != nil {
			return nil, err
		}
		return box, nil
	})
	if err != nil {
		return nil, err
	}
	hv := &HistogramVec{lc: lc}
	if err := reg.Register(hv); err != nil {
		return nil, err
	}
	return hv, nil
}

func (hv *HistogramVec) Describe() MetricFamily         { return hv.lc.Describe() }
func (hv *HistogramVec) Collect() (MetricFamily, error) { return hv.lc.Collect() }

// WithLabelValues resolves the child Histogram for the given positional
// label values.
func (hv *HistogramVec) WithLabelValues(values ...string) (*Histogram, error) {
	resolved, err := hv.lc.resolveLabelValues(values)
	if err != nil {
		return nil, err
	}
	return hv.child(resolved)
}

// With resolves the child Histogram for the given label map.
func (hv *HistogramVec) With(labels map[string]string) (*Histogram, error) {
	resolved, err := hv.lc.resolveLabelMap(labels)
	if err != nil {
		return nil, err
	}
	return hv.child(resolved)
}

func (hv *HistogramVec) child(values []string) (*Histogram, error) {
	box, err := hv.lc.child(values)
	if err != nil {
		return nil, err
	}
	key := labelKey(values)
	return &Histogram{singleCollector: &singleCollector[histogramData]{
		a:    hv.lc.a,
		box:  box,
		lock: hv.lc.lockFor(key),
		name: hv.lc.name,
		help: hv.lc.help,
		typ:  HistogramValue,
	}}, nil
}
