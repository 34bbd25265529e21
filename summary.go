package mpmetrics

import (
	"math"
	"runtime"
	"sync/atomic"

	"gosuda.org/mpmetrics/internal/arena"
	"gosuda.org/mpmetrics/internal/layout"
)

// SummaryOpts configures a Summary or SummaryVec. A Summary reports
// _sum, _count and _created only; it computes no quantiles.
type SummaryOpts struct {
	Namespace string
	Subsystem string
	Name      string
	Help      string
	Unit      string
	Registry  *Registry
}

// summarySlot is one half of the hot/cold pair: an observation count and
// a running sum, updated independently so a reader can tell when a
// buffer has quiesced (count stops changing).
type summarySlot struct {
	count   uint64
	sumBits uint64
}

// summaryData implements the same lock-free hot/cold swap protocol
// prometheus/client_golang's histogram.go uses for its Write path: the
// top bit of countAndHotIdx selects which of the two summarySlots is
// currently receiving writes, and the remaining 63 bits count total
// observations. A sampler flips the top bit, waits for the
// now-cold buffer's count to catch up to the count it observed at flip
// time (proving every in-flight Observe targeting that buffer has
// finished), merges the cold buffer into the new hot buffer, and zeroes
// the cold buffer. Because the merge target survives every swap, sum
// and count remain lifetime totals, the way OpenMetrics summaries
// require.
type summaryData struct {
	lockCell       uint64
	countAndHotIdx uint64
	created        float64
	data           [2]summarySlot
}

func (d *summaryData) init() {
	d.created = nowFloat()
}

func (d *summaryData) observe(amount float64) {
	n := atomic.AddUint64(&d.countAndHotIdx, 1)
	hot := &d.data[n>>63]
	for {
		old := atomic.LoadUint64(&hot.sumBits)
		next := math.Float64bits(math.Float64frombits(old) + amount)
		if atomic.CompareAndSwapUint64(&hot.sumBits, old, next) {
			break
		}
	}
	atomic.AddUint64(&hot.count, 1)
}

// sample runs the swap-quiesce-merge protocol and reports the resulting
// lifetime sum/count. Callers must hold the metric's interprocess lock
// (collector.go's singleCollector/labeledCollector Collect methods do
// this), since two concurrent swaps would race on which buffer is hot.
func (d *summaryData) sample(a *arena.Arena, add addSampleFunc) error {
	n := atomic.AddUint64(&d.countAndHotIdx, 1<<63)
	count := n & ((1 << 63) - 1)
	hot := &d.data[n>>63]
	cold := &d.data[(n>>63)^1]

	for count != atomic.LoadUint64(&cold.count) {
		runtime.Gosched()
	}

	coldSum := math.Float64frombits(atomic.LoadUint64(&cold.sumBits))
	coldCount := atomic.LoadUint64(&cold.count)

	for {
		old := atomic.LoadUint64(&hot.sumBits)
		next := math.Float64bits(math.Float64frombits(old) + coldSum)
		if atomic.CompareAndSwapUint64(&hot.sumBits, old, next) {
			break
		}
	}
	atomic.AddUint64(&hot.count, coldCount)
	atomic.StoreUint64(&cold.sumBits, 0)
	atomic.StoreUint64(&cold.count, 0)

	add("_sum", math.Float64frombits(atomic.LoadUint64(&hot.sumBits)), nil, nil)
	add("_count", float64(atomic.LoadUint64(&hot.count)), nil, nil)
	add("_created", d.created, nil, nil)
	return nil
}

// Summary tracks the count and sum of observed values (spec.md §4).
type Summary struct {
	*singleCollector[summaryData]
}

// NewSummary constructs a standalone (unlabeled) Summary.
func NewSummary(opts SummaryOpts) (*Summary, error) {
	name, err := buildFQName(opts.Namespace, opts.Subsystem, opts.Name, opts.Unit, false)
	if err != nil {
		return nil, err
	}
	reg := resolveRegistry(opts.Registry)
	sc, err := newSingleCollector[summaryData](reg, name, opts.Help, SummaryValue, func(d *summaryData) { d.init() })
	if err != nil {
		return nil, err
	}
	s := &Summary{singleCollector: sc}
	if err := reg.Register(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Observe records a value.
func (s *Summary) Observe(amount float64) {
	s.box.Get().observe(amount)
}

// SummaryVec is a family of Summaries distinguished by a fixed label set.
type SummaryVec struct {
	lc *labeledCollector[summaryData]
}

// NewSummaryVec constructs a labeled Summary family.
func NewSummaryVec(opts SummaryOpts, labelNames []string) (*SummaryVec, error) {
	name, err := buildFQName(opts.Namespace, opts.Subsystem, opts.Name, opts.Unit, false)
	if err != nil {
		return nil, err
	}
	if err := validateLabelNames(labelNames, []string{"quantile"}); err != nil {
		return nil, err
	}
	reg := resolveRegistry(opts.Registry)
	lc, err := newLabeledCollector[summaryData](reg, name, opts.Help, SummaryValue, labelNames, func(a *arena.Arena) (*layout.Box[summaryData], error) {
		box, err := layout.NewBox[summaryData](a)
		if err != nil {
			return nil, err
		}
		box.Get().init()
		return box, nil
	})
	if err != nil {
		return nil, err
	}
	sv := &SummaryVec{lc: lc}
	if err := reg.Register(sv); err != nil {
		return nil, err
	}
	return sv, nil
}

func (sv *SummaryVec) Describe() MetricFamily         { return sv.lc.Describe() }
func (sv *SummaryVec) Collect() (MetricFamily, error) { return sv.lc.Collect() }

// WithLabelValues resolves the child Summary for the given positional
// label values.
func (sv *SummaryVec) WithLabelValues(values ...string) (*Summary, error) {
	resolved, err := sv.lc.resolveLabelValues(values)
	if err != nil {
		return nil, err
	}
	return sv.child(resolved)
}

// With resolves the child Summary for the given label map.
func (sv *SummaryVec) With(labels map[string]string) (*Summary, error) {
	resolved, err := sv.lc.resolveLabelMap(labels)
	if err != nil {
		return nil, err
	}
	return sv.child(resolved)
}

func (sv *SummaryVec) child(values []string) (*Summary, error) {
	box, err := sv.lc.child(values)
	if err != nil {
		return nil, err
	}
	key := labelKey(values)
	return &Summary{singleCollector: &singleCollector[summaryData]{
		a:    sv.lc.a,
		box:  box,
		lock: sv.lc.lockFor(key),
		name: sv.lc.name,
		help: sv.lc.help,
		typ:  SummaryValue,
	}}, nil
}
