package mpmetrics

import (
	"gosuda.org/mpmetrics/internal/arena"
	"gosuda.org/mpmetrics/internal/atomic64"
	"gosuda.org/mpmetrics/internal/layout"
)

// CounterOpts configures a Counter or CounterVec, mirroring
// metrics.py's Counter.__init__ keyword arguments.
type CounterOpts struct {
	Namespace string
	Subsystem string
	Name      string
	Help      string
	Unit      string
	Registry  *Registry
}

// counterData is the fixed-shape arena body of one Counter value: a
// monotonic total, its creation timestamp, and an optional exemplar,
// following metrics.py's Counter exactly (self._total is an AtomicUInt64
// that raises on overflow by default).
type counterData struct {
	lockCell uint64
	total    uint64
	created  float64
	exemplar exemplarSlot
}

func (d *counterData) init() {
	d.created = nowFloat()
}

// inc adds amount to the total, raising ErrOverflow (surfaced to the
// caller as OverflowError) rather than wrapping past math.MaxUint64.
// Setting the exemplar, if any, is the caller's responsibility to
// serialize via its own lock, since exemplarSlot's backing Dict is not
// itself safe for concurrent writers.
func (d *counterData) inc(amount uint64) error {
	_, err := atomic64.NewUint64At(&d.total).Add(amount, true)
	if err != nil {
		return overflowErrorf("counter total overflowed adding %d", amount)
	}
	return nil
}

func (d *counterData) sample(a *arena.Arena, add addSampleFunc) error {
	total := atomic64.NewUint64At(&d.total).Get()
	ex, err := d.exemplar.get(a)
	if err != nil {
		return err
	}
	add("_total", float64(total), nil, ex)
	add("_created", d.created, nil, nil)
	return nil
}

// Counter is a monotonically increasing OpenMetrics counter (spec.md §4).
type Counter struct {
	*singleCollector[counterData]
}

// NewCounter constructs a standalone (unlabeled) Counter.
func NewCounter(opts CounterOpts) (*Counter, error) {
	name, err := buildFQName(opts.Namespace, opts.Subsystem, opts.Name, opts.Unit, true)
	if err != nil {
		return nil, err
	}
	reg := resolveRegistry(opts.Registry)
	sc, err := newSingleCollector[counterData](reg, name, opts.Help, CounterValue, func(d *counterData) { d.init() })
	if err != nil {
		return nil, err
	}
	c := &Counter{singleCollector: sc}
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	return c, nil
}

// Inc adds amount to the counter, optionally attaching an exemplar to the
// increment (spec.md §4.6). amount is unsigned because the total it feeds
// is an AtomicUInt64 (spec.md §4.6.1); overflowing it returns
// OverflowError and leaves the total unchanged.
func (c *Counter) Inc(amount uint64, exemplar *Exemplar) error {
	d := c.box.Get()
	if err := d.inc(amount); err != nil {
		return err
	}
	if exemplar != nil {
		unlock := c.lock.Guard()
		defer unlock()
		if err := d.exemplar.set(c.a, exemplar); err != nil {
			return err
		}
	}
	return nil
}

// CounterVec is a family of Counters distinguished by a fixed set of
// label names, spec.md §4.7's LabeledCollector specialized to Counter.
type CounterVec struct {
	lc *labeledCollector[counterData]
}

// NewCounterVec constructs a labeled Counter family.
func NewCounterVec(opts CounterOpts, labelNames []string) (*CounterVec, error) {
	name, err := buildFQName(opts.Namespace, opts.Subsystem, opts.Name, opts.Unit, true)
	if err != nil {
		return nil, err
	}
	if err := validateLabelNames(labelNames, nil); err != nil {
		return nil, err
	}
	reg := resolveRegistry(opts.Registry)
	lc, err := newLabeledCollector[counterData](reg, name, opts.Help, CounterValue, labelNames, func(a *arena.Arena) (*layout.Box[counterData], error) {
		box, err := layout.NewBox[counterData](a)
		if err != nil {
			return nil, err
		}
		box.Get().init()
		return box, nil
	})
	if err != nil {
		return nil, err
	}
	cv := &CounterVec{lc: lc}
	if err := reg.Register(cv); err != nil {
		return nil, err
	}
	return cv, nil
}

func (cv *CounterVec) Describe() MetricFamily { return cv.lc.Describe() }
func (cv *CounterVec) Collect() (MetricFamily, error) { return cv.lc.Collect() }

// WithLabelValues resolves the child Counter for the given positional
// label values, in the order labelNames was declared.
func (cv *CounterVec) WithLabelValues(values ...string) (*Counter, error) {
	resolved, err := cv.lc.resolveLabelValues(values)
	if err != nil {
		return nil, err
	}
	return cv.child(resolved)
}

// With resolves the child Counter for the given label map.
func (cv *CounterVec) With(labels map[string]string) (*Counter, error) {
	resolved, err := cv.lc.resolveLabelMap(labels)
	if err != nil {
		return nil, err
	}
	return cv.child(resolved)
}

func (cv *CounterVec) child(values []string) (*Counter, error) {
	box, err := cv.lc.child(values)
	if err != nil {
		return nil, err
	}
	key := labelKey(values)
	return &Counter{singleCollector: &singleCollector[counterData]{
		a:    cv.lc.a,
		box:  box,
		lock: cv.lc.lockFor(key),
		name: cv.lc.name,
		help: cv.lc.help,
		typ:  CounterValue,
	}}, nil
}
