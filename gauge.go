package mpmetrics

import (
	"gosuda.org/mpmetrics/internal/arena"
	"gosuda.org/mpmetrics/internal/atomic64"
	"gosuda.org/mpmetrics/internal/layout"
)

// GaugeOpts configures a Gauge or GaugeVec.
type GaugeOpts struct {
	Namespace string
	Subsystem string
	Name      string
	Help      string
	Unit      string
	Registry  *Registry
}

// gaugeData is a Gauge's arena body: a single signed-direction value
// that can move up or down, unlike Counter's monotonic total
// (metrics.py's Gauge).
type gaugeData struct {
	lockCell uint64
	value    float64
}

func (d *gaugeData) sample(a *arena.Arena, add addSampleFunc) error {
	add("", atomic64.NewDoubleAt(&d.value).Get(), nil, nil)
	return nil
}

// Gauge is a value that can go up or down (spec.md §4).
type Gauge struct {
	*singleCollector[gaugeData]
}

// NewGauge constructs a standalone (unlabeled) Gauge.
func NewGauge(opts GaugeOpts) (*Gauge, error) {
	name, err := buildFQName(opts.Namespace, opts.Subsystem, opts.Name, opts.Unit, false)
	if err != nil {
		return nil, err
	}
	reg := resolveRegistry(opts.Registry)
	sc, err := newSingleCollector[gaugeData](reg, name, opts.Help, GaugeValue, nil)
	if err != nil {
		return nil, err
	}
	g := &Gauge{singleCollector: sc}
	if err := reg.Register(g); err != nil {
		return nil, err
	}
	return g, nil
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() { g.Add(1) }

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() { g.Add(-1) }

// Add adds amount (which may be negative) to the gauge's current value,
// raising if the result is NaN while neither the prior value nor amount
// was (spec.md §4.3's overflow definition).
func (g *Gauge) Add(amount float64) error {
	_, err := atomic64.NewDoubleAt(&g.box.Get().value).Add(amount, true)
	if err != nil {
		return overflowErrorf("gauge value overflowed adding %v", amount)
	}
	return nil
}

// Set pins the gauge to value, discarding whatever was there before.
func (g *Gauge) Set(value float64) {
	atomic64.NewDoubleAt(&g.box.Get().value).Set(value)
}

// SetToCurrentTime sets the gauge to the current Unix time in seconds,
// the way metrics.py's Gauge.set_to_current_time does.
func (g *Gauge) SetToCurrentTime() {
	g.Set(nowFloat())
}

// TrackInProgress increments the gauge, runs fn, then decrements it,
// guaranteeing the decrement even if fn panics (metrics.py's
// Gauge.track_inprogress context manager).
func (g *Gauge) TrackInProgress(fn func()) {
	g.Inc()
	defer g.Dec()
	fn()
}

// GaugeVec is a family of Gauges distinguished by a fixed label set.
type GaugeVec struct {
	lc *labeledCollector[gaugeData]
}

// NewGaugeVec constructs a labeled Gauge family.
func NewGaugeVec(opts GaugeOpts, labelNames []string) (*GaugeVec, error) {
	name, err := buildFQName(opts.Namespace, opts.Subsystem, opts.Name, opts.Unit, false)
	if err != nil {
		return nil, err
	}
	if err := validateLabelNames(labelNames, nil); err != nil {
		return nil, err
	}
	reg := resolveRegistry(opts.Registry)
	lc, err := newLabeledCollector[gaugeData](reg, name, opts.Help, GaugeValue, labelNames, func(a *arena.Arena) (*layout.Box[gaugeData], error) {
		return layout.NewBox[gaugeData](a)
	})
	if err != nil {
		return nil, err
	}
	gv := &GaugeVec{lc: lc}
	if err := reg.Register(gv); err != nil {
		return nil, err
	}
	return gv, nil
}

func (gv *GaugeVec) Describe() MetricFamily       { return gv.lc.Describe() }
func (gv *GaugeVec) Collect() (MetricFamily, error) { return gv.lc.Collect() }

// WithLabelValues resolves the child Gauge for the given positional
// label values.
func (gv *GaugeVec) WithLabelValues(values ...string) (*Gauge, error) {
	resolved, err := gv.lc.resolveLabelValues(values)
	if err != nil {
		return nil, err
	}
	return gv.child(resolved)
}

// With resolves the child Gauge for the given label map.
func (gv *GaugeVec) With(labels map[string]string) (*Gauge, error) {
	resolved, err := gv.lc.resolveLabelMap(labels)
	if err != nil {
		return nil, err
	}
	return gv.child(resolved)
}

func (gv *GaugeVec) child(values []string) (*Gauge, error) {
	box, err := gv.lc.child(values)
	if err != nil {
		return nil, err
	}
	key := labelKey(values)
	return &Gauge{singleCollector: &singleCollector[gaugeData]{
		a:    gv.lc.a,
		box:  box,
		lock: gv.lc.lockFor(key),
		name: gv.lc.name,
		help: gv.lc.help,
		typ:  GaugeValue,
	}}, nil
}
