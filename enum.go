package mpmetrics

import (
	"strings"
	"sync/atomic"

	"gosuda.org/mpmetrics/internal/arena"
	"gosuda.org/mpmetrics/internal/layout"
)

// EnumOpts configures an Enum or EnumVec. States lists every value the
// enum can take; the first entry is the default the enum starts in
// (metrics.py's Enum requires the same).
type EnumOpts struct {
	Namespace string
	Subsystem string
	Name      string
	Help      string
	Registry  *Registry
	States    []string
}

func (o EnumOpts) validate() error {
	if len(o.States) == 0 {
		return configErrorf("enum must declare at least one state")
	}
	seen := make(map[string]struct{}, len(o.States))
	for _, s := range o.States {
		if _, dup := seen[s]; dup {
			return configErrorf("duplicate enum state %q", s)
		}
		seen[s] = struct{}{}
	}
	return nil
}

// enumData is an Enum's arena body: a single index into the
// process-wide (not arena-resident) States list, since every
// participating process runs the same binary and therefore agrees on
// what index N means without needing to store the state names
// themselves in shared memory.
type enumData struct {
	lockCell uint64
	value    uint64
}

// sample exists only to satisfy the sampler constraint singleCollector
// and labeledCollector require; Enum's exposition needs one sample per
// declared state rather than the single add() call every other kind
// makes, so Enum and EnumVec override Collect directly instead of
// going through this method.
func (d *enumData) sample(a *arena.Arena, add addSampleFunc) error {
	return nil
}

// Enum represents a value that is always exactly one of a fixed set of
// states (spec.md §4).
type Enum struct {
	*singleCollector[enumData]
	states []string
}

// NewEnum constructs a standalone (unlabeled) Enum.
func NewEnum(opts EnumOpts) (*Enum, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	name, err := buildFQName(opts.Namespace, opts.Subsystem, opts.Name, "", false)
	if err != nil {
		return nil, err
	}
	reg := resolveRegistry(opts.Registry)
	sc, err := newSingleCollector[enumData](reg, name, opts.Help, EnumValue, nil)
	if err != nil {
		return nil, err
	}
	e := &Enum{singleCollector: sc, states: opts.States}
	if err := reg.Register(e); err != nil {
		return nil, err
	}
	return e, nil
}

// State transitions the enum to name, which must be one of its declared
// states.
func (e *Enum) State(name string) error {
	idx, ok := e.indexOf(name)
	if !ok {
		return argumentErrorf("unknown enum state %q", name)
	}
	atomic.StoreUint64(&e.box.Get().value, uint64(idx))
	return nil
}

func (e *Enum) indexOf(name string) (int, bool) {
	for i, s := range e.states {
		if s == name {
			return i, true
		}
	}
	return 0, false
}

// Value returns the enum's current state name.
func (e *Enum) Value() string {
	idx := atomic.LoadUint64(&e.box.Get().value)
	return e.states[idx]
}

func (e *Enum) Collect() (MetricFamily, error) {
	unlock := e.lock.Guard()
	idx := atomic.LoadUint64(&e.box.Get().value)
	unlock()

	fam := MetricFamily{Name: e.name, Help: e.help, Type: EnumValue}
	for i, s := range e.states {
		v := 0.0
		if uint64(i) == idx {
			v = 1.0
		}
		fam.Samples = append(fam.Samples, Sample{Name: e.name, Labels: map[string]string{e.name: s}, Value: v})
	}
	return fam, nil
}

// EnumVec is a family of Enums distinguished by a fixed label set.
type EnumVec struct {
	lc     *labeledCollector[enumData]
	states []string
}

// NewEnumVec constructs a labeled Enum family.
func NewEnumVec(opts EnumOpts, labelNames []string) (*EnumVec, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	name, err := buildFQName(opts.Namespace, opts.Subsystem, opts.Name, "", false)
	if err != nil {
		return nil, err
	}
	if err := validateLabelNames(labelNames, []string{name}); err != nil {
		return nil, err
	}
	reg := resolveRegistry(opts.Registry)
	lc, err := newLabeledCollector[enumData](reg, name, opts.Help, EnumValue, labelNames, func(a *arena.Arena) (*layout.Box[enumData], error) {
		return layout.NewBox[enumData](a)
	})
	if err != nil {
		return nil, err
	}
	ev := &EnumVec{lc: lc, states: opts.States}
	if err := reg.Register(ev); err != nil {
		return nil, err
	}
	return ev, nil
}

func (ev *EnumVec) Describe() MetricFamily { return ev.lc.Describe() }

func (ev *EnumVec) Collect() (MetricFamily, error) {
	fam := MetricFamily{Name: ev.lc.name, Help: ev.lc.help, Type: EnumValue}

	snapshot, err := ev.lc.snapshotChildren()
	if err != nil {
		return fam, err
	}

	for key, box := range snapshot {
		values := strings.Split(key, "\x00")
		labels := make(map[string]string, len(ev.lc.labelNames)+1)
		for i, n := range ev.lc.labelNames {
			labels[n] = values[i]
		}

		unlock := ev.lc.lockFor(key).Guard()
		idx := atomic.LoadUint64(&box.Get().value)
		unlock()

		for i, s := range ev.states {
			merged := make(map[string]string, len(labels)+1)
			for k, v := range labels {
				merged[k] = v
			}
			merged[ev.lc.name] = s
			v := 0.0
			if uint64(i) == idx {
				v = 1.0
			}
			fam.Samples = append(fam.Samples, Sample{Name: ev.lc.name, Labels: merged, Value: v})
		}
	}
	return fam, nil
}

// WithLabelValues resolves the child Enum for the given positional
// label values.
func (ev *EnumVec) WithLabelValues(values ...string) (*Enum, error) {
	resolved, err := ev.lc.resolveLabelValues(values)
	if err != nil {
		return nil, err
	}
	return ev.child(resolved)
}

// With resolves the child Enum for the given label map.
func (ev *EnumVec) With(labels map[string]string) (*Enum, error) {
	resolved, err := ev.lc.resolveLabelMap(labels)
	if err != nil {
		return nil, err
	}
	return ev.child(resolved)
}

func (ev *EnumVec) child(values []string) (*Enum, error) {
	box, err := ev.lc.child(values)
	if err != nil {
		return nil, err
	}
	key := labelKey(values)
	return &Enum{
		singleCollector: &singleCollector[enumData]{
			a:    ev.lc.a,
			box:  box,
			lock: ev.lc.lockFor(key),
			name: ev.lc.name,
			help: ev.lc.help,
			typ:  EnumValue,
		},
		states: ev.states,
	}, nil
}
