package mpmetrics

import (
	"gosuda.org/mpmetrics/internal/arena"
	"gosuda.org/mpmetrics/internal/container"
	"gosuda.org/mpmetrics/internal/layout"
)

// exemplarSlot is the fixed-shape body of an optional OpenMetrics
// exemplar attached to a counter increment or histogram bucket
// observation (spec.md §4.6, GLOSSARY). present is written last by set
// so a concurrent sampler never observes a labels header pointing at a
// not-yet-initialized block; callers are expected to hold whatever lock
// guards the parent metric while calling set or get.
type exemplarSlot struct {
	present uint64
	value   float64
	ts      float64
	labels  layout.ObjectHeader
}

func encodeLabelValue(s string) []byte { return []byte(s) }

func decodeLabelValue(b []byte) (string, error) { return string(b), nil }

func (s *exemplarSlot) set(a *arena.Arena, ex *Exemplar) error {
	d := container.NewDict[string](&s.labels, a, encodeLabelValue, decodeLabelValue)
	for k, v := range ex.Labels {
		if err := d.Set(k, v); err != nil {
			return err
		}
	}
	s.value = ex.Value
	s.ts = float64(ex.Timestamp.UnixNano()) / 1e9
	s.present = 1
	return nil
}

func (s *exemplarSlot) get(a *arena.Arena) (*Exemplar, error) {
	if s.present == 0 {
		return nil, nil
	}
	d := container.NewDict[string](&s.labels, a, encodeLabelValue, decodeLabelValue)
	labels, err := d.Snapshot()
	if err != nil {
		return nil, err
	}
	return &Exemplar{
		Labels:    labels,
		Value:     s.value,
		Timestamp: unixFloatToTime(s.ts),
	}, nil
}
