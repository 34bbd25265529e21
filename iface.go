// Package mpmetrics implements multiprocess-safe OpenMetrics/Prometheus
// instrumentation primitives (Counter, Gauge, Summary, Histogram, Enum)
// whose state lives in a shared-memory arena, so a scraper running in any
// process of a forked/exec'd process group sees one consistent aggregate
// view without any IPC messaging on the hot path.
//
// Producing the OpenMetrics text exposition format, serving it over
// HTTP, and wiring into a specific web framework are explicitly out of
// scope (spec.md §1); Registry.Gather returns []MetricFamily for a
// caller to encode however it likes.
package mpmetrics

import "time"

// ValueType discriminates the closed sum of metric kinds spec.md §4 and
// §9 describe: {Counter, Gauge, Summary, Histogram, Enum}.
type ValueType int

const (
	CounterValue ValueType = iota
	GaugeValue
	SummaryValue
	HistogramValue
	EnumValue
)

func (t ValueType) String() string {
	switch t {
	case CounterValue:
		return "counter"
	case GaugeValue:
		return "gauge"
	case SummaryValue:
		return "summary"
	case HistogramValue:
		return "histogram"
	case EnumValue:
		return "enum"
	default:
		return "unknown"
	}
}

// Exemplar is an optional trace-id-like label set attached to a counter
// increment or histogram observation, with a timestamp (spec.md §4.6,
// GLOSSARY).
type Exemplar struct {
	Labels    map[string]string
	Value     float64
	Timestamp time.Time
}

// Sample is one logical exposition value: (name, labels, value,
// exemplar?), per spec.md §6.
type Sample struct {
	Name     string
	Labels   map[string]string
	Value    float64
	Exemplar *Exemplar
}

// MetricFamily groups the samples a single Collector produces under one
// name/help/type, per spec.md §6.
type MetricFamily struct {
	Name    string
	Help    string
	Type    ValueType
	Samples []Sample
}

// Collector is the external interface a scraper consumes (spec.md §6).
// Describe reports metadata without forcing a sample (no locks, no
// shared-memory reads); Collect runs each metric's sampling protocol and
// returns populated samples.
type Collector interface {
	Describe() MetricFamily
	Collect() (MetricFamily, error)
}
