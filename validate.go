package mpmetrics

import (
	"strings"

	"github.com/prometheus/common/model"
)

// nameRE is spec.md §4.7's "[a-zA-Z_:][a-zA-Z0-9_:]*" rule, shared by
// metric names and label names. prometheus/common/model's MetricNameRE
// happens to be exactly this pattern; we reuse it for both, even though
// upstream Prometheus itself disallows colons in label names — spec.md
// is explicit that label names "match the same rule" as metric names.
var nameRE = model.MetricNameRE

func validateMetricName(name string) error {
	if !nameRE.MatchString(name) {
		return configErrorf("invalid metric name %q", name)
	}
	return nil
}

func validateLabelName(name string, reserved []string) error {
	if !nameRE.MatchString(name) {
		return configErrorf("invalid label name %q", name)
	}
	if strings.HasPrefix(name, "__") {
		return configErrorf("reserved label name %q", name)
	}
	for _, r := range reserved {
		if name == r {
			return configErrorf("reserved label name %q for this metric kind", name)
		}
	}
	return nil
}

// buildFQName concatenates namespace/subsystem/name/unit the way
// metrics.py's CollectorFactory.__call__ does: strip a trailing "_total"
// for counters, strip a trailing "_<unit>" if the caller already
// included it, then append the unit.
func buildFQName(namespace, subsystem, name, unit string, isCounter bool) (string, error) {
	if isCounter {
		name = strings.TrimSuffix(name, "_total")
	}
	if unit != "" {
		name = strings.TrimSuffix(name, "_"+unit)
	}

	parts := make([]string, 0, 4)
	if namespace != "" {
		parts = append(parts, namespace)
	}
	if subsystem != "" {
		parts = append(parts, subsystem)
	}
	parts = append(parts, name)
	if unit != "" {
		parts = append(parts, unit)
	}

	fq := strings.Join(parts, "_")
	if err := validateMetricName(fq); err != nil {
		return "", err
	}
	return fq, nil
}
