package mpmetrics_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gosuda.org/mpmetrics"
)

func enumSampleValue(t *testing.T, fam mpmetrics.MetricFamily, state string, labels map[string]string) float64 {
	t.Helper()
	for _, s := range fam.Samples {
		if s.Labels[fam.Name] != state {
			continue
		}
		match := true
		for k, v := range labels {
			if s.Labels[k] != v {
				match = false
				break
			}
		}
		if match {
			return s.Value
		}
	}
	t.Fatalf("state %q not found in family %q", state, fam.Name)
	return 0
}

func TestEnumDefaultsToFirstState(t *testing.T) {
	reg := newTestRegistry(t)
	e, err := mpmetrics.NewEnum(mpmetrics.EnumOpts{Name: "worker_state", Help: "h", Registry: reg, States: []string{"idle", "busy", "stopped"}})
	require.NoError(t, err)

	assert.Equal(t, "idle", e.Value())

	fam, err := e.Collect()
	require.NoError(t, err)
	require.Len(t, fam.Samples, 3)
	assert.Equal(t, 1.0, enumSampleValue(t, fam, "idle", nil))
	assert.Equal(t, 0.0, enumSampleValue(t, fam, "busy", nil))
}

func TestEnumStateTransitionsAndRejectsUnknown(t *testing.T) {
	reg := newTestRegistry(t)
	e, err := mpmetrics.NewEnum(mpmetrics.EnumOpts{Name: "job_state", Help: "h", Registry: reg, States: []string{"queued", "running", "done"}})
	require.NoError(t, err)

	require.NoError(t, e.State("running"))
	assert.Equal(t, "running", e.Value())

	err = e.State("exploded")
	assert.Error(t, err)
	var argErr *mpmetrics.ArgumentError
	assert.ErrorAs(t, err, &argErr)
	assert.Equal(t, "running", e.Value(), "a rejected transition must not change state")
}

func TestEnumRejectsDuplicateStatesAtConstruction(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := mpmetrics.NewEnum(mpmetrics.EnumOpts{Name: "bad_state", Help: "h", Registry: reg, States: []string{"a", "a"}})
	assert.Error(t, err)
}

func TestEnumVecChildrenAreIndependent(t *testing.T) {
	reg := newTestRegistry(t)
	ev, err := mpmetrics.NewEnumVec(mpmetrics.EnumOpts{Name: "conn_state", Help: "h", Registry: reg, States: []string{"open", "closed"}}, []string{"conn"})
	require.NoError(t, err)

	a, err := ev.WithLabelValues("a")
	require.NoError(t, err)
	b, err := ev.WithLabelValues("b")
	require.NoError(t, err)

	require.NoError(t, b.State("closed"))

	fam, err := ev.Collect()
	require.NoError(t, err)
	require.Len(t, fam.Samples, 4)

	assert.Equal(t, 1.0, enumSampleValue(t, fam, "open", map[string]string{"conn": "a"}))
	assert.Equal(t, 1.0, enumSampleValue(t, fam, "closed", map[string]string{"conn": "b"}))
	assert.Equal(t, "open", a.Value())
}
