package mpmetrics_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gosuda.org/mpmetrics"
	"gosuda.org/mpmetrics/internal/arena"
)

func newTestRegistry(t *testing.T) *mpmetrics.Registry {
	t.Helper()
	a, err := arena.New(arena.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return mpmetrics.NewRegistry(a)
}

func sampleValue(t *testing.T, fam mpmetrics.MetricFamily, name string) float64 {
	t.Helper()
	for _, s := range fam.Samples {
		if s.Name == name {
			return s.Value
		}
	}
	t.Fatalf("sample %q not found in family %q (%v)", name, fam.Name, fam.Samples)
	return 0
}

func TestCounterIncAccumulates(t *testing.T) {
	reg := newTestRegistry(t)
	c, err := mpmetrics.NewCounter(mpmetrics.CounterOpts{Name: "requests_total", Help: "h", Registry: reg})
	require.NoError(t, err)

	require.NoError(t, c.Inc(1, nil))
	require.NoError(t, c.Inc(2, nil))

	fam, err := c.Collect()
	require.NoError(t, err)
	assert.Equal(t, 3.0, sampleValue(t, fam, "requests_total"))
}

func TestCounterIncOverflowLeavesTotalUnchanged(t *testing.T) {
	reg := newTestRegistry(t)
	c, err := mpmetrics.NewCounter(mpmetrics.CounterOpts{Name: "requests_total", Help: "h", Registry: reg})
	require.NoError(t, err)

	require.NoError(t, c.Inc(math.MaxUint64, nil))

	err = c.Inc(1, nil)
	assert.Error(t, err)
	var overflowErr *mpmetrics.OverflowError
	assert.ErrorAs(t, err, &overflowErr)

	fam, err := c.Collect()
	require.NoError(t, err)
	assert.Equal(t, float64(math.MaxUint64), sampleValue(t, fam, "requests_total"), "a rejected overflow must leave the prior total intact")
}

func TestCounterDuplicateNameRejected(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := mpmetrics.NewCounter(mpmetrics.CounterOpts{Name: "dup_total", Help: "h", Registry: reg})
	require.NoError(t, err)

	_, err = mpmetrics.NewCounter(mpmetrics.CounterOpts{Name: "dup_total", Help: "h", Registry: reg})
	assert.Error(t, err)
}

func TestCounterVecLabelsAndArityChecks(t *testing.T) {
	reg := newTestRegistry(t)
	cv, err := mpmetrics.NewCounterVec(mpmetrics.CounterOpts{Name: "http_requests_total", Help: "h", Registry: reg}, []string{"method", "code"})
	require.NoError(t, err)

	_, err = cv.WithLabelValues("GET")
	assert.Error(t, err, "wrong arity must be rejected")

	get200, err := cv.WithLabelValues("GET", "200")
	require.NoError(t, err)
	require.NoError(t, get200.Inc(1, nil))

	post500, err := cv.With(map[string]string{"method": "POST", "code": "500"})
	require.NoError(t, err)
	require.NoError(t, post500.Inc(1, nil))
	require.NoError(t, post500.Inc(1, nil))

	fam, err := cv.Collect()
	require.NoError(t, err)
	require.Len(t, fam.Samples, 4, "two children, each emitting _total and _created")

	totals := map[string]float64{}
	for _, s := range fam.Samples {
		if s.Name != fam.Name+"_total" {
			continue
		}
		totals[s.Labels["method"]+"/"+s.Labels["code"]] = s.Value
	}
	assert.Equal(t, 1.0, totals["GET/200"])
	assert.Equal(t, 2.0, totals["POST/500"])
}

func TestCounterVecSameLabelsReturnSameChild(t *testing.T) {
	reg := newTestRegistry(t)
	cv, err := mpmetrics.NewCounterVec(mpmetrics.CounterOpts{Name: "calls_total", Help: "h", Registry: reg}, []string{"op"})
	require.NoError(t, err)

	a, err := cv.WithLabelValues("read")
	require.NoError(t, err)
	b, err := cv.WithLabelValues("read")
	require.NoError(t, err)

	require.NoError(t, a.Inc(1, nil))
	require.NoError(t, b.Inc(1, nil))

	fam, err := cv.Collect()
	require.NoError(t, err)
	assert.Equal(t, 2.0, sampleValue(t, fam, fam.Name+"_total"))
}
