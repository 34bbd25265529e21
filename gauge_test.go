package mpmetrics_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gosuda.org/mpmetrics"
)

func TestGaugeIncDecSet(t *testing.T) {
	reg := newTestRegistry(t)
	g, err := mpmetrics.NewGauge(mpmetrics.GaugeOpts{Name: "queue_depth", Help: "h", Registry: reg})
	require.NoError(t, err)

	g.Inc()
	g.Inc()
	g.Dec()
	fam, err := g.Collect()
	require.NoError(t, err)
	assert.Equal(t, 1.0, sampleValue(t, fam, "queue_depth"))

	g.Set(42)
	fam, err = g.Collect()
	require.NoError(t, err)
	assert.Equal(t, 42.0, sampleValue(t, fam, "queue_depth"))

	require.NoError(t, g.Add(-2))
	fam, err = g.Collect()
	require.NoError(t, err)
	assert.Equal(t, 40.0, sampleValue(t, fam, "queue_depth"))
}

func TestGaugeAddOverflowLeavesValueUnchanged(t *testing.T) {
	reg := newTestRegistry(t)
	g, err := mpmetrics.NewGauge(mpmetrics.GaugeOpts{Name: "overflowing", Help: "h", Registry: reg})
	require.NoError(t, err)

	require.NoError(t, g.Add(math.Inf(1)))
	err = g.Add(math.Inf(-1))
	assert.Error(t, err)
	var overflowErr *mpmetrics.OverflowError
	assert.ErrorAs(t, err, &overflowErr)

	fam, err := g.Collect()
	require.NoError(t, err)
	assert.Equal(t, math.Inf(1), sampleValue(t, fam, "overflowing"), "a rejected overflow must leave the prior value intact")
}

func TestGaugeTrackInProgressAlwaysDecrements(t *testing.T) {
	reg := newTestRegistry(t)
	g, err := mpmetrics.NewGauge(mpmetrics.GaugeOpts{Name: "inflight", Help: "h", Registry: reg})
	require.NoError(t, err)

	g.TrackInProgress(func() {
		fam, err := g.Collect()
		require.NoError(t, err)
		assert.Equal(t, 1.0, sampleValue(t, fam, "inflight"))
	})

	fam, err := g.Collect()
	require.NoError(t, err)
	assert.Equal(t, 0.0, sampleValue(t, fam, "inflight"))

	assert.Panics(t, func() {
		g.TrackInProgress(func() { panic("boom") })
	})

	fam, err = g.Collect()
	require.NoError(t, err)
	assert.Equal(t, 0.0, sampleValue(t, fam, "inflight"), "Dec must still run via defer when fn panics")
}

func TestGaugeVecChildrenAreIndependent(t *testing.T) {
	reg := newTestRegistry(t)
	gv, err := mpmetrics.NewGaugeVec(mpmetrics.GaugeOpts{Name: "pool_size", Help: "h", Registry: reg}, []string{"pool"})
	require.NoError(t, err)

	a, err := gv.WithLabelValues("a")
	require.NoError(t, err)
	b, err := gv.WithLabelValues("b")
	require.NoError(t, err)

	a.Set(1)
	b.Set(2)

	fam, err := gv.Collect()
	require.NoError(t, err)
	require.Len(t, fam.Samples, 2)
	byPool := map[string]float64{}
	for _, s := range fam.Samples {
		byPool[s.Labels["pool"]] = s.Value
	}
	assert.Equal(t, 1.0, byPool["a"])
	assert.Equal(t, 2.0, byPool["b"])
}
