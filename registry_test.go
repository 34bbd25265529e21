package mpmetrics_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gosuda.org/mpmetrics"
	"gosuda.org/mpmetrics/internal/arena"
)

func TestRegisterRejectsDuplicateNameInSameRegistry(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := mpmetrics.NewCounter(mpmetrics.CounterOpts{Name: "dup_total", Help: "h", Registry: reg})
	require.NoError(t, err)

	_, err = mpmetrics.NewGauge(mpmetrics.GaugeOpts{Name: "dup", Help: "h", Registry: reg})
	assert.Error(t, err, "counter's _total suffix strip makes this collide with dup_total's fully-qualified name")
}

func TestSecondRegistryOnSameArenaReattachesExistingMetric(t *testing.T) {
	a, err := arena.New(arena.Options{})
	require.NoError(t, err)
	defer a.Close()

	reg1 := mpmetrics.NewRegistry(a)
	c1, err := mpmetrics.NewCounter(mpmetrics.CounterOpts{Name: "shared_total", Help: "h", Registry: reg1})
	require.NoError(t, err)
	require.NoError(t, c1.Inc(5, nil))

	// A second Registry over the same arena simulates a second process
	// that adopted the same backing file: it must resolve "shared_total"
	// to the same underlying bytes instead of allocating a disconnected
	// counter starting back at zero.
	reg2 := mpmetrics.NewRegistry(a)
	c2, err := mpmetrics.NewCounter(mpmetrics.CounterOpts{Name: "shared_total", Help: "h", Registry: reg2})
	require.NoError(t, err)

	fam, err := c2.Collect()
	require.NoError(t, err)
	assert.Equal(t, 5.0, sampleValue(t, fam, "shared_total"), "reattached counter must see the first registry's writes")

	require.NoError(t, c2.Inc(1, nil))
	fam, err = c1.Collect()
	require.NoError(t, err)
	assert.Equal(t, 6.0, sampleValue(t, fam, "shared_total"), "writes through the second handle must be visible through the first")
}

func TestSecondRegistryOnSameArenaReattachesLabeledMetric(t *testing.T) {
	a, err := arena.New(arena.Options{})
	require.NoError(t, err)
	defer a.Close()

	reg1 := mpmetrics.NewRegistry(a)
	cv1, err := mpmetrics.NewCounterVec(mpmetrics.CounterOpts{Name: "shared_calls_total", Help: "h", Registry: reg1}, []string{"op"})
	require.NoError(t, err)
	child1, err := cv1.WithLabelValues("read")
	require.NoError(t, err)
	require.NoError(t, child1.Inc(3, nil))

	reg2 := mpmetrics.NewRegistry(a)
	cv2, err := mpmetrics.NewCounterVec(mpmetrics.CounterOpts{Name: "shared_calls_total", Help: "h", Registry: reg2}, []string{"op"})
	require.NoError(t, err)
	child2, err := cv2.WithLabelValues("read")
	require.NoError(t, err)

	fam, err := child2.Collect()
	require.NoError(t, err)
	assert.Equal(t, 3.0, sampleValue(t, fam, "shared_calls_total"))
}

func TestGatherAggregatesAllRegisteredCollectors(t *testing.T) {
	reg := newTestRegistry(t)
	c, err := mpmetrics.NewCounter(mpmetrics.CounterOpts{Name: "a_total", Help: "h", Registry: reg})
	require.NoError(t, err)
	require.NoError(t, c.Inc(1, nil))

	g, err := mpmetrics.NewGauge(mpmetrics.GaugeOpts{Name: "b", Help: "h", Registry: reg})
	require.NoError(t, err)
	g.Set(2)

	fams := reg.Gather()
	require.Len(t, fams, 2)
}

type failingCollector struct{}

func (failingCollector) Describe() mpmetrics.MetricFamily {
	return mpmetrics.MetricFamily{Name: "failing", Type: mpmetrics.GaugeValue}
}

func (failingCollector) Collect() (mpmetrics.MetricFamily, error) {
	return mpmetrics.MetricFamily{}, errors.New("boom")
}

func TestGatherSkipsFailingCollectorWithoutAbortingOthers(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.Register(failingCollector{}))

	g, err := mpmetrics.NewGauge(mpmetrics.GaugeOpts{Name: "healthy", Help: "h", Registry: reg})
	require.NoError(t, err)
	g.Set(1)

	fams := reg.Gather()
	require.Len(t, fams, 1, "the failing collector must be skipped, not abort the whole gather")
	assert.Equal(t, "healthy", fams[0].Name)
}

func TestDefaultRegistryIsASingleton(t *testing.T) {
	assert.Same(t, mpmetrics.DefaultRegistry(), mpmetrics.DefaultRegistry())
}
