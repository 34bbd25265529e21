package mpmetrics_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gosuda.org/mpmetrics"
)

func bucketValue(t *testing.T, fam mpmetrics.MetricFamily, le string) float64 {
	t.Helper()
	for _, s := range fam.Samples {
		if s.Name == fam.Name+"_bucket" && s.Labels["le"] == le {
			return s.Value
		}
	}
	t.Fatalf("bucket le=%q not found", le)
	return 0
}

func TestHistogramObserveBucketsCumulatively(t *testing.T) {
	reg := newTestRegistry(t)
	h, err := mpmetrics.NewHistogram(mpmetrics.HistogramOpts{
		Name:     "req_seconds",
		Help:     "h",
		Registry: reg,
		Buckets:  []float64{0.1, 0.5, 1},
	})
	require.NoError(t, err)

	require.NoError(t, h.Observe(0.05, nil))
	require.NoError(t, h.Observe(0.3, nil))
	require.NoError(t, h.Observe(2, nil))

	fam, err := h.Collect()
	require.NoError(t, err)

	assert.Equal(t, 1.0, bucketValue(t, fam, "0.1"))
	assert.Equal(t, 2.0, bucketValue(t, fam, "0.5"))
	assert.Equal(t, 2.0, bucketValue(t, fam, "1"))
	assert.Equal(t, 3.0, bucketValue(t, fam, "+Inf"))
	assert.Equal(t, 2.35, sampleValue(t, fam, "req_seconds_sum"))
	assert.Equal(t, 3.0, sampleValue(t, fam, "req_seconds_count"))
}

func TestHistogramRejectsUnsortedBuckets(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := mpmetrics.NewHistogram(mpmetrics.HistogramOpts{
		Name:     "bad_seconds",
		Help:     "h",
		Registry: reg,
		Buckets:  []float64{1, 0.5},
	})
	assert.Error(t, err)
	var cfgErr *mpmetrics.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestHistogramDefaultBucketsEndInInf(t *testing.T) {
	reg := newTestRegistry(t)
	h, err := mpmetrics.NewHistogram(mpmetrics.HistogramOpts{Name: "default_seconds", Help: "h", Registry: reg})
	require.NoError(t, err)

	require.NoError(t, h.Observe(100, nil))
	fam, err := h.Collect()
	require.NoError(t, err)
	assert.Equal(t, 1.0, bucketValue(t, fam, "+Inf"))
}

func TestHistogramExemplarAttachesToMatchingBucket(t *testing.T) {
	reg := newTestRegistry(t)
	h, err := mpmetrics.NewHistogram(mpmetrics.HistogramOpts{
		Name:     "ex_seconds",
		Help:     "h",
		Registry: reg,
		Buckets:  []float64{1},
	})
	require.NoError(t, err)

	ex := &mpmetrics.Exemplar{Labels: map[string]string{"trace_id": "abc"}, Value: 0.4}
	require.NoError(t, h.Observe(0.4, ex))

	fam, err := h.Collect()
	require.NoError(t, err)

	var found bool
	for _, s := range fam.Samples {
		if s.Name == fam.Name+"_bucket" && s.Labels["le"] == "1" {
			require.NotNil(t, s.Exemplar)
			assert.Equal(t, "abc", s.Exemplar.Labels["trace_id"])
			found = true
		}
	}
	assert.True(t, found)
}

func TestHistogramVecChildrenAreIndependent(t *testing.T) {
	reg := newTestRegistry(t)
	hv, err := mpmetrics.NewHistogramVec(mpmetrics.HistogramOpts{
		Name:     "op_seconds",
		Help:     "h",
		Registry: reg,
		Buckets:  []float64{1},
	}, []string{"op"})
	require.NoError(t, err)

	read, err := hv.WithLabelValues("read")
	require.NoError(t, err)
	require.NoError(t, read.Observe(0.5, nil))

	write, err := hv.WithLabelValues("write")
	require.NoError(t, err)
	require.NoError(t, write.Observe(2, nil))

	fam, err := hv.Collect()
	require.NoError(t, err)

	counts := map[string]float64{}
	for _, s := range fam.Samples {
		if s.Name == fam.Name+"_count" {
			counts[s.Labels["op"]] = s.Value
		}
	}
	assert.Equal(t, 1.0, counts["read"])
	assert.Equal(t, 1.0, counts["write"])
}
