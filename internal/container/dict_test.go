package container_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gosuda.org/mpmetrics/internal/arena"
	"gosuda.org/mpmetrics/internal/container"
	"gosuda.org/mpmetrics/internal/layout"
)

func encodeString(v string) []byte { return []byte(v) }
func decodeString(b []byte) (string, error) { return string(b), nil }

func newTestDict(t *testing.T) *container.Dict[string] {
	t.Helper()
	a, err := arena.New(arena.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	hdr := &layout.ObjectHeader{}
	return container.NewDict[string](hdr, a, encodeString, decodeString)
}

func TestDictSetGetDelete(t *testing.T) {
	d := newTestDict(t)

	_, found, err := d.Get("missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, d.Set("foo", "bar"))
	v, found, err := d.Get("foo")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "bar", v)

	require.NoError(t, d.Set("foo", "baz"))
	v, found, err = d.Get("foo")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "baz", v)

	require.NoError(t, d.Delete("foo"))
	_, found, err = d.Get("foo")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDictSnapshotReturnsAllEntries(t *testing.T) {
	d := newTestDict(t)
	require.NoError(t, d.Set("a", "1"))
	require.NoError(t, d.Set("b", "2"))
	require.NoError(t, d.Set("c", "3"))

	snap, err := d.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "2", "c": "3"}, snap)
}

func TestDictGrowsPastInitialPayloadSize(t *testing.T) {
	d := newTestDict(t)
	for i := 0; i < 64; i++ {
		key := string(rune('a' + (i % 26)))
		require.NoError(t, d.Set(key+string(rune(i)), "value-that-is-reasonably-long-to-force-growth"))
	}
	snap, err := d.Snapshot()
	require.NoError(t, err)
	assert.Len(t, snap, 64)
}

func TestDictDeleteOfMissingKeyIsNoop(t *testing.T) {
	d := newTestDict(t)
	require.NoError(t, d.Set("a", "1"))
	require.NoError(t, d.Delete("nonexistent"))
	v, found, err := d.Get("a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "1", v)
}
