package ipclock_test

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gosuda.org/mpmetrics/internal/ipclock"
)

func tempLockFile(t *testing.T) *os.File {
	t.Helper()
	f, err := os.CreateTemp("", "ipclock-test-*")
	require.NoError(t, err)
	require.NoError(t, f.Truncate(64))
	t.Cleanup(func() {
		f.Close()
		os.Remove(f.Name())
	})
	return f
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	f := tempLockFile(t)
	l := ipclock.New(f, 0)

	ok, err := l.Acquire(true, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, l.Release())
}

func TestReleaseWithoutAcquireFails(t *testing.T) {
	f := tempLockFile(t)
	l := ipclock.New(f, 8)
	assert.ErrorIs(t, l.Release(), ipclock.ErrNotHeld)
}

func TestGuardReleasesOnReturn(t *testing.T) {
	f := tempLockFile(t)
	l := ipclock.New(f, 16)

	unlock := l.Guard()
	unlock()

	// A second Guard must not deadlock if the first one actually released.
	done := make(chan struct{})
	go func() {
		l.Guard()()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second Guard never acquired, first Guard's release was lost")
	}
}

func TestNewDedupesSameCellWithinProcess(t *testing.T) {
	f := tempLockFile(t)

	a := ipclock.New(f, 24)
	b := ipclock.New(f, 24)
	assert.Same(t, a, b, "same (file, offset) must resolve to the same *Lock within a process")

	c := ipclock.New(f, 32)
	assert.NotSame(t, a, c, "distinct offsets must be independent locks")
}

func TestSameProcessContendersSerialize(t *testing.T) {
	f := tempLockFile(t)

	var active int
	var sawOverlap bool
	var mu sync.Mutex

	run := func() {
		l := ipclock.New(f, 40)
		unlock := l.Guard()
		defer unlock()

		mu.Lock()
		active++
		if active > 1 {
			sawOverlap = true
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		active--
		mu.Unlock()
	}

	done := make(chan struct{})
	go func() { run(); done <- struct{}{} }()
	go func() { run(); done <- struct{}{} }()
	<-done
	<-done

	assert.False(t, sawOverlap, "two same-process Lock acquisitions on the same cell ran concurrently")
}
