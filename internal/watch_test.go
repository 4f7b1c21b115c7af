package internal

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gnolang/classmig/internal/classfile/classfiletest"
	tt "github.com/gnolang/classmig/internal/types"
)

func TestWatchReverifiesChangedJars(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	dir := t.TempDir()

	type report struct {
		path    string
		verdict tt.Verdict
	}
	reports := make(chan report, 4)
	require.NoError(t, f.engine.StartWatching(func(path string, v tt.Verdict) {
		reports <- report{path, v}
	}, dir))
	t.Cleanup(func() { _ = f.engine.StopWatching() })

	assert.Error(t, f.engine.StartWatching(nil, dir), "already watching")

	// not a plugin archive
	classfiletest.WriteJar(t, filepath.Join(dir, "notes.txt"))
	path := writePlugin(t, dir, outdatedCheck())

	select {
	case r := <-reports:
		assert.Equal(t, path, r.path)
		assert.Equal(t, tt.NeedsMigration, r.verdict.Kind)
	case <-time.After(5 * time.Second):
		t.Fatal("no verdict reported")
	}
}

func TestStopWatchingWithoutStart(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	assert.Error(t, f.engine.StopWatching())
}

func TestStopWatchingWaitsForReports(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	dir := t.TempDir()

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var finished atomic.Int32
	require.NoError(t, f.engine.StartWatching(func(string, tt.Verdict) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		finished.Add(1)
	}, dir))
	writePlugin(t, dir, outdatedCheck())

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("no verdict reported")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- f.engine.StopWatching() }()
	select {
	case <-stopped:
		t.Fatal("StopWatching returned while a verdict was being reported")
	case <-time.After(3 * settle):
	}

	close(release)
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("StopWatching did not return")
	}
	done := finished.Load()
	assert.GreaterOrEqual(t, done, int32(1))

	time.Sleep(3 * settle)
	assert.Equal(t, done, finished.Load(), "verdict reported after StopWatching returned")
}

func TestStopWatchingOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	require.NoError(t, f.engine.StartWatching(nil, t.TempDir()))

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = f.engine.StopWatching()
		}()
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
			assert.EqualError(t, err, "not watching")
		}
	}
	assert.Equal(t, len(errs)-1, failed)
}
