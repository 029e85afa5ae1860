// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package envelope

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testResult struct {
	Owner
	Message string
	Data    []byte
}

func newTestResult(tracker *Tracker) *testResult {
	r := &testResult{Message: "hello", Data: []byte{1, 2, 3}}
	Track(tracker, "testResult", r, &r.Owner)
	return r
}

func (r *testResult) Free() error {
	return r.Release(func() {
		r.Message = ""
		r.Data = nil
	})
}

func TestRelease(t *testing.T) {
	tracker := NewTracker("test")
	r := newTestResult(tracker)
	assert.Equal(t, int64(1), tracker.Issued())
	assert.Equal(t, int64(1), tracker.Outstanding())
	assert.False(t, r.Released())

	require.NoError(t, r.Free())
	assert.True(t, r.Released())
	assert.Empty(t, r.Message)
	assert.Nil(t, r.Data)
	assert.Equal(t, int64(0), tracker.Outstanding())

	err := r.Free()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyReleased))
	assert.Equal(t, int64(1), tracker.DoubleReleases())
	assert.Equal(t, int64(0), tracker.Outstanding())
	assert.Equal(t, int64(0), tracker.Leaks())

	var untracked testResult
	require.ErrorIs(t, untracked.Free(), ErrNotTracked)
}

func TestConcurrentRelease(t *testing.T) {
	tracker := NewTracker("test")
	r := newTestResult(tracker)
	const numGoroutines = 16
	var wg sync.WaitGroup
	errs := make([]error, numGoroutines)
	for i := range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = r.Free()
		}()
	}
	wg.Wait()
	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, ErrAlreadyReleased)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, int64(numGoroutines-1), tracker.DoubleReleases())
	assert.Equal(t, int64(0), tracker.Outstanding())
}

func TestLeak(t *testing.T) {
	tracker := NewTracker("test")
	func() {
		_ = newTestResult(tracker)
		released := newTestResult(tracker)
		require.NoError(t, released.Free())
	}()
	require.Eventually(t, func() bool {
		runtime.GC()
		return tracker.Leaks() == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(0), tracker.Outstanding())
	assert.Equal(t, int64(2), tracker.Issued())
}
