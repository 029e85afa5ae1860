// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package workerspool

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_Go(t *testing.T) {
	pool := &Pool{}
	assert.False(t, pool.Go(func() { t.Fatal("task started with parallelism 0") }))

	pool.SetMaxParallelism(3)
	release := make(chan struct{})
	var finished atomic.Int32
	task := func() {
		<-release
		finished.Add(1)
	}
	require.True(t, pool.Go(task))
	require.True(t, pool.Go(task))
	assert.False(t, pool.Go(task), "the caller counts as one of the 3 workers")
	assert.Equal(t, 2, pool.Busy())
	close(release)
	require.Eventually(t, func() bool { return pool.Busy() == 0 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(2), finished.Load())

	pool.SetMaxParallelism(-1)
	done := make(chan struct{})
	require.True(t, pool.Go(func() { close(done) }))
	<-done
}

func TestPool_ParallelFor(t *testing.T) {
	for _, parallelism := range []int{0, 1, 3, -1} {
		pool := New()
		pool.SetMaxParallelism(parallelism)
		const n = 100
		var calls [n]atomic.Int32
		pool.ParallelFor(n, func(i int) {
			calls[i].Add(1)
		})
		for i := range calls {
			assert.Equalf(t, int32(1), calls[i].Load(), "parallelism=%d, item %d", parallelism, i)
		}
	}

	pool := New()
	pool.SetMaxParallelism(2)
	var running, maxRunning atomic.Int32
	pool.ParallelFor(20, func(int) {
		r := running.Add(1)
		for {
			m := maxRunning.Load()
			if r <= m || maxRunning.CompareAndSwap(m, r) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		running.Add(-1)
	})
	assert.LessOrEqual(t, int(maxRunning.Load()), 2)
	pool.ParallelFor(0, func(int) { t.Fatal("fn called for n=0") })
}
