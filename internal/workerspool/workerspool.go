// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool spreads independent work items (e.g. the items of a batch) over goroutines,
// up to a maximum parallelism.
package workerspool

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Pool limits the number of extra goroutines running work items.
//
// The zero value runs everything inline in the caller's goroutine.
type Pool struct {
	mu sync.Mutex

	// maxParallelism <= 1 runs work inline, negative is unlimited.
	maxParallelism int
	busy           int
}

// New returns a Pool with parallelism runtime.NumCPU().
func New() *Pool {
	return &Pool{maxParallelism: runtime.NumCPU()}
}

// MaxParallelism returns the maximum number of work items processed at the same time.
// Negative means unlimited.
func (p *Pool) MaxParallelism() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxParallelism
}

// SetMaxParallelism changes the limit for the work started afterwards.
// 0 or 1 runs the work inline and negative values remove the limit.
func (p *Pool) SetMaxParallelism(maxParallelism int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maxParallelism = maxParallelism
}

// Busy returns the number of goroutines currently started by the pool.
func (p *Pool) Busy() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busy
}

// Go runs task in a new goroutine if the pool has room for it, and returns whether it did.
// The caller synchronizes with the end of the task.
func (p *Pool) Go(task func()) bool {
	p.mu.Lock()
	// The caller's goroutine counts as one of the maxParallelism workers.
	if p.maxParallelism >= 0 && p.busy+1 >= p.maxParallelism {
		p.mu.Unlock()
		return false
	}
	p.busy++
	p.mu.Unlock()
	go func() {
		defer func() {
			p.mu.Lock()
			p.busy--
			p.mu.Unlock()
		}()
		task()
	}()
	return true
}

// ParallelFor calls fn(i) for every i in [0, n) and returns when all calls finished.
//
// The calling goroutine also processes items, so it makes progress even if the pool is fully used
// by other callers.
func (p *Pool) ParallelFor(n int, fn func(i int)) {
	if n <= 0 {
		return
	}
	var next atomic.Int64
	work := func() {
		for i := int(next.Add(1) - 1); i < n; i = int(next.Add(1) - 1) {
			fn(i)
		}
	}
	var wg sync.WaitGroup
	for range n - 1 {
		wg.Add(1)
		started := p.Go(func() {
			defer wg.Done()
			work()
		})
		if !started {
			wg.Done()
			break
		}
	}
	work()
	wg.Wait()
}
