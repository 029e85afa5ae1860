// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package bridge implements the calls a managed runtime (or the mlbench command line) makes into the benchmark:
// backend matching, tasks configuration conversion and benchmark runs, plus the progress queries of a running
// benchmark.
//
// Every call returns a non-nil result envelope, even on failure, in which case ErrorMessage is set and the other
// fields are zero. The caller owns the envelope and must call its Free method exactly once.
// The envelopes are counted by Tracker.
package bridge

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/mlbench/backends"
	"github.com/gomlx/mlbench/envelope"
	"github.com/gomlx/mlbench/runner"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Tracker counts the envelopes returned by the package.
var Tracker = envelope.NewTracker("bridge")

// table holds the backends created by RunBenchmark.
var table = backends.NewTable()

var (
	// datasetSize is the total number of samples of the dataset of the last run.
	datasetSize atomic.Int32

	// activeMu protects active, the runner of the benchmark in progress.
	activeMu sync.Mutex
	active   *runner.Runner

	// runMu makes sure only one benchmark runs at a time.
	runMu sync.Mutex
)

// DatasetSize returns the number of samples of the dataset of the current (or last) run, or 0 if no run
// was started.
func DatasetSize() int32 {
	return datasetSize.Load()
}

// QueryCounter returns the number of samples processed so far by the current run, or -1 if no run is in progress.
func QueryCounter() int32 {
	activeMu.Lock()
	defer activeMu.Unlock()
	if active == nil {
		return -1
	}
	return active.Counter()
}

// StopBackend aborts the current run, if any. The run returns the results collected so far.
func StopBackend() {
	activeMu.Lock()
	defer activeMu.Unlock()
	if active == nil {
		klog.V(1).Info("StopBackend called without a run in progress")
		return
	}
	active.Abort()
}

// setActive publishes r as the runner of the benchmark in progress. Use nil when the run is over.
func setActive(r *runner.Runner) {
	activeMu.Lock()
	defer activeMu.Unlock()
	active = r
}

// catchPanics runs fn and converts a panic into an error.
func catchPanics(fn func() error) (err error) {
	exception := exceptions.Try(func() { err = fn() })
	switch e := exception.(type) {
	case nil:
		return err
	case error:
		return errors.WithMessage(e, "panic")
	default:
		return errors.Errorf("panic: %v", e)
	}
}

// errorMessage formats err for ErrorMessage fields. The full error (with stack) is logged.
func errorMessage(op string, err error) string {
	klog.Errorf("%s failed: %+v", op, err)
	return fmt.Sprintf("%s: %v", op, err)
}
