// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package envelope implements the ownership discipline of the results returned across the library boundary:
// every result (an "envelope") is issued by a Tracker and must be released exactly once.
//
// A second release returns ErrAlreadyReleased and is logged as a defect. An envelope garbage collected without
// being released is logged as a leak. The Tracker keeps the counts, so tests can check the discipline is kept.
//
// Results embed an Owner and call Track when created:
//
//	type Result struct {
//		envelope.Owner
//		Message string
//	}
//
//	func NewResult() *Result {
//		r := &Result{}
//		envelope.Track(tracker, "Result", r, &r.Owner)
//		return r
//	}
//
//	func (r *Result) Free() error {
//		return r.Release(func() { r.Message = "" })
//	}
package envelope

import (
	"runtime"
	"sync/atomic"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrAlreadyReleased is returned when releasing an envelope a second time.
var ErrAlreadyReleased = errors.New("envelope already released")

// ErrNotTracked is returned when releasing an envelope that was never given to Track.
var ErrNotTracked = errors.New("envelope not tracked")

// Tracker counts the envelopes issued, outstanding, released twice and leaked.
// It is safe for concurrent use.
type Tracker struct {
	name                                       string
	issued, outstanding, doubleReleases, leaks atomic.Int64
}

// NewTracker creates a Tracker. The name is used in the log messages.
func NewTracker(name string) *Tracker {
	return &Tracker{name: name}
}

// Name of the tracker.
func (t *Tracker) Name() string { return t.name }

// Issued returns the number of envelopes ever tracked.
func (t *Tracker) Issued() int64 { return t.issued.Load() }

// Outstanding returns the number of envelopes tracked and not yet released or collected.
func (t *Tracker) Outstanding() int64 { return t.outstanding.Load() }

// DoubleReleases returns the number of attempts to release an envelope already released.
func (t *Tracker) DoubleReleases() int64 { return t.doubleReleases.Load() }

// Leaks returns the number of envelopes garbage collected without being released.
func (t *Tracker) Leaks() int64 { return t.leaks.Load() }

// ownerState is allocated apart from the envelope, so the leak cleanup doesn't keep the envelope alive.
type ownerState struct {
	tracker  *Tracker
	kind     string
	released atomic.Bool
}

// Owner is embedded in envelopes, and records whether the envelope was released.
//
// The zero value is not tracked: use Track when creating the envelope.
type Owner struct {
	state   *ownerState
	cleanup runtime.Cleanup
}

// Track starts tracking the envelope, which embeds (or holds) the owner. The kind is used in log messages.
//
// If the envelope is garbage collected before owner.Release is called, a leak is logged and counted.
func Track[T any](tracker *Tracker, kind string, envelope *T, owner *Owner) {
	state := &ownerState{tracker: tracker, kind: kind}
	owner.state = state
	tracker.issued.Add(1)
	tracker.outstanding.Add(1)
	owner.cleanup = runtime.AddCleanup(envelope, func(state *ownerState) {
		if state.released.Load() {
			return
		}
		state.tracker.leaks.Add(1)
		state.tracker.outstanding.Add(-1)
		klog.Warningf("%s: %s envelope garbage collected without being released, its resources leaked",
			state.tracker.name, state.kind)
	}, state)
}

// Released returns whether Release was already called.
func (o *Owner) Released() bool {
	return o.state != nil && o.state.released.Load()
}

// Release marks the envelope as released and calls clear (if not nil) to release the owned fields.
//
// Only the first call succeeds: following calls return ErrAlreadyReleased, and clear is not called again.
func (o *Owner) Release(clear func()) error {
	state := o.state
	if state == nil {
		return errors.WithStack(ErrNotTracked)
	}
	if !state.released.CompareAndSwap(false, true) {
		state.tracker.doubleReleases.Add(1)
		klog.Errorf("%s: %s envelope released more than once", state.tracker.name, state.kind)
		return errors.Wrapf(ErrAlreadyReleased, "%s envelope", state.kind)
	}
	o.cleanup.Stop()
	state.tracker.outstanding.Add(-1)
	if clear != nil {
		clear()
	}
	return nil
}
