// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package runner

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Scenario is the pattern of the queries issued to the backend.
type Scenario int

const (
	// SingleStream issues one sample per query, waiting for each query to finish before issuing the next.
	SingleStream Scenario = iota

	// Offline issues batches of samples.
	Offline
)

// String implements fmt.Stringer.
func (s Scenario) String() string {
	if s == Offline {
		return "Offline"
	}
	return "SingleStream"
}

// ParseScenario returns Offline for "Offline" (case-insensitive), and SingleStream for anything else.
func ParseScenario(name string) Scenario {
	if strings.EqualFold(strings.TrimSpace(name), Offline.String()) {
		return Offline
	}
	return SingleStream
}

// Mode selects what is measured by a run.
type Mode int

const (
	// PerformanceOnly measures the latency of the queries.
	PerformanceOnly Mode = iota

	// AccuracyOnly runs every sample of the dataset exactly once, and computes the accuracy.
	AccuracyOnly

	// SubmissionRun runs the accuracy pass followed by the performance pass.
	SubmissionRun
)

var modeNames = []string{"PerformanceOnly", "AccuracyOnly", "SubmissionRun"}

// String implements fmt.Stringer.
func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return "UnknownMode"
	}
	return modeNames[m]
}

// ParseMode parses the name of a Mode, case-insensitive.
func ParseMode(name string) (Mode, error) {
	for i, n := range modeNames {
		if strings.EqualFold(strings.TrimSpace(name), n) {
			return Mode(i), nil
		}
	}
	return PerformanceOnly, errors.Errorf("mode %q is not supported, valid modes are %q", name, modeNames)
}

// DefaultSeed is used to select and order the samples of the performance run if Options.Seed is 0.
const DefaultSeed = 3066443479025735752

// Options of a benchmark run.
type Options struct {
	Scenario Scenario
	Mode     Mode

	// BatchSize of the Offline queries. It must match the batch size the backend was created with.
	BatchSize int

	// The performance run stops when both MinQueryCount samples were issued and MinDuration elapsed, or when
	// MaxDuration (if > 0) elapsed.
	MinQueryCount int
	MinDuration   time.Duration
	MaxDuration   time.Duration

	// SingleStreamExpectedLatency is a hint of the latency of one SingleStream query.
	SingleStreamExpectedLatency time.Duration

	// OutputDir where to write the results. If empty, no files are written.
	OutputDir string

	// Seed of the random selection of the performance samples.
	Seed uint64
}

// batchSize is the number of samples per query.
func (o *Options) batchSize() int {
	if o.Scenario != Offline || o.BatchSize < 1 {
		return 1
	}
	return o.BatchSize
}

func (o *Options) seed() uint64 {
	if o.Seed == 0 {
		return DefaultSeed
	}
	return o.Seed
}
