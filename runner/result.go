// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package runner

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/pkg/errors"
)

const (
	// SummaryFile is the name of the file with the JSON encoded Result, written in the run directory.
	SummaryFile = "summary.json"

	// AccuracyFile is the name of the file with the formatted accuracy, written in the run directory.
	AccuracyFile = "accuracy.txt"
)

// Accuracy of a run.
type Accuracy struct {
	// Normalized accuracy in [0, 1], or -1 if not available.
	Normalized float32 `json:"normalized"`
	Formatted  string  `json:"formatted"`
}

// LatencyStats summarizes the latencies of the queries of the performance pass.
type LatencyStats struct {
	Mean time.Duration `json:"mean_ns"`
	Min  time.Duration `json:"min_ns"`
	Max  time.Duration `json:"max_ns"`
	P50  time.Duration `json:"p50_ns"`
	P90  time.Duration `json:"p90_ns"`
	P99  time.Duration `json:"p99_ns"`
}

// Result of a run.
type Result struct {
	RunID       string `json:"run_id"`
	Backend     string `json:"backend"`
	Vendor      string `json:"vendor"`
	Accelerator string `json:"accelerator"`
	Dataset     string `json:"dataset"`
	Scenario    string `json:"scenario"`
	Mode        string `json:"mode"`
	BatchSize   int    `json:"batch_size"`

	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration_ns"`

	// NumSamples processed by the run, in both passes.
	NumSamples int `json:"num_samples"`

	// NumQueries of the performance pass.
	NumQueries int `json:"num_queries"`

	// QPS is the number of samples per second of the performance pass.
	QPS float64 `json:"qps"`

	Latency  *LatencyStats `json:"latency,omitempty"`
	Accuracy *Accuracy     `json:"accuracy,omitempty"`
	Aborted  bool          `json:"aborted"`

	// OutputPath is the directory where the results were written, if any.
	OutputPath string `json:"-"`
}

// setLatencies fills the latency statistics from the latencies of the queries of a pass of the given duration.
func (r *Result) setLatencies(latencies []time.Duration, duration time.Duration) {
	r.NumQueries = len(latencies)
	if len(latencies) == 0 {
		return
	}
	sorted := slices.Clone(latencies)
	slices.Sort(sorted)
	var sum time.Duration
	for _, l := range sorted {
		sum += l
	}
	r.Latency = &LatencyStats{
		Mean: sum / time.Duration(len(sorted)),
		Min:  sorted[0],
		Max:  sorted[len(sorted)-1],
		P50:  percentile(sorted, 0.5),
		P90:  percentile(sorted, 0.9),
		P99:  percentile(sorted, 0.99),
	}
	if duration > 0 {
		r.QPS = float64(len(latencies)*r.BatchSize) / duration.Seconds()
	}
}

// percentile of sorted latencies, using the nearest-rank method.
func percentile(sorted []time.Duration, p float64) time.Duration {
	rank := int(math.Ceil(p * float64(len(sorted))))
	return sorted[min(max(rank-1, 0), len(sorted)-1)]
}

// write the result files in outputDir/RunID, and returns that directory.
func (r *Result) write(outputDir string) (string, error) {
	dir := filepath.Join(outputDir, r.RunID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "failed to create results directory")
	}
	summary, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", errors.Wrapf(err, "failed to encode results of run %s", r.RunID)
	}
	if err := os.WriteFile(filepath.Join(dir, SummaryFile), summary, 0o644); err != nil {
		return "", errors.Wrapf(err, "failed to write results of run %s", r.RunID)
	}
	if r.Accuracy != nil {
		if err := os.WriteFile(filepath.Join(dir, AccuracyFile), []byte(r.Accuracy.Formatted+"\n"), 0o644); err != nil {
			return "", errors.Wrapf(err, "failed to write accuracy of run %s", r.RunID)
		}
	}
	return dir, nil
}
