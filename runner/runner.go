// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package runner drives a benchmark run: it feeds the samples of a dataset to a backend following a scenario,
// measures the latency of the queries, and computes the accuracy of the outputs.
//
// A Runner is used for one run. Its counter of processed samples and Abort can be called from other goroutines
// while it runs.
package runner

import (
	"context"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gomlx/mlbench/backends"
	"github.com/gomlx/mlbench/datasets"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// maxPreallocatedLatencies caps the latencies preallocated from the expected number of SingleStream queries.
const maxPreallocatedLatencies = 1 << 16

// Runner runs a benchmark of a backend with a dataset.
type Runner struct {
	backend backends.Backend
	dataset datasets.Dataset
	options Options

	counter atomic.Int32
	started atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	aborted bool

	latencies []time.Duration
}

// New creates a Runner. The backend and the dataset are owned by the caller, and must outlive the run.
func New(backend backends.Backend, dataset datasets.Dataset, options Options) *Runner {
	return &Runner{backend: backend, dataset: dataset, options: options}
}

// Counter returns the number of samples processed so far. Padding samples of Offline batches are not counted.
func (r *Runner) Counter() int32 {
	return r.counter.Load()
}

// ExpectedSamples returns the number of samples the run will process, or -1 if it depends on the time taken.
func (r *Runner) ExpectedSamples() int {
	if r.options.Mode == AccuracyOnly {
		return r.dataset.TotalSampleCount()
	}
	return -1
}

// Abort the run: it stops after the current query. Results of the samples processed so far are kept.
// It can be called before Run, in which case Run returns right away.
func (r *Runner) Abort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aborted = true
	if r.cancel != nil {
		r.cancel()
	}
}

// Run the benchmark. It can only be called once.
//
// Canceling ctx aborts the run, like Abort. An aborted run returns its partial Result with Aborted set.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if r.started.Swap(true) {
		return nil, errors.New("Runner.Run can only be called once")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.mu.Lock()
	r.cancel = cancel
	if r.aborted {
		cancel()
	}
	r.mu.Unlock()

	result := &Result{
		RunID:       uuid.NewString(),
		Backend:     r.backend.Name(),
		Vendor:      r.backend.Vendor(),
		Accelerator: r.backend.AcceleratorName(),
		Dataset:     r.dataset.Name(),
		Scenario:    r.options.Scenario.String(),
		Mode:        r.options.Mode.String(),
		BatchSize:   r.options.batchSize(),
		StartTime:   time.Now(),
	}
	klog.V(1).Infof("run %s: %s/%s of backend %q (%s) with dataset %s of %d samples", result.RunID,
		result.Scenario, result.Mode, result.Backend, result.Accelerator, result.Dataset,
		r.dataset.TotalSampleCount())

	var err error
	if r.options.Mode == AccuracyOnly || r.options.Mode == SubmissionRun {
		err = r.accuracyPass(ctx)
		if err == nil && r.dataset.HasAccuracy() {
			result.Accuracy = &Accuracy{
				Normalized: r.dataset.ComputeAccuracy(),
				Formatted:  r.dataset.ComputeAccuracyString(),
			}
		}
	}
	if err == nil && (r.options.Mode == PerformanceOnly || r.options.Mode == SubmissionRun) {
		var performanceDuration time.Duration
		performanceDuration, err = r.performancePass(ctx)
		result.setLatencies(r.latencies, performanceDuration)
	}
	result.Duration = time.Since(result.StartTime)
	result.NumSamples = int(r.Counter())
	result.Aborted = ctx.Err() != nil
	if err != nil {
		return nil, errors.WithMessagef(err, "run %s failed after %d samples", result.RunID, result.NumSamples)
	}
	if r.options.OutputDir != "" {
		if result.OutputPath, err = result.write(r.options.OutputDir); err != nil {
			return nil, err
		}
	}
	klog.V(1).Infof("run %s: %d samples in %s, aborted=%v", result.RunID, result.NumSamples, result.Duration,
		result.Aborted)
	return result, nil
}

// performanceSampleSet returns the random selection of the samples that fit in memory, in random order.
func (r *Runner) performanceSampleSet() []int {
	total := r.dataset.TotalSampleCount()
	count := min(r.dataset.PerformanceSampleCount(), total)
	seed := r.options.seed()
	rng := rand.New(rand.NewPCG(seed, seed>>1))
	return rng.Perm(total)[:count]
}

// performancePass issues queries until the stopping criteria are met, and returns the time it took.
func (r *Runner) performancePass(ctx context.Context) (time.Duration, error) {
	samples := r.performanceSampleSet()
	if len(samples) == 0 {
		return 0, errors.Errorf("dataset %s has no samples", r.dataset.Name())
	}
	if err := r.dataset.LoadSamples(samples); err != nil {
		return 0, errors.WithMessage(err, "failed to load the performance samples")
	}
	defer r.dataset.UnloadSamples(samples)

	if r.options.Scenario == SingleStream && r.options.SingleStreamExpectedLatency > 0 {
		expected := int(r.options.MinDuration / r.options.SingleStreamExpectedLatency)
		r.latencies = make([]time.Duration, 0, min(max(expected, r.options.MinQueryCount), maxPreallocatedLatencies))
	}
	batchSize := r.options.batchSize()
	start := time.Now()
	var issued, next int
	for ctx.Err() == nil {
		elapsed := time.Since(start)
		if r.options.MaxDuration > 0 && elapsed >= r.options.MaxDuration {
			break
		}
		if issued > 0 && issued >= r.options.MinQueryCount && elapsed >= r.options.MinDuration {
			break
		}
		query := make([]int, 0, batchSize)
		for range batchSize {
			query = append(query, samples[next%len(samples)])
			next++
		}
		latency, err := r.issue(query)
		if err != nil {
			return time.Since(start), err
		}
		r.latencies = append(r.latencies, latency)
		issued += len(query)
	}
	return time.Since(start), nil
}

// accuracyPass runs every sample of the dataset exactly once, loading as many samples as fit in memory at a time.
func (r *Runner) accuracyPass(ctx context.Context) error {
	total := r.dataset.TotalSampleCount()
	chunkSize := max(r.dataset.PerformanceSampleCount(), 1)
	batchSize := r.options.batchSize()
	for chunkStart := 0; chunkStart < total && ctx.Err() == nil; chunkStart += chunkSize {
		chunk := make([]int, min(chunkSize, total-chunkStart))
		for i := range chunk {
			chunk[i] = chunkStart + i
		}
		if err := r.dataset.LoadSamples(chunk); err != nil {
			return errors.WithMessagef(err, "failed to load samples %d to %d", chunk[0], chunk[len(chunk)-1])
		}
		for query := range slices.Chunk(chunk, batchSize) {
			if ctx.Err() != nil {
				break
			}
			if _, err := r.issue(query); err != nil {
				r.dataset.UnloadSamples(chunk)
				return err
			}
		}
		r.dataset.UnloadSamples(chunk)
	}
	return nil
}

// issue runs one query with the samples. If there are fewer samples than the batch size (Offline), the batch is
// padded with the last sample, and the outputs of the padding are discarded.
func (r *Runner) issue(samples []int) (latency time.Duration, err error) {
	scenario := r.options.Scenario.String()
	backendName := r.backend.Name()
	defer func() {
		queriesCounter.WithLabelValues(backendName, scenario).Inc()
		if err != nil {
			queryFailuresCounter.WithLabelValues(backendName, scenario).Inc()
		} else {
			queryLatencyHistogram.WithLabelValues(backendName, scenario).Observe(latency.Seconds())
		}
	}()

	start := time.Now()
	numInputs := r.backend.InputCount()
	for slot := range r.options.batchSize() {
		idx := samples[min(slot, len(samples)-1)]
		data := r.dataset.GetData(idx)
		if len(data) != numInputs {
			return 0, errors.Errorf("sample %d has %d inputs, backend %q requires %d", idx, len(data), backendName,
				numInputs)
		}
		for i, input := range data {
			if err := r.backend.SetInput(slot, i, input).Err("SetInput"); err != nil {
				return 0, errors.WithMessagef(err, "sample %d, input #%d", idx, i)
			}
		}
	}
	if err := r.backend.IssueQuery().Err("IssueQuery"); err != nil {
		return 0, err
	}
	numOutputs := r.backend.OutputCount()
	for slot, idx := range samples {
		outputs := make([][]byte, numOutputs)
		for i := range outputs {
			output, status := r.backend.GetOutput(slot, i)
			if err := status.Err("GetOutput"); err != nil {
				return 0, errors.WithMessagef(err, "sample %d, output #%d", idx, i)
			}
			outputs[i] = output
		}
		r.dataset.ProcessOutput(idx, outputs)
		r.counter.Add(1)
	}
	if err := r.backend.FlushQueries().Err("FlushQueries"); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}
