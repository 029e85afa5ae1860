// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"time"

	"github.com/gomlx/mlbench/datasets"
	"github.com/gomlx/mlbench/envelope"
	"github.com/gomlx/mlbench/runner"
	"github.com/gomlx/mlbench/settings"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// RunBenchmarkIn describes one benchmark run. It is owned by the caller: RunBenchmark doesn't keep any
// reference to it.
//
// It can be decoded from TOML, except for BackendSettings, which is binary.
type RunBenchmarkIn struct {
	// BackendModelPath is the path of the model, possibly with the "local://" scheme (see settings.LocalPath).
	BackendModelPath string `toml:"backend_model_path"`

	// BackendLibName is the name of the backend library to use. If empty, the default library is used.
	BackendLibName string `toml:"backend_lib_name"`

	// BackendSettings is the binary serialized settings.SettingList of the benchmark.
	BackendSettings []byte `toml:"-"`

	// BackendNativeLibPath is an optional directory with the native libraries of the backend.
	BackendNativeLibPath string `toml:"backend_native_lib_path"`

	DatasetType            settings.DatasetType `toml:"dataset_type"`
	DatasetDataPath        string               `toml:"dataset_data_path"`
	DatasetGroundtruthPath string               `toml:"dataset_groundtruth_path"`
	DatasetOffset          int                  `toml:"dataset_offset"`
	ImageWidth             int                  `toml:"image_width"`
	ImageHeight            int                  `toml:"image_height"`

	// Scenario is "SingleStream" (default) or "Offline".
	Scenario string `toml:"scenario"`

	// Mode is "PerformanceOnly" (default), "AccuracyOnly" or "SubmissionRun".
	Mode string `toml:"mode"`

	// BatchSize overrides the batch size of the settings if > 0.
	BatchSize int `toml:"batch_size"`

	MinQueryCount               int           `toml:"min_query_count"`
	MinDuration                 time.Duration `toml:"min_duration"`
	MaxDuration                 time.Duration `toml:"max_duration"`
	SingleStreamExpectedLatency time.Duration `toml:"single_stream_expected_latency"`

	// OutputDir where the results are written. If empty, no files are written.
	OutputDir string `toml:"output_dir"`
}

// Accuracy of a run.
type Accuracy = runner.Accuracy

// RunResult is returned by RunBenchmark.
type RunResult struct {
	envelope.Owner

	RunOK        bool
	ErrorMessage string

	// Accuracy1 is the main accuracy metric, and Accuracy2 the secondary one, if the dataset has one.
	// They are nil if not computed.
	Accuracy1, Accuracy2 *Accuracy

	// NumSamples processed, and Duration of the whole run.
	NumSamples int32
	Duration   time.Duration

	BackendName, BackendVendor, AcceleratorName string

	RunID string

	// Aborted is set if the run was stopped by StopBackend (or by its context) before completion.
	Aborted bool

	// Details holds the complete result of the runner.
	Details *runner.Result
}

func newRunResult() *RunResult {
	r := &RunResult{}
	envelope.Track(Tracker, "RunResult", r, &r.Owner)
	return r
}

// clearFields resets everything but the envelope ownership.
func (r *RunResult) clearFields() {
	owner := r.Owner
	*r = RunResult{Owner: owner}
}

// Free releases the result. It must be called exactly once.
func (r *RunResult) Free() error {
	return r.Release(r.clearFields)
}

// RunBenchmark runs the benchmark described by in. See RunBenchmarkContext.
func RunBenchmark(in *RunBenchmarkIn) *RunResult {
	return RunBenchmarkContext(context.Background(), in)
}

// RunBenchmarkContext creates the backend, loads the dataset and runs the benchmark described by in.
//
// Only one benchmark runs at a time: it fails if another one is in progress. While it runs, QueryCounter
// reports its progress, and StopBackend (or canceling ctx) aborts it.
func RunBenchmarkContext(ctx context.Context, in *RunBenchmarkIn) *RunResult {
	result := newRunResult()
	var err error
	switch {
	case in == nil:
		err = errors.New("nil RunBenchmarkIn")
	case !runMu.TryLock():
		err = errors.New("another benchmark is already running")
	default:
		err = catchPanics(func() error { return runBenchmark(ctx, in, result) })
		runMu.Unlock()
	}
	if err != nil {
		result.clearFields()
		result.ErrorMessage = errorMessage("RunBenchmark", err)
	}
	return result
}

// options returns the runner options of the run.
func (in *RunBenchmarkIn) options(batchSize int) (runner.Options, error) {
	mode := runner.PerformanceOnly
	if in.Mode != "" {
		var err error
		if mode, err = runner.ParseMode(in.Mode); err != nil {
			return runner.Options{}, err
		}
	}
	return runner.Options{
		Scenario:                    runner.ParseScenario(in.Scenario),
		Mode:                        mode,
		BatchSize:                   batchSize,
		MinQueryCount:               in.MinQueryCount,
		MinDuration:                 in.MinDuration,
		MaxDuration:                 in.MaxDuration,
		SingleStreamExpectedLatency: in.SingleStreamExpectedLatency,
		OutputDir:                   in.OutputDir,
	}, nil
}

func runBenchmark(ctx context.Context, in *RunBenchmarkIn, result *RunResult) error {
	settingList, err := settings.ParseSettingList(in.BackendSettings)
	if err != nil {
		return err
	}
	config, err := settingList.Configuration()
	if err != nil {
		return err
	}
	if in.BatchSize > 0 {
		config.BatchSize = in.BatchSize
	}
	options, err := in.options(config.EffectiveBatchSize())
	if err != nil {
		return err
	}
	if options.Scenario == runner.SingleStream {
		// Only the Offline scenario issues batches.
		config.BatchSize = 1
	}
	library, err := lookupLibrary(in.BackendLibName)
	if err != nil {
		return err
	}

	handle, err := table.Create(library, in.BackendModelPath, config, in.BackendNativeLibPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := table.Delete(handle); err != nil {
			klog.Errorf("RunBenchmark: %+v", err)
		}
	}()
	backend := table.Backend(handle)

	dataset, err := datasets.New(datasets.Config{
		Type:            in.DatasetType,
		DataPath:        in.DatasetDataPath,
		GroundtruthPath: in.DatasetGroundtruthPath,
		Offset:          in.DatasetOffset,
		ImageWidth:      in.ImageWidth,
		ImageHeight:     in.ImageHeight,
	}, backend)
	if err != nil {
		return err
	}
	datasetSize.Store(int32(dataset.TotalSampleCount()))

	r := runner.New(backend, dataset, options)
	setActive(r)
	defer setActive(nil)
	runResult, err := r.Run(ctx)
	if err != nil {
		return err
	}

	result.RunOK = true
	result.Accuracy1 = runResult.Accuracy
	result.NumSamples = int32(runResult.NumSamples)
	result.Duration = runResult.Duration
	result.BackendName = runResult.Backend
	result.BackendVendor = runResult.Vendor
	result.AcceleratorName = runResult.Accelerator
	result.RunID = runResult.RunID
	result.Aborted = runResult.Aborted
	result.Details = runResult
	klog.Infof("RunBenchmark: run %s of %q (%s) processed %d samples in %s", result.RunID, result.BackendName,
		result.AcceleratorName, result.NumSamples, result.Duration)
	return nil
}

// NewRunBenchmarkIn returns the description of a run of the benchmark benchmarkID, with the backend settings
// for the device (as returned by BackendMatch in MatchResult.PBData).
//
// The model path and the batch size are taken from the settings of the benchmark. The other fields are left
// for the caller to fill.
func NewRunBenchmarkIn(libName string, backendSettings []byte, benchmarkID string) (*RunBenchmarkIn, error) {
	backendSetting, err := settings.UnmarshalBackendSetting(backendSettings)
	if err != nil {
		return nil, err
	}
	settingList, err := settings.NewSettingList(backendSetting, benchmarkID)
	if err != nil {
		return nil, err
	}
	data, err := settingList.Marshal()
	if err != nil {
		return nil, err
	}
	return &RunBenchmarkIn{
		BackendModelPath: settingList.BenchmarkSetting.ModelPath,
		BackendLibName:   libName,
		BackendSettings:  data,
		BatchSize:        int(settingList.BenchmarkSetting.BatchSize),
	}, nil
}
