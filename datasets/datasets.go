// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package datasets provides the samples fed to a backend during a benchmark run, and the evaluation of its
// outputs.
//
// Samples are loaded in memory before they are queried (LoadSamples), so loading time is not measured.
// A Dataset is created for a backend: the format of its samples follows the inputs of the backend.
package datasets

import (
	"fmt"

	"github.com/gomlx/mlbench/backends"
	"github.com/gomlx/mlbench/settings"
	"github.com/pkg/errors"
)

// MaxSamplesMemory is the memory budget, in bytes, of the samples loaded at once for the performance run.
const MaxSamplesMemory = 500_000_000

// Dataset provides the inputs of each sample, and processes the outputs of the backend.
//
// LoadSamples, UnloadSamples and ProcessOutput are called from the runner goroutine only. GetData can only be called
// for loaded samples.
type Dataset interface {
	// Name of the dataset.
	Name() string

	// TotalSampleCount is the number of samples in the dataset.
	TotalSampleCount() int

	// PerformanceSampleCount is the number of samples that fit in memory at once.
	PerformanceSampleCount() int

	// LoadSamples loads the given samples in memory.
	LoadSamples(indices []int) error

	// UnloadSamples releases the memory of the given samples.
	UnloadSamples(indices []int)

	// GetData returns the data of each input of a loaded sample.
	GetData(idx int) [][]byte

	// ProcessOutput processes the outputs of the backend for a sample, and returns the processed response.
	ProcessOutput(idx int, outputs [][]byte) []byte

	// HasAccuracy returns whether the dataset can compute the accuracy of the processed outputs.
	HasAccuracy() bool

	// ComputeAccuracy of the outputs processed so far, normalized to [0, 1]. It returns -1 if not available.
	ComputeAccuracy() float32

	// ComputeAccuracyString returns the accuracy formatted for display, or "N/A".
	ComputeAccuracyString() string
}

// Config selects and configures a dataset.
type Config struct {
	Type            settings.DatasetType
	DataPath        string
	GroundtruthPath string

	// Offset has a dataset specific meaning: the index of the first class for Imagenet, the number of samples for
	// Synthetic.
	Offset int

	// ImageWidth and ImageHeight are the size of the images fed to the backend.
	ImageWidth, ImageHeight int
}

// New creates the dataset described by config, with samples formatted for the inputs of the backend.
func New(config Config, backend backends.Backend) (Dataset, error) {
	switch config.Type {
	case settings.Synthetic:
		return NewSynthetic(backend, config.Offset), nil
	case settings.Imagenet:
		return NewImagenet(backend, config)
	default:
		return nil, errors.Errorf("dataset %s not supported, only %s and %s are implemented",
			config.Type, settings.Imagenet, settings.Synthetic)
	}
}

// inputFormat returns the data types of the inputs of the backend.
func inputFormat(backend backends.Backend) []backends.DataType {
	format := make([]backends.DataType, backend.InputCount())
	for i := range format {
		format[i] = backend.InputType(i)
	}
	return format
}

// outputFormat returns the data types of the outputs of the backend.
func outputFormat(backend backends.Backend) []backends.DataType {
	format := make([]backends.DataType, backend.OutputCount())
	for i := range format {
		format[i] = backend.OutputType(i)
	}
	return format
}

// performanceSampleCount returns how many samples of the given inputs format fit in MaxSamplesMemory, at most
// total and at least 1.
func performanceSampleCount(format []backends.DataType, total int) int {
	var sampleSize int
	for _, dtype := range format {
		sampleSize += dtype.ByteSize()
	}
	count := total
	if sampleSize > 0 {
		count = min(total, MaxSamplesMemory/sampleSize)
	}
	return max(count, 1)
}

// formatAccuracy formats a normalized accuracy as a percentage, or "N/A" if it's not positive.
func formatAccuracy(accuracy float32) string {
	if accuracy <= 0 {
		return "N/A"
	}
	return fmt.Sprintf("%.2f%%", accuracy*100)
}
