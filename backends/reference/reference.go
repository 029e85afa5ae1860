// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package reference implements a pure Go backend that runs tiny models described in protobuf text format
// (see settings.ReferenceModel) on the CPU.
//
// It runs on any device and needs no native library, so it is used to benchmark the benchmark itself,
// and to test the whole pipeline end-to-end.
//
// Simply import it with import _ "github.com/gomlx/mlbench/backends/reference" to make it available in your program.
// It will register itself as an available backend library during initialization.
package reference

import (
	"os"
	"sync"

	"github.com/gomlx/mlbench/backends"
	"github.com/gomlx/mlbench/internal/workerspool"
	"github.com/gomlx/mlbench/settings"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// LibraryName is the name under which the library is registered.
	LibraryName = "reference"

	// Vendor reported by the backend.
	Vendor = "GoMLX"

	// SettingsDocument is the name of the settings document with the default settings.
	SettingsDocument = "reference"

	// NumThreadsKey is the configuration key with the number of threads to use. 0 means all cores.
	NumThreadsKey = "num_threads"
)

// Library is the reference backends.Library.
type Library struct{}

var _ backends.Library = Library{}

// Registers the reference library.
func init() {
	backends.Register(Library{})
}

// Name returns LibraryName.
func (Library) Name() string { return LibraryName }

// MatchesHardware matches any device, and returns the settings from the SettingsDocument.
func (Library) MatchesHardware(_ backends.DeviceInfo, _ string) backends.MatchResult {
	doc, err := settings.LoadDocument(SettingsDocument)
	if err != nil {
		return backends.MatchResult{NotAllowedMessage: err.Error()}
	}
	return backends.MatchResult{Matches: true, Settings: doc.Text}
}

// Create loads the reference model in modelPath.
func (Library) Create(modelPath string, config *backends.Configuration, _ string) (backends.Backend, error) {
	localPath, err := settings.LocalPath(modelPath)
	if err != nil {
		return nil, err
	}
	contents, err := os.ReadFile(localPath)
	if err != nil {
		return nil, errors.Wrapf(err, "backend %q: failed to read model", LibraryName)
	}
	model, err := settings.ParseReferenceModel(string(contents))
	if err != nil {
		return nil, errors.WithMessagef(err, "backend %q: model %q", LibraryName, modelPath)
	}
	return New(model, config)
}

// Backend runs a settings.ReferenceModel.
type Backend struct {
	model       *settings.ReferenceModel
	accelerator string
	batchSize   int
	pool        *workerspool.Pool

	inputs, outputs [][]byte
	bound           []bool
	hasOutputs      bool
}

var _ backends.Backend = (*Backend)(nil)

// New creates a Backend for the model, configured with the batch size and number of threads of config.
func New(model *settings.ReferenceModel, config *backends.Configuration) (*Backend, error) {
	if err := model.Validate(); err != nil {
		return nil, err
	}
	if config == nil {
		config = &backends.Configuration{}
	}
	b := &Backend{
		model:       model,
		accelerator: config.Accelerator,
		batchSize:   config.EffectiveBatchSize(),
		pool:        workerspool.New(),
	}
	if b.accelerator == "" {
		b.accelerator = "cpu"
	}
	if b.accelerator != "cpu" {
		return nil, errors.Errorf("backend %q only supports the accelerator \"cpu\", got %q",
			LibraryName, config.Accelerator)
	}
	numThreads, err := config.GetInt(NumThreadsKey, 0)
	if err != nil {
		return nil, err
	}
	if numThreads > 0 {
		b.pool.SetMaxParallelism(numThreads)
	}
	b.inputs = make([][]byte, b.batchSize)
	b.outputs = make([][]byte, b.batchSize)
	b.bound = make([]bool, b.batchSize)
	for i := range b.batchSize {
		b.inputs[i] = make([]byte, model.Input.ByteSize())
		b.outputs[i] = make([]byte, model.Output.ByteSize())
	}
	klog.V(1).Infof("backend %q: model %q (%s, %s -> %s), batch size %d, parallelism %d",
		LibraryName, model.Name, model.Op, model.Input, model.Output, b.batchSize, b.pool.MaxParallelism())
	return b, nil
}

// Name returns LibraryName.
func (b *Backend) Name() string { return LibraryName }

// Vendor returns Vendor.
func (b *Backend) Vendor() string { return Vendor }

// AcceleratorName returns the accelerator, always "cpu".
func (b *Backend) AcceleratorName() string { return b.accelerator }

// InputCount returns 1.
func (b *Backend) InputCount() int { return 1 }

// OutputCount returns 1.
func (b *Backend) OutputCount() int { return 1 }

// InputType returns the model input type.
func (b *Backend) InputType(int) backends.DataType { return b.model.Input }

// OutputType returns the model output type.
func (b *Backend) OutputType(int) backends.DataType { return b.model.Output }

// BatchSize returns the batch size of the queries.
func (b *Backend) BatchSize() int { return b.batchSize }

// SetInput copies the data of the batch item.
func (b *Backend) SetInput(batchIndex, i int, data []byte) backends.Status {
	if b.model == nil || i != 0 || batchIndex < 0 || batchIndex >= b.batchSize {
		return backends.Failure
	}
	if len(data) != len(b.inputs[batchIndex]) {
		klog.Errorf("backend %q: SetInput(%d, %d) got %d bytes, wanted %d", LibraryName, batchIndex, i,
			len(data), len(b.inputs[batchIndex]))
		return backends.Failure
	}
	copy(b.inputs[batchIndex], data)
	b.bound[batchIndex] = true
	return backends.Success
}

// IssueQuery runs the model on every item of the batch, in parallel. All items of the batch must be bound.
func (b *Backend) IssueQuery() backends.Status {
	if b.model == nil {
		return backends.Failure
	}
	for batchIndex, bound := range b.bound {
		if !bound {
			klog.Errorf("backend %q: IssueQuery with batch item %d not set", LibraryName, batchIndex)
			return backends.Failure
		}
	}
	var (
		mu       sync.Mutex
		firstErr error
	)
	b.pool.ParallelFor(b.batchSize, func(batchIndex int) {
		if err := b.run(b.inputs[batchIndex], b.outputs[batchIndex]); err != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
		}
	})
	if firstErr != nil {
		klog.Errorf("backend %q: %+v", LibraryName, firstErr)
		b.hasOutputs = false
		return backends.Failure
	}
	b.hasOutputs = true
	return backends.Success
}

func (b *Backend) run(input, output []byte) error {
	x, err := backends.ToFloat32(b.model.Input.Type, input)
	if err != nil {
		return err
	}
	var y []float32
	switch b.model.Op {
	case settings.Identity:
		y = x
	case settings.Dense:
		outSize := int(b.model.Output.Size)
		y = make([]float32, outSize)
		copy(y, b.model.Bias)
		for i, xi := range x {
			row := b.model.Weights[i*outSize : (i+1)*outSize]
			for j, w := range row {
				y[j] += xi * w
			}
		}
	default:
		return errors.Errorf("unknown op %s", b.model.Op)
	}
	return backends.FromFloat32(b.model.Output.Type, y, output)
}

// GetOutput returns the output of the batch item of the last query.
func (b *Backend) GetOutput(batchIndex, i int) ([]byte, backends.Status) {
	if b.model == nil || !b.hasOutputs || i != 0 || batchIndex < 0 || batchIndex >= b.batchSize {
		return nil, backends.Failure
	}
	return b.outputs[batchIndex], backends.Success
}

// FlushQueries is a no-op, queries are synchronous.
func (b *Backend) FlushQueries() backends.Status {
	if b.model == nil {
		return backends.Failure
	}
	return backends.Success
}

// Delete releases the buffers.
func (b *Backend) Delete() {
	b.model = nil
	b.inputs = nil
	b.outputs = nil
	b.bound = nil
	b.hasOutputs = false
}
