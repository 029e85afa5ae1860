// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xla

import (
	"os"
	"unsafe"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/pjrt"
	"github.com/gomlx/mlbench/backends"
	"github.com/gomlx/mlbench/settings"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

// Backend executes a compiled StableHLO program on one device of a PJRT client.
type Backend struct {
	plugin     *pjrt.Plugin
	client     *pjrt.Client
	exec       *pjrt.LoadedExecutable
	pluginName string
	batchSize  int

	inputShapes, outputShapes []TensorShape
	inputs, outputs           [][]byte
	hasOutputs                bool
}

var _ backends.Backend = (*Backend)(nil)

// Create compiles the StableHLO program in modelPath with the PJRT plugin named by the accelerator.
func (Library) Create(modelPath string, config *backends.Configuration, _ string) (backends.Backend, error) {
	inputShapes, err := ParseTensorShapes(config.GetOr(InputsKey, ""))
	if err != nil {
		return nil, errors.WithMessagef(err, "backend %q: configuration %q", LibraryName, InputsKey)
	}
	outputShapes, err := ParseTensorShapes(config.GetOr(OutputsKey, ""))
	if err != nil {
		return nil, errors.WithMessagef(err, "backend %q: configuration %q", LibraryName, OutputsKey)
	}
	for _, shape := range append(inputShapes, outputShapes...) {
		if toDType(shape.Type) == dtypes.InvalidDType {
			return nil, errors.Errorf("backend %q: element type %s not supported", LibraryName, shape.Type)
		}
	}
	pluginName, err := selectPlugin(config.Accelerator, AvailablePlugins())
	if err != nil {
		return nil, err
	}
	localPath, err := settings.LocalPath(modelPath)
	if err != nil {
		return nil, err
	}
	program, err := os.ReadFile(localPath)
	if err != nil {
		return nil, errors.Wrapf(err, "backend %q: failed to read StableHLO program", LibraryName)
	}

	b := &Backend{
		pluginName:   pluginName,
		batchSize:    config.EffectiveBatchSize(),
		inputShapes:  inputShapes,
		outputShapes: outputShapes,
	}
	b.inputs = b.allocate(inputShapes)
	b.outputs = b.allocate(outputShapes)
	b.plugin, err = pjrt.GetPlugin(pluginName)
	if err != nil {
		return nil, errors.WithMessagef(err, "backend %q", LibraryName)
	}
	b.client, err = b.plugin.NewClient(nil)
	if err != nil {
		return nil, errors.WithMessagef(err, "backend %q", LibraryName)
	}
	if len(b.client.AddressableDevices()) == 0 {
		b.Delete()
		return nil, errors.Errorf("backend %q: plugin %q has no addressable devices", LibraryName, pluginName)
	}
	b.exec, err = b.client.Compile().WithStableHLO(program).Done()
	if err != nil {
		b.Delete()
		return nil, errors.WithMessagef(err, "backend %q: failed to compile %q", LibraryName, localPath)
	}
	klog.V(1).Infof("backend %q: program %q compiled with plugin %q, inputs %v, outputs %v, batch size %d",
		LibraryName, localPath, pluginName, inputShapes, outputShapes, b.batchSize)
	return b, nil
}

// allocate the host buffers holding the whole batch of each tensor.
func (b *Backend) allocate(shapes []TensorShape) [][]byte {
	buffers := make([][]byte, len(shapes))
	for i, shape := range shapes {
		buffers[i] = make([]byte, shape.DataType().ByteSize()*b.batchSize)
	}
	return buffers
}

// Name returns LibraryName.
func (b *Backend) Name() string { return LibraryName }

// Vendor returns Vendor.
func (b *Backend) Vendor() string { return Vendor }

// AcceleratorName returns the name of the PJRT plugin used.
func (b *Backend) AcceleratorName() string { return b.pluginName }

// InputCount returns the number of parameters of the program.
func (b *Backend) InputCount() int { return len(b.inputShapes) }

// OutputCount returns the number of outputs of the program.
func (b *Backend) OutputCount() int { return len(b.outputShapes) }

// InputType returns the type of one item of the input i.
func (b *Backend) InputType(i int) backends.DataType { return b.inputShapes[i].DataType() }

// OutputType returns the type of one item of the output i.
func (b *Backend) OutputType(i int) backends.DataType { return b.outputShapes[i].DataType() }

func item(buffer []byte, dtype backends.DataType, batchIndex int) []byte {
	size := dtype.ByteSize()
	return buffer[batchIndex*size : (batchIndex+1)*size]
}

// SetInput copies the data into the host buffer of the input.
func (b *Backend) SetInput(batchIndex, i int, data []byte) backends.Status {
	if i < 0 || i >= len(b.inputs) || batchIndex < 0 || batchIndex >= b.batchSize {
		return backends.Failure
	}
	dst := item(b.inputs[i], b.InputType(i), batchIndex)
	if len(data) != len(dst) {
		klog.Errorf("backend %q: SetInput(%d, %d) got %d bytes, wanted %d", LibraryName, batchIndex, i, len(data), len(dst))
		return backends.Failure
	}
	copy(dst, data)
	return backends.Success
}

// IssueQuery transfers the inputs to the device, executes the program and transfers the outputs back to the host.
func (b *Backend) IssueQuery() backends.Status {
	b.hasOutputs = false
	if err := b.execute(); err != nil {
		klog.Errorf("%+v", err)
		return backends.Failure
	}
	b.hasOutputs = true
	return backends.Success
}

func (b *Backend) execute() error {
	if b.exec == nil {
		return errors.Errorf("backend %q: already deleted", LibraryName)
	}
	deviceInputs := make([]*pjrt.Buffer, 0, len(b.inputs))
	defer func() {
		for _, buffer := range deviceInputs {
			destroyBuffer(buffer)
		}
	}()
	for i, shape := range b.inputShapes {
		buffer, err := b.client.BufferFromHost().
			FromFlatDataWithDimensions(flatView(shape.Type, b.inputs[i]), shape.Batched(b.batchSize)).
			ToDeviceNum(0).
			Done()
		if err != nil {
			return errors.WithMessagef(err, "backend %q: failed to transfer input #%d to device", LibraryName, i)
		}
		deviceInputs = append(deviceInputs, buffer)
	}
	deviceOutputs, err := b.exec.Execute(deviceInputs...).DonateNone().Done()
	if err != nil {
		return errors.WithMessagef(err, "backend %q: failed to execute program", LibraryName)
	}
	defer func() {
		for _, buffer := range deviceOutputs {
			destroyBuffer(buffer)
		}
	}()
	if len(deviceOutputs) != len(b.outputs) {
		return errors.Errorf("backend %q: program returned %d outputs, %q configures %d",
			LibraryName, len(deviceOutputs), OutputsKey, len(b.outputs))
	}
	for i, buffer := range deviceOutputs {
		if err := buffer.ToHost(b.outputs[i]); err != nil {
			return errors.WithMessagef(err, "backend %q: failed to transfer output #%d to host", LibraryName, i)
		}
	}
	return nil
}

func destroyBuffer(buffer *pjrt.Buffer) {
	if err := buffer.Destroy(); err != nil {
		klog.Warningf("backend %q: failure while destroying buffer: %+v", LibraryName, err)
	}
}

// flatView returns the bytes as a slice of the Go type corresponding to the element type, sharing the memory.
func flatView(t backends.ElementType, data []byte) any {
	switch t {
	case backends.Float32:
		return viewAs[float32](data)
	case backends.Uint8:
		return data
	case backends.Int8:
		return viewAs[int8](data)
	case backends.Float16:
		return viewAs[float16.Float16](data)
	case backends.Int32:
		return viewAs[int32](data)
	case backends.Int64:
		return viewAs[int64](data)
	default:
		return nil
	}
}

func viewAs[T any](data []byte) []T {
	if len(data) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*T)(unsafe.Pointer(&data[0])), uintptr(len(data))/unsafe.Sizeof(zero))
}

// GetOutput returns the output data of the batch item.
func (b *Backend) GetOutput(batchIndex, i int) ([]byte, backends.Status) {
	if !b.hasOutputs || i < 0 || i >= len(b.outputs) || batchIndex < 0 || batchIndex >= b.batchSize {
		return nil, backends.Failure
	}
	return item(b.outputs[i], b.OutputType(i), batchIndex), backends.Success
}

// FlushQueries is a no-op: IssueQuery waits for the results.
func (b *Backend) FlushQueries() backends.Status {
	if b.exec == nil {
		return backends.Failure
	}
	return backends.Success
}

// Delete destroys the executable and the PJRT client.
func (b *Backend) Delete() {
	if b.exec != nil {
		if err := b.exec.Destroy(); err != nil {
			klog.Warningf("backend %q: failure while destroying executable: %+v", LibraryName, err)
		}
		b.exec = nil
	}
	if b.client != nil {
		if err := b.client.Destroy(); err != nil {
			klog.Warningf("backend %q: failure while destroying PJRT client: %+v", LibraryName, err)
		}
		b.client = nil
	}
	b.plugin = nil
	b.hasOutputs = false
}
