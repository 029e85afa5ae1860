//go:build cgo

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package onnx

import (
	"strings"
	"sync"

	"github.com/gomlx/mlbench/backends"
	"github.com/gomlx/mlbench/settings"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"k8s.io/klog/v2"
)

var (
	environmentMu      sync.Mutex
	environmentLibPath string
)

// initializeEnvironment initializes the ONNX Runtime environment once per process.
func initializeEnvironment(nativeLibPath string) error {
	environmentMu.Lock()
	defer environmentMu.Unlock()
	libPath, err := SharedLibraryPath(nativeLibPath)
	if err != nil {
		return err
	}
	if ort.IsInitialized() {
		if libPath != environmentLibPath {
			klog.Warningf("ONNX Runtime already initialized with %q, ignoring %q", environmentLibPath, libPath)
		}
		return nil
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrapf(err, "failed to initialize ONNX Runtime with %q", libPath)
	}
	environmentLibPath = libPath
	klog.V(1).Infof("ONNX Runtime initialized with %q", libPath)
	return nil
}

func toElementType(t ort.TensorElementDataType) (backends.ElementType, error) {
	switch t {
	case ort.TensorElementDataTypeFloat:
		return backends.Float32, nil
	case ort.TensorElementDataTypeUint8:
		return backends.Uint8, nil
	case ort.TensorElementDataTypeInt8:
		return backends.Int8, nil
	case ort.TensorElementDataTypeFloat16:
		return backends.Float16, nil
	case ort.TensorElementDataTypeInt32:
		return backends.Int32, nil
	case ort.TensorElementDataTypeInt64:
		return backends.Int64, nil
	default:
		return 0, errors.Errorf("ONNX element type %s not supported", t)
	}
}

// tensorSlot is one input or output of the model, with its tensor backed by a Go buffer holding the whole batch.
type tensorSlot struct {
	name    string
	dtype   backends.DataType
	ortType ort.TensorElementDataType
	shape   ort.Shape
	data    []byte
	tensor  *ort.CustomDataTensor
}

func newTensorSlot(info ort.InputOutputInfo, batchSize int) (*tensorSlot, error) {
	elementType, err := toElementType(info.DataType)
	if err != nil {
		return nil, errors.WithMessagef(err, "tensor %q", info.Name)
	}
	// Resolve dynamic dimensions: the first one (batch) to the batch size, the others to 1.
	shape := make(ort.Shape, len(info.Dimensions))
	itemSize := int64(1)
	for i, dim := range info.Dimensions {
		if i == 0 {
			if dim > 0 && dim != int64(batchSize) {
				return nil, errors.Errorf("tensor %q has fixed batch dimension %d, but batch size is %d",
					info.Name, dim, batchSize)
			}
			shape[0] = int64(batchSize)
			continue
		}
		if dim <= 0 {
			dim = 1
		}
		shape[i] = dim
		itemSize *= dim
	}
	if len(shape) == 0 {
		if batchSize != 1 {
			return nil, errors.Errorf("scalar tensor %q can't be batched", info.Name)
		}
		shape = ort.NewShape(1)
	}
	slot := &tensorSlot{
		name:    info.Name,
		dtype:   backends.DataType{Type: elementType, Size: itemSize},
		ortType: info.DataType,
		shape:   shape,
	}
	slot.data = make([]byte, slot.dtype.ByteSize()*batchSize)
	slot.tensor, err = ort.NewCustomDataTensor(shape, slot.data, info.DataType)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create tensor %q with shape %v", info.Name, shape)
	}
	return slot, nil
}

// item returns the slice of the data of the batch item.
func (s *tensorSlot) item(batchIndex int) []byte {
	size := s.dtype.ByteSize()
	return s.data[batchIndex*size : (batchIndex+1)*size]
}

// Backend runs an ONNX model with an ONNX Runtime session.
type Backend struct {
	session         *ort.DynamicAdvancedSession
	accelerator     string
	batchSize       int
	channelsFirst   bool
	inputs, outputs []*tensorSlot
	hasOutputs      bool
}

var (
	_ backends.Backend        = (*Backend)(nil)
	_ backends.InputConverter = (*Backend)(nil)
)

// Create loads the ONNX model in modelPath, for the accelerator of the configuration ("cpu", "cuda" or "coreml").
func (Library) Create(modelPath string, config *backends.Configuration, nativeLibPath string) (backends.Backend, error) {
	if err := initializeEnvironment(nativeLibPath); err != nil {
		return nil, err
	}
	localPath, err := settings.LocalPath(modelPath)
	if err != nil {
		return nil, err
	}
	inputInfos, outputInfos, err := ort.GetInputOutputInfo(localPath)
	if err != nil {
		return nil, errors.Wrapf(err, "backend %q: failed to read model %q", LibraryName, localPath)
	}

	b := &Backend{
		accelerator: config.Accelerator,
		batchSize:   config.EffectiveBatchSize(),
	}
	if b.accelerator == "" {
		b.accelerator = "cpu"
	}
	switch layout := strings.ToUpper(config.GetOr(InputLayoutKey, "NHWC")); layout {
	case "NHWC":
	case "NCHW":
		b.channelsFirst = true
	default:
		return nil, errors.Errorf("backend %q: unknown %s %q", LibraryName, InputLayoutKey, layout)
	}

	var inputNames, outputNames []string
	for _, info := range inputInfos {
		slot, err := newTensorSlot(info, b.batchSize)
		if err != nil {
			b.Delete()
			return nil, errors.WithMessagef(err, "backend %q", LibraryName)
		}
		b.inputs = append(b.inputs, slot)
		inputNames = append(inputNames, info.Name)
	}
	for _, info := range outputInfos {
		slot, err := newTensorSlot(info, b.batchSize)
		if err != nil {
			b.Delete()
			return nil, errors.WithMessagef(err, "backend %q", LibraryName)
		}
		b.outputs = append(b.outputs, slot)
		outputNames = append(outputNames, info.Name)
	}

	options, err := b.sessionOptions(config)
	if err != nil {
		b.Delete()
		return nil, err
	}
	defer func() { _ = options.Destroy() }()
	b.session, err = ort.NewDynamicAdvancedSession(localPath, inputNames, outputNames, options)
	if err != nil {
		b.Delete()
		return nil, errors.Wrapf(err, "backend %q: failed to create session for %q", LibraryName, localPath)
	}
	klog.V(1).Infof("backend %q: model %q loaded on %q, %d inputs, %d outputs, batch size %d",
		LibraryName, localPath, b.accelerator, len(b.inputs), len(b.outputs), b.batchSize)
	return b, nil
}

func (b *Backend) sessionOptions(config *backends.Configuration) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrapf(err, "backend %q: failed to create session options", LibraryName)
	}
	numThreads, err := config.GetInt(NumThreadsKey, 0)
	if err == nil && numThreads > 0 {
		err = options.SetIntraOpNumThreads(numThreads)
	}
	if err == nil {
		switch b.accelerator {
		case "cpu":
		case "cuda":
			var cudaOptions *ort.CUDAProviderOptions
			cudaOptions, err = ort.NewCUDAProviderOptions()
			if err == nil {
				err = options.AppendExecutionProviderCUDA(cudaOptions)
				_ = cudaOptions.Destroy()
			}
		case "coreml":
			err = options.AppendExecutionProviderCoreML(0)
		default:
			err = errors.Errorf("unknown accelerator %q, valid values are \"cpu\", \"cuda\" or \"coreml\"", b.accelerator)
		}
	}
	if err != nil {
		_ = options.Destroy()
		return nil, errors.WithMessagef(err, "backend %q: accelerator %q", LibraryName, b.accelerator)
	}
	return options, nil
}

// Name returns LibraryName.
func (b *Backend) Name() string { return LibraryName }

// Vendor returns Vendor.
func (b *Backend) Vendor() string { return Vendor }

// AcceleratorName returns the accelerator (execution provider) used.
func (b *Backend) AcceleratorName() string { return b.accelerator }

// InputCount returns the number of inputs of the model.
func (b *Backend) InputCount() int { return len(b.inputs) }

// OutputCount returns the number of outputs of the model.
func (b *Backend) OutputCount() int { return len(b.outputs) }

// InputType returns the type of one item of the input i.
func (b *Backend) InputType(i int) backends.DataType { return b.inputs[i].dtype }

// OutputType returns the type of one item of the output i.
func (b *Backend) OutputType(i int) backends.DataType { return b.outputs[i].dtype }

// SetInput copies the data into the input tensor of the batch.
func (b *Backend) SetInput(batchIndex, i int, data []byte) backends.Status {
	if i < 0 || i >= len(b.inputs) || batchIndex < 0 || batchIndex >= b.batchSize {
		return backends.Failure
	}
	dst := b.inputs[i].item(batchIndex)
	if len(data) != len(dst) {
		klog.Errorf("backend %q: SetInput(%d, %d) got %d bytes, wanted %d", LibraryName, batchIndex, i, len(data), len(dst))
		return backends.Failure
	}
	copy(dst, data)
	return backends.Success
}

// IssueQuery runs the session synchronously on the whole batch.
func (b *Backend) IssueQuery() backends.Status {
	if b.session == nil {
		return backends.Failure
	}
	inputs := make([]ort.Value, len(b.inputs))
	for i, slot := range b.inputs {
		inputs[i] = slot.tensor
	}
	outputs := make([]ort.Value, len(b.outputs))
	for i, slot := range b.outputs {
		outputs[i] = slot.tensor
	}
	if err := b.session.Run(inputs, outputs); err != nil {
		klog.Errorf("backend %q: Run failed: %+v", LibraryName, err)
		b.hasOutputs = false
		return backends.Failure
	}
	b.hasOutputs = true
	return backends.Success
}

// GetOutput returns the output data of the batch item.
func (b *Backend) GetOutput(batchIndex, i int) ([]byte, backends.Status) {
	if !b.hasOutputs || i < 0 || i >= len(b.outputs) || batchIndex < 0 || batchIndex >= b.batchSize {
		return nil, backends.Failure
	}
	return b.outputs[i].item(batchIndex), backends.Success
}

// FlushQueries is a no-op: queries are synchronous.
func (b *Backend) FlushQueries() backends.Status {
	if b.session == nil {
		return backends.Failure
	}
	return backends.Success
}

// ConvertInputs transposes images to channels-first if the model expects NCHW inputs.
func (b *Backend) ConvertInputs(width, height int, data []byte) ([]byte, error) {
	if !b.channelsFirst || len(b.inputs) == 0 {
		return data, nil
	}
	elementBytes := b.inputs[0].dtype.Type.Bytes()
	channels := len(data) / (width * height * elementBytes)
	return NHWCToNCHW(data, width, height, channels, elementBytes)
}

// Delete destroys the session and the tensors.
func (b *Backend) Delete() {
	if b.session != nil {
		if err := b.session.Destroy(); err != nil {
			klog.Warningf("backend %q: failure while destroying session: %+v", LibraryName, err)
		}
		b.session = nil
	}
	for _, slot := range append(b.inputs, b.outputs...) {
		if slot.tensor != nil {
			_ = slot.tensor.Destroy()
		}
	}
	b.inputs, b.outputs = nil, nil
	b.hasOutputs = false
}
