// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the contract an inference backend needs to implement to be benchmarked by mlbench.
//
// A backend is provided by a Library, registered during initialization (see Register). The library can
// cheaply probe whether the device matches (Library.MatchesHardware) before the expensive Library.Create, which
// loads a model for an accelerator and returns a live Backend.
//
// Backend operations report failures with a two-valued Status, as the contract is kept narrow enough to be
// implemented behind a C ABI. Richer errors are produced by the handle Table, which validates handles and indices
// before reaching the backend.
//
// Concrete backends are in the sub-packages. To include the ones available for the platform, use:
//
//	import _ "github.com/gomlx/mlbench/backends/default"
package backends

import (
	"github.com/pkg/errors"
)

// Status is the outcome of a Backend operation.
type Status int

const (
	// Success is returned by backend operations that succeeded.
	Success Status = 0

	// Failure is returned by backend operations that failed for whatever reason.
	Failure Status = 1
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case Success:
		return "SUCCESS"
	case Failure:
		return "FAILURE"
	default:
		return "INVALID_STATUS"
	}
}

// Err converts the status to an error wrapping ErrBackendFailure, or nil for Success.
func (s Status) Err(op string) error {
	if s == Success {
		return nil
	}
	return errors.Wrapf(ErrBackendFailure, "%s returned %s", op, s)
}

var (
	// ErrNotImplemented is returned by backends (or libraries) that don't support the requested operation.
	ErrNotImplemented = errors.New("not implemented")

	// ErrBackendFailure is the error returned when a backend operation returns Failure.
	ErrBackendFailure = errors.New("backend failure")

	// ErrInvalidHandle is returned when using a Handle that was never created or that was already deleted.
	ErrInvalidHandle = errors.New("invalid backend handle")

	// ErrIndexOutOfRange is returned for input/output indices outside of 0..count-1.
	ErrIndexOutOfRange = errors.New("index out of range")
)

// MatchResult is returned by Library.MatchesHardware.
type MatchResult struct {
	// Matches is true if the library can run on the device.
	Matches bool

	// NotAllowedMessage is a human-readable reason for the library not being usable, even though it may match the
	// hardware (e.g.: a SoC that is known to be unsupported).
	NotAllowedMessage string

	// Settings holds the default settings of the library for the device, in protobuf text format.
	// It is only filled when Matches is true.
	Settings string
}

// Library is a provider of backends, registered with Register.
type Library interface {
	// Name of the library, used to select it in the benchmark configuration. E.g.: "onnx" or "xla".
	Name() string

	// MatchesHardware is a cheap probe of whether the library can run on the given device.
	// It must not allocate any persistent state.
	//
	// nativeLibPath is an optional directory where to search for the vendor native libraries.
	MatchesHardware(device DeviceInfo, nativeLibPath string) MatchResult

	// Create loads the model in modelPath for the accelerator described in config.
	//
	// It returns an error and a nil Backend if it fails: it should never panic.
	Create(modelPath string, config *Configuration, nativeLibPath string) (Backend, error)
}

// Backend is a model loaded on an accelerator, ready to take queries.
//
// Callers must serialize calls to SetInput, GetOutput, IssueQuery and FlushQueries. The metadata and
// introspection methods must be stable during the lifetime of the Backend.
type Backend interface {
	// Name of the backend, usually the name of the Library that created it.
	Name() string

	// Vendor of the backend (or of the accelerator).
	Vendor() string

	// AcceleratorName is the name of the accelerator being used. E.g.: "cpu", "gpu", "npu".
	AcceleratorName() string

	// InputCount returns the number of inputs of the model.
	InputCount() int

	// InputType returns the type of the input i, with i in 0..InputCount()-1.
	InputType(i int) DataType

	// SetInput binds the data of input i for the item batchIndex of the next query.
	// The data must have InputType(i).ByteSize() bytes.
	SetInput(batchIndex, i int, data []byte) Status

	// OutputCount returns the number of outputs of the model.
	OutputCount() int

	// OutputType returns the type of the output i, with i in 0..OutputCount()-1.
	OutputType(i int) DataType

	// GetOutput returns the data of output i for the item batchIndex of the last query.
	// The returned slice is owned by the backend and is only valid until the next query.
	GetOutput(batchIndex, i int) ([]byte, Status)

	// IssueQuery runs the inference on the currently bound inputs.
	IssueQuery() Status

	// FlushQueries forces the completion of any pending query.
	FlushQueries() Status

	// Delete releases all resources associated with the backend.
	// It must be called exactly once, and no other method can be called afterward.
	Delete()
}

// InputConverter can optionally be implemented by a Backend that needs its image inputs in a different layout
// than the one produced by the datasets (NHWC).
type InputConverter interface {
	// ConvertInputs converts in-place, or returns a new buffer, the image data for an image of the given size.
	ConvertInputs(width, height int, data []byte) ([]byte, error)
}

// DeviceInfo holds the information about the device, used by Library.MatchesHardware.
type DeviceInfo struct {
	// Model of the device. E.g.: "Pixel 8".
	Model string

	// Manufacturer of the device. E.g.: "Google".
	Manufacturer string

	// SoC is the name of the system-on-chip, if known.
	SoC string
}
