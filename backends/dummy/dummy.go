// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dummy implements a backends.Library that never matches the hardware, and a backends.Backend
// that fails every operation.
//
// It is used to check that the contract is satisfied by a no-op implementation, and can be copied
// to bootstrap a new backend.
package dummy

import (
	"github.com/gomlx/mlbench/backends"
	"github.com/pkg/errors"
)

// LibraryName is the name under which the dummy library is registered.
const LibraryName = "dummy"

// NotMatchingMessage is the reason returned by Library.MatchesHardware.
const NotMatchingMessage = "dummy backend never matches hardware"

// Library is the dummy backends.Library.
type Library struct{}

var _ backends.Library = Library{}

func init() {
	backends.Register(Library{})
}

// Name returns LibraryName.
func (Library) Name() string { return LibraryName }

// MatchesHardware always returns a non-matching result, regardless of the device.
func (Library) MatchesHardware(_ backends.DeviceInfo, _ string) backends.MatchResult {
	return backends.MatchResult{NotAllowedMessage: NotMatchingMessage}
}

// Create always fails with backends.ErrNotImplemented.
func (Library) Create(modelPath string, _ *backends.Configuration, _ string) (backends.Backend, error) {
	return nil, errors.Wrapf(backends.ErrNotImplemented, "dummy backend can't load model %q", modelPath)
}

// Backend is a backends.Backend that fails every operation, and returns zero values for its metadata.
type Backend struct{}

var _ backends.Backend = Backend{}

// New returns a dummy Backend.
func New() backends.Backend { return Backend{} }

// Name returns "".
func (Backend) Name() string { return "" }

// Vendor returns "".
func (Backend) Vendor() string { return "" }

// AcceleratorName returns "".
func (Backend) AcceleratorName() string { return "" }

// InputCount returns 0.
func (Backend) InputCount() int { return 0 }

// InputType returns an empty float32 type, for any index.
func (Backend) InputType(int) backends.DataType { return backends.DataType{Type: backends.Float32} }

// SetInput returns backends.Failure.
func (Backend) SetInput(int, int, []byte) backends.Status { return backends.Failure }

// OutputCount returns 0.
func (Backend) OutputCount() int { return 0 }

// OutputType returns an empty float32 type, for any index.
func (Backend) OutputType(int) backends.DataType { return backends.DataType{Type: backends.Float32} }

// GetOutput returns no data and backends.Failure.
func (Backend) GetOutput(int, int) ([]byte, backends.Status) { return nil, backends.Failure }

// IssueQuery returns backends.Failure.
func (Backend) IssueQuery() backends.Status { return backends.Failure }

// FlushQueries returns backends.Failure.
func (Backend) FlushQueries() backends.Status { return backends.Failure }

// Delete is a no-op.
func (Backend) Delete() {}
