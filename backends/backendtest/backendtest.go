// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backendtest holds checks of the backends.Backend contract that every backend's tests can reuse.
package backendtest

import (
	"testing"

	"github.com/gomlx/mlbench/backends"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Metadata is a snapshot of the static metadata and introspection of a backend.
type Metadata struct {
	Name, Vendor, Accelerator string
	Inputs, Outputs           []backends.DataType
}

// Snapshot reads the metadata of the backend.
func Snapshot(b backends.Backend) Metadata {
	m := Metadata{
		Name:        b.Name(),
		Vendor:      b.Vendor(),
		Accelerator: b.AcceleratorName(),
	}
	for i := range b.InputCount() {
		m.Inputs = append(m.Inputs, b.InputType(i))
	}
	for i := range b.OutputCount() {
		m.Outputs = append(m.Outputs, b.OutputType(i))
	}
	return m
}

// CheckStableMetadata checks that consecutive reads of the metadata and introspection return identical results.
func CheckStableMetadata(t *testing.T, b backends.Backend) Metadata {
	first := Snapshot(b)
	second := Snapshot(b)
	require.Equal(t, first, second, "backend metadata changed between calls")
	for i, dtype := range first.Inputs {
		assert.Truef(t, dtype.Type.IsValid(), "input #%d has invalid element type %d", i, dtype.Type)
	}
	for i, dtype := range first.Outputs {
		assert.Truef(t, dtype.Type.IsValid(), "output #%d has invalid element type %d", i, dtype.Type)
	}
	return first
}

// CheckCreateDelete checks that creating a backend through a backends.Table and deleting it right away
// works, and that the handle is invalid afterward.
func CheckCreateDelete(t *testing.T, library backends.Library, modelPath string, config *backends.Configuration) {
	table := backends.NewTable()
	h, err := table.Create(library, modelPath, config, "")
	require.NoError(t, err)
	require.NotEqual(t, backends.InvalidHandle, h)
	require.NoError(t, table.Delete(h))
	assert.Equal(t, 0, table.Len())
	assert.ErrorIs(t, table.Delete(h), backends.ErrInvalidHandle)
	_, err = table.Name(h)
	assert.ErrorIs(t, err, backends.ErrInvalidHandle)
}

// RunQuery binds the inputs (one per model input, for batch item 0), issues a query, flushes it and
// returns a copy of the outputs of batch item 0.
func RunQuery(t *testing.T, b backends.Backend, inputs ...[]byte) [][]byte {
	require.Len(t, inputs, b.InputCount(), "wrong number of inputs for backend %q", b.Name())
	for i, data := range inputs {
		require.Equal(t, backends.Success, b.SetInput(0, i, data), "SetInput(0, %d)", i)
	}
	require.Equal(t, backends.Success, b.IssueQuery(), "IssueQuery()")
	require.Equal(t, backends.Success, b.FlushQueries(), "FlushQueries()")
	outputs := make([][]byte, b.OutputCount())
	for i := range outputs {
		data, status := b.GetOutput(0, i)
		require.Equal(t, backends.Success, status, "GetOutput(0, %d)", i)
		require.Len(t, data, b.OutputType(i).ByteSize(), "GetOutput(0, %d) size", i)
		outputs[i] = append([]byte(nil), data...)
	}
	return outputs
}
