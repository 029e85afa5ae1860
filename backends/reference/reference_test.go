// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package reference

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/mlbench/backends"
	"github.com/gomlx/mlbench/backends/backendtest"
	"github.com/gomlx/mlbench/settings"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const denseModel = `
name: "dense"
input { type: "float32" size: 2 }
output { type: "float32" size: 3 }
op: DENSE
weights: [1, 0, 2,
          0, 1, 3]
bias: [0.5, 0, -1]
`

func writeModel(t *testing.T, text string) string {
	modelPath := filepath.Join(t.TempDir(), "model.pbtxt")
	require.NoError(t, os.WriteFile(modelPath, []byte(text), 0o644))
	return modelPath
}

func floats(t *testing.T, dtype backends.ElementType, values ...float32) []byte {
	data := make([]byte, len(values)*dtype.Bytes())
	require.NoError(t, backends.FromFloat32(dtype, values, data))
	return data
}

func TestLibrary(t *testing.T) {
	lib := must.M1(backends.Lookup(LibraryName))
	result := lib.MatchesHardware(backends.DeviceInfo{Model: "any"}, "")
	require.True(t, result.Matches)
	assert.Empty(t, result.NotAllowedMessage)
	bs, err := settings.ParseBackendSetting(result.Settings)
	require.NoError(t, err)
	assert.NotNil(t, bs.Benchmark("synthetic"))

	_, err = lib.Create(filepath.Join(t.TempDir(), "missing.pbtxt"), nil, "")
	assert.Error(t, err)
	_, err = lib.Create(writeModel(t, `name: "broken"`), nil, "")
	assert.Error(t, err)
	_, err = lib.Create(writeModel(t, denseModel), &backends.Configuration{Accelerator: "npu"}, "")
	assert.Error(t, err)

	backendtest.CheckCreateDelete(t, lib, writeModel(t, denseModel), nil)

	// Models with "local://" paths are resolved relative to MLBENCH_MODELS_DIR.
	modelPath := writeModel(t, denseModel)
	t.Setenv(settings.MLBENCH_MODELS_DIR, filepath.Dir(modelPath))
	b, err := lib.Create("local://model.pbtxt", nil, "")
	require.NoError(t, err)
	b.Delete()
}

func TestDense(t *testing.T) {
	lib := Library{}
	b, err := lib.Create(writeModel(t, denseModel), &backends.Configuration{}, "")
	require.NoError(t, err)
	defer b.Delete()

	m := backendtest.CheckStableMetadata(t, b)
	assert.Equal(t, LibraryName, m.Name)
	assert.Equal(t, "cpu", m.Accelerator)
	assert.Equal(t, []backends.DataType{{Type: backends.Float32, Size: 2}}, m.Inputs)
	assert.Equal(t, []backends.DataType{{Type: backends.Float32, Size: 3}}, m.Outputs)

	// Query before any input is bound, or GetOutput before any query, fail.
	_, status := b.GetOutput(0, 0)
	assert.Equal(t, backends.Failure, status)
	assert.Equal(t, backends.Failure, b.IssueQuery())
	assert.Equal(t, backends.Failure, b.SetInput(0, 0, []byte{1, 2}))
	assert.Equal(t, backends.Failure, b.SetInput(1, 0, floats(t, backends.Float32, 1, 2)))
	assert.Equal(t, backends.Failure, b.SetInput(0, 1, floats(t, backends.Float32, 1, 2)))

	outputs := backendtest.RunQuery(t, b, floats(t, backends.Float32, 1, 2))
	got := must.M1(backends.ToFloat32(backends.Float32, outputs[0]))
	assert.Equal(t, []float32{1.5, 2, 7}, got)
}

func TestBatchedIdentity(t *testing.T) {
	model := must.M1(settings.ParseReferenceModel(`
name: "identity"
input { type: "uint8" size: 4 }
output { type: "float16" size: 4 }
op: IDENTITY
`))
	config := &backends.Configuration{BatchSize: 8}
	require.NoError(t, config.Add(NumThreadsKey, "3"))
	b, err := New(model, config)
	require.NoError(t, err)
	defer b.Delete()
	assert.Equal(t, 8, b.BatchSize())
	assert.Equal(t, 3, b.pool.MaxParallelism())

	for batchIndex := range b.BatchSize() {
		v := byte(batchIndex)
		require.Equal(t, backends.Success, b.SetInput(batchIndex, 0, []byte{v, v + 1, v + 2, 255}))
		if batchIndex < b.BatchSize()-1 {
			// Not all items bound yet.
			assert.Equal(t, backends.Failure, b.IssueQuery())
		}
	}
	require.Equal(t, backends.Success, b.IssueQuery())
	require.Equal(t, backends.Success, b.FlushQueries())
	for batchIndex := range b.BatchSize() {
		data, status := b.GetOutput(batchIndex, 0)
		require.Equal(t, backends.Success, status)
		v := float32(batchIndex)
		assert.Equal(t, []float32{v, v + 1, v + 2, 255}, must.M1(backends.ToFloat32(backends.Float16, data)))
	}
	_, status := b.GetOutput(8, 0)
	assert.Equal(t, backends.Failure, status)
}
