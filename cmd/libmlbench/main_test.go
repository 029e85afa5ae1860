// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"testing"
	"unsafe"

	"github.com/gomlx/mlbench/backends/reference"
	"github.com/gomlx/mlbench/settings"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackendMatch(t *testing.T) {
	libName := cString(reference.LibraryName)
	defer cFree(unsafe.Pointer(libName))
	count := liveCount()
	r := mlbench_backend_match(libName, nil, nil, nil)
	require.NotNil(t, r)
	assert.Equal(t, count+1, liveCount())
	require.Equal(t, 1, int(r.matches), goString(r.error_message))
	assert.Nil(t, r.error_message)
	require.Positive(t, int(r.pbdata_size))
	data := unsafe.Slice((*byte)(unsafe.Pointer(r.pbdata)), int(r.pbdata_size))
	bs, err := settings.UnmarshalBackendSetting(data)
	require.NoError(t, err)
	assert.NotNil(t, bs.Benchmark("synthetic"))
	mlbench_backend_match_free(r)
	assert.Equal(t, count, liveCount())

	unknown := cString("unknown_backend")
	defer cFree(unsafe.Pointer(unknown))
	r = mlbench_backend_match(unknown, nil, nil, nil)
	assert.Equal(t, 0, int(r.matches))
	assert.Contains(t, goString(r.error_message), "unknown_backend")
	assert.Nil(t, r.pbdata)
	mlbench_backend_match_free(r)
}

func TestDoubleFree(t *testing.T) {
	r := mlbench_cpuinfo()
	assert.NotEmpty(t, goString(r.soc_name))
	mlbench_cpuinfo_free(r)

	invalid := invalidFrees.Load()
	count := liveCount()
	mlbench_cpuinfo_free(r)
	assert.Equal(t, invalid+1, invalidFrees.Load())
	mlbench_cpuinfo_free(nil)
	assert.Equal(t, invalid+2, invalidFrees.Load())
	assert.Equal(t, count, liveCount())
}

func TestMLPerfConfig(t *testing.T) {
	text := cString(must.M1(settings.LoadDocument("tasks")).Text)
	defer cFree(unsafe.Pointer(text))
	r := mlbench_mlperf_config(text)
	require.Equal(t, 1, int(r.ok), goString(r.error_message))
	assert.Positive(t, int(r.size))
	assert.NotNil(t, r.data)
	mlbench_mlperf_config_free(r)

	invalid := cString("task {")
	defer cFree(unsafe.Pointer(invalid))
	r = mlbench_mlperf_config(invalid)
	assert.Equal(t, 0, int(r.ok))
	assert.NotEmpty(t, goString(r.error_message))
	assert.Nil(t, r.data)
	mlbench_mlperf_config_free(r)
}

func TestRunBenchmark(t *testing.T) {
	assert.Equal(t, -1, int(mlbench_get_query_counter()))
	mlbench_stop_backend()

	r := mlbench_run_benchmark(nil)
	assert.Equal(t, 0, int(r.run_ok))
	assert.NotEmpty(t, goString(r.error_message))
	assert.Nil(t, r.accuracy1)
	assert.Nil(t, r.backend_name)
	mlbench_run_benchmark_free(r)
}
