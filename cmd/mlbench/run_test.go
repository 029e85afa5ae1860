// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gomlx/mlbench/backends/reference"
	"github.com/gomlx/mlbench/settings"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, contents string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadDescriptor(t *testing.T) {
	d, err := loadDescriptor("")
	require.NoError(t, err)
	assert.Equal(t, settings.Synthetic, d.DatasetType)

	path := writeFile(t, "run.toml", `
benchmark_id = "image_classification"
backend_lib_name = "reference"
backend_model_path = "local://reference/image_classifier.pbtxt"
dataset_type = "imagenet"
dataset_data_path = "~/imagenet/img"
dataset_offset = 1
image_width = 224
image_height = 224
scenario = "Offline"
mode = "SubmissionRun"
batch_size = 16
min_query_count = 100
min_duration = "10s"
max_duration = "1m"
`)
	d, err = loadDescriptor(path)
	require.NoError(t, err)
	assert.Equal(t, "image_classification", d.BenchmarkID)
	assert.Equal(t, reference.LibraryName, d.BackendLibName)
	assert.Equal(t, settings.Imagenet, d.DatasetType)
	assert.Equal(t, 1, d.DatasetOffset)
	assert.Equal(t, 224, d.ImageWidth)
	assert.Equal(t, "Offline", d.Scenario)
	assert.Equal(t, "SubmissionRun", d.Mode)
	assert.Equal(t, 16, d.BatchSize)
	assert.Equal(t, 100, d.MinQueryCount)
	assert.Equal(t, 10*time.Second, d.MinDuration)
	assert.Equal(t, time.Minute, d.MaxDuration)

	// Flags explicitly set take precedence, the others only fill in missing values.
	d.applyFlags(map[string]bool{"mode": true})
	assert.Equal(t, *flagMode, d.Mode)
	assert.Equal(t, "Offline", d.Scenario)
	assert.Equal(t, 16, d.BatchSize)

	_, err = loadDescriptor(writeFile(t, "bad.toml", `unknown_key = 1`))
	assert.Error(t, err)
	_, err = loadDescriptor(writeFile(t, "bad_dataset.toml", `dataset_type = "mnist"`))
	assert.Error(t, err)
	_, err = loadDescriptor(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestApplyTask(t *testing.T) {
	config := must.M1(loadTasks(""))

	d := &runDescriptor{Task: "image_classification"}
	require.NoError(t, d.applyTask(config))
	assert.Equal(t, settings.Imagenet, d.DatasetType)
	assert.Equal(t, "local://imagenet/img", d.DatasetDataPath)
	assert.Equal(t, 1, d.DatasetOffset)
	assert.Equal(t, 1024, d.MinQueryCount)
	assert.Equal(t, time.Minute, d.MinDuration)
	assert.Equal(t, 10*time.Minute, d.MaxDuration)
	assert.Equal(t, "image_classification", d.BenchmarkID)

	// Values already set are kept.
	d = &runDescriptor{Task: "synthetic"}
	d.MinQueryCount = 10
	require.NoError(t, d.applyTask(config))
	assert.Equal(t, settings.Synthetic, d.DatasetType)
	assert.Equal(t, 10, d.MinQueryCount)
	assert.Equal(t, time.Second, d.MinDuration)

	d = &runDescriptor{Task: "unknown"}
	assert.ErrorContains(t, d.applyTask(config), "synthetic")
}

func TestRunBenchmarkIn(t *testing.T) {
	d := &runDescriptor{}
	d.BackendLibName = reference.LibraryName
	d.DatasetType = settings.Synthetic
	in, err := d.runBenchmarkIn()
	require.NoError(t, err)
	assert.Equal(t, "local://reference/dense.pbtxt", in.BackendModelPath)
	assert.NotEmpty(t, in.BackendSettings)
	sl := must.M1(settings.ParseSettingList(in.BackendSettings))
	assert.Equal(t, "synthetic", sl.BenchmarkSetting.BenchmarkID)

	d.BenchmarkID = "unknown_benchmark"
	_, err = d.runBenchmarkIn()
	assert.Error(t, err)

	d.BenchmarkID = ""
	d.BackendLibName = "dummy"
	_, err = d.runBenchmarkIn()
	assert.Error(t, err)
}
