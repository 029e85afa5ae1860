// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package settings

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gomlx/mlbench/backends"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalSettings = `
common_setting {
  id: "num_threads"
  name: "Number of threads"
  value {
    value: "4"
    name: "4 threads"
  }
}

benchmark_setting {
  benchmark_id: "image_classification"
  accelerator: "npu"
  accelerator_desc: "NPU"
  framework: "TFLite NNAPI"
  custom_setting {
    id: "bg_load"
    value: "true"
  }
  custom_setting {
    id: "perf_profile"
    value: "burst"
  }
  model_path: "https://github.com/mlcommons/mobile_models/raw/main/v0_7/tflite/mobilenet_edgetpu_224_1.0_uint8.tflite"
  model_checksum: "008dfcb1c1962fedbeef1b998d4c84f2"
}
`

func TestParseBackendSetting(t *testing.T) {
	bs, err := ParseBackendSetting(minimalSettings)
	require.NoError(t, err)
	require.NoError(t, bs.Validate())
	require.Len(t, bs.CommonSettings, 1)
	assert.Equal(t, "num_threads", bs.CommonSettings[0].ID)
	require.NotNil(t, bs.CommonSettings[0].Value)
	assert.Equal(t, "4", bs.CommonSettings[0].Value.Value)
	require.Len(t, bs.BenchmarkSettings, 1)
	b := bs.Benchmark("image_classification")
	require.NotNil(t, b)
	assert.Equal(t, "npu", b.Accelerator)
	v, found := b.CustomSetting("perf_profile")
	assert.True(t, found)
	assert.Equal(t, "burst", v)
	assert.Nil(t, bs.Benchmark("object_detection"))

	// Formatting back to text and parsing again gives the same settings.
	bs2, err := ParseBackendSetting(bs.Text())
	require.NoError(t, err)
	assert.Equal(t, bs, bs2)
}

func TestParseBackendSettingErrors(t *testing.T) {
	// Missing required model_path.
	_, err := ParseBackendSetting(`benchmark_setting { benchmark_id: "x" accelerator: "cpu" }`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model_path")

	// Unknown field.
	_, err = ParseBackendSetting(`common_setting { id: "a" unknown_field: 1 }`)
	assert.Error(t, err)

	// Syntax error.
	_, err = ParseBackendSetting(`common_setting {`)
	assert.Error(t, err)

	// Empty document is valid, with no settings.
	bs, err := ParseBackendSetting("")
	require.NoError(t, err)
	assert.Empty(t, bs.BenchmarkSettings)
}

func TestValidate(t *testing.T) {
	newSettings := func(modelPaths ...string) *BackendSetting {
		bs := &BackendSetting{}
		for i, p := range modelPaths {
			bs.BenchmarkSettings = append(bs.BenchmarkSettings, BenchmarkSetting{
				BenchmarkID: string(rune('a' + i)), Accelerator: "cpu", ModelPath: p})
		}
		return bs
	}
	assert.NoError(t, newSettings("local://models/m.tflite", "/tmp/m.onnx", "https://x.org/m").Validate())
	assert.Error(t, newSettings("local://").Validate())
	assert.Error(t, newSettings("ftp://x.org/m").Validate())

	bs := newSettings("m1", "m2")
	bs.BenchmarkSettings[1].BenchmarkID = bs.BenchmarkSettings[0].BenchmarkID
	assert.Error(t, bs.Validate())

	bs = newSettings("m1")
	bs.BenchmarkSettings[0].BatchSize = -1
	assert.Error(t, bs.Validate())

	bs = newSettings()
	bs.CommonSettings = []Setting{{ID: "a"}, {ID: "a"}}
	assert.Error(t, bs.Validate())
}

func TestSettingList(t *testing.T) {
	bs := must.M1(ParseBackendSetting(minimalSettings))
	bs = must.M1(UnmarshalBackendSetting(must.M1(bs.Marshal())))
	_, err := NewSettingList(bs, "object_detection")
	assert.Error(t, err)

	sl := must.M1(NewSettingList(bs, "image_classification"))
	data := must.M1(sl.Marshal())
	sl2 := must.M1(ParseSettingList(data))
	assert.Equal(t, sl, sl2)

	config := must.M1(sl2.Configuration())
	assert.Equal(t, "npu", config.Accelerator)
	assert.Equal(t, "NPU", config.AcceleratorDesc)
	assert.Equal(t, 1, config.EffectiveBatchSize())
	require.Equal(t, 3, config.Len())
	var keys []string
	for i := range config.Len() {
		key, _ := config.Entry(i)
		keys = append(keys, key)
	}
	assert.Equal(t, []string{"num_threads", "bg_load", "perf_profile"}, keys)
	assert.Equal(t, "4", config.GetOr("num_threads", ""))

	// Binary that is not a SettingList.
	_, err = ParseSettingList([]byte{0xFF, 0xFF, 0xFF})
	assert.Error(t, err)
}

func TestSettingListConfigurationLimit(t *testing.T) {
	b := &BenchmarkSetting{BenchmarkID: "x", Accelerator: "cpu", ModelPath: "m"}
	for range backends.MaxConfigurationEntries + 1 {
		b.CustomSettings = append(b.CustomSettings, CustomSetting{ID: "k", Value: "v"})
	}
	sl := &SettingList{BenchmarkSetting: b}
	_, err := sl.Configuration()
	assert.Error(t, err)
}

func TestTextToBinary(t *testing.T) {
	data, err := TextToBinary("BackendSetting", minimalSettings)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	_, err = TextToBinary("NoSuchMessage", minimalSettings)
	assert.Error(t, err)
}

func TestParseMLPerfConfig(t *testing.T) {
	doc := MustLoadDocument("tasks")
	assert.Equal(t, "2.1", doc.Version)
	config, data, err := ParseMLPerfConfig(doc.Text)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	require.Len(t, config.Tasks, 3)

	task := config.Task("image_classification")
	require.NotNil(t, task)
	assert.Equal(t, Imagenet, task.Datasets.Type)
	require.NotNil(t, task.Datasets.Tiny)
	assert.Equal(t, "local://imagenet/tiny", task.Datasets.Tiny.InputPath)
	assert.Equal(t, int32(1), task.Model.Offset)
	assert.Equal(t, int32(224), task.Model.ImageWidth)
	require.NotNil(t, task.Runs.Quick)
	assert.Equal(t, 10*time.Second, task.Runs.Quick.MinDuration)
	assert.Equal(t, int32(128), task.Runs.Quick.MinQueryCount)
	assert.Equal(t, Synthetic, config.Task("synthetic").Datasets.Type)
	assert.Nil(t, config.Task("unknown"))

	// Task without the required model.
	_, _, err = ParseMLPerfConfig(`task { id: "x" name: "X" datasets { type: COCO } }`)
	assert.Error(t, err)
}

func TestDatasetType(t *testing.T) {
	for _, dt := range []DatasetType{Imagenet, Coco, Squad, Ade20k, SnuSR, Synthetic} {
		parsed, err := ParseDatasetType(strings.ToLower(dt.String()))
		require.NoError(t, err)
		assert.Equal(t, dt, parsed)
	}
	_, err := ParseDatasetType("mnist")
	assert.Error(t, err)
	assert.Equal(t, "image_classification_offline", Imagenet.BenchmarkID("Offline"))
	assert.Equal(t, "image_classification", Imagenet.BenchmarkID("SingleStream"))
	assert.Equal(t, "object_detection", Coco.BenchmarkID(""))

	var dt DatasetType
	require.NoError(t, dt.UnmarshalText([]byte("synthetic")))
	assert.Equal(t, Synthetic, dt)
	text, err := dt.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "SYNTHETIC", string(text))
	assert.Error(t, dt.UnmarshalText([]byte("mnist")))
}

func TestParseReferenceModel(t *testing.T) {
	model, err := ParseReferenceModel(`
name: "dense"
input { type: "float32" size: 2 }
output { type: "float16" size: 3 }
op: DENSE
weights: [1, 2, 3, 4, 5, 6]
bias: [0.5, 0.5, 0.5]
`)
	require.NoError(t, err)
	assert.Equal(t, Dense, model.Op)
	assert.Equal(t, backends.DataType{Type: backends.Float32, Size: 2}, model.Input)
	assert.Equal(t, backends.DataType{Type: backends.Float16, Size: 3}, model.Output)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, model.Weights)

	// Wrong number of weights.
	_, err = ParseReferenceModel(`name: "d" input { type: "float32" size: 2 } output { type: "float32" size: 3 } op: DENSE weights: [1]`)
	assert.Error(t, err)
	// Identity of different sizes.
	_, err = ParseReferenceModel(`name: "i" input { type: "uint8" size: 2 } output { type: "float32" size: 3 } op: IDENTITY`)
	assert.Error(t, err)
	// Unknown element type.
	_, err = ParseReferenceModel(`name: "i" input { type: "bool" size: 2 } output { type: "float32" size: 2 } op: IDENTITY`)
	assert.Error(t, err)
}

func TestDocuments(t *testing.T) {
	names := DocumentNames()
	for _, name := range []string{"reference", "onnx", "onnx_coreml", "xla", "tasks"} {
		assert.Contains(t, names, name)
	}
	for _, name := range names {
		if name == "tasks" {
			continue
		}
		doc, err := LoadDocument(name)
		require.NoError(t, err, "document %q", name)
		assert.NotEmpty(t, doc.Version, "document %q has no version", name)
		_, err = doc.BackendSetting()
		require.NoError(t, err, "document %q", name)
	}
	_, err := LoadDocument("missing")
	assert.Error(t, err)

	// Documents in MLBENCH_SETTINGS_DIR take precedence.
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "reference.pbtxt"),
		[]byte("# version: 9.9\n"+minimalSettings), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vendor.pbtxt"), []byte(minimalSettings), 0o644))
	t.Setenv(MLBENCH_SETTINGS_DIR, dir)
	doc, err := LoadDocument("reference")
	require.NoError(t, err)
	assert.Equal(t, "9.9", doc.Version)
	assert.Equal(t, filepath.Join(dir, "reference.pbtxt"), doc.Source)
	assert.Contains(t, DocumentNames(), "vendor")
	doc, err = LoadDocument("vendor")
	require.NoError(t, err)
	assert.Empty(t, doc.Version)
}

func TestLocalPath(t *testing.T) {
	t.Setenv(MLBENCH_MODELS_DIR, "/data/models")
	p, err := LocalPath("local://reference/dense.pbtxt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data/models", "reference", "dense.pbtxt"), p)
	p, err = LocalPath("/abs/model.onnx")
	require.NoError(t, err)
	assert.Equal(t, "/abs/model.onnx", p)
}
