// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/mlbench/backends"
	"github.com/gomlx/mlbench/backends/dummy"
	"github.com/gomlx/mlbench/settings"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// formatBackend only reports its inputs and outputs formats.
type formatBackend struct {
	dummy.Backend
	inputs, outputs []backends.DataType
	converted       int
}

func (b *formatBackend) Name() string                       { return "format" }
func (b *formatBackend) InputCount() int                    { return len(b.inputs) }
func (b *formatBackend) InputType(i int) backends.DataType  { return b.inputs[i] }
func (b *formatBackend) OutputCount() int                   { return len(b.outputs) }
func (b *formatBackend) OutputType(i int) backends.DataType { return b.outputs[i] }

// channelsFirstBackend also implements backends.InputConverter.
type channelsFirstBackend struct {
	formatBackend
}

func (b *channelsFirstBackend) ConvertInputs(_, _ int, data []byte) ([]byte, error) {
	b.converted++
	return data, nil
}

func TestNew(t *testing.T) {
	backend := &formatBackend{inputs: []backends.DataType{{Type: backends.Float32, Size: 4}}}
	ds, err := New(Config{Type: settings.Synthetic}, backend)
	require.NoError(t, err)
	assert.Equal(t, "Synthetic", ds.Name())
	assert.Equal(t, DefaultSyntheticSamples, ds.TotalSampleCount())

	for _, dsType := range []settings.DatasetType{settings.Coco, settings.Squad, settings.Ade20k, settings.SnuSR} {
		_, err = New(Config{Type: dsType}, backend)
		require.Error(t, err, "dataset %s", dsType)
		assert.Contains(t, err.Error(), dsType.String())
	}
}

func TestSynthetic(t *testing.T) {
	backend := &formatBackend{inputs: []backends.DataType{
		{Type: backends.Float32, Size: 10},
		{Type: backends.Uint8, Size: 7},
		{Type: backends.Float16, Size: 3},
	}}
	ds := NewSynthetic(backend, 20)
	assert.Equal(t, 20, ds.TotalSampleCount())
	assert.Equal(t, 20, ds.PerformanceSampleCount())
	assert.False(t, ds.HasAccuracy())
	assert.Equal(t, float32(-1), ds.ComputeAccuracy())
	assert.Equal(t, "N/A", ds.ComputeAccuracyString())

	require.NoError(t, ds.LoadSamples([]int{3, 5}))
	data := ds.GetData(3)
	require.Len(t, data, 3)
	assert.Len(t, data[0], 40)
	assert.Len(t, data[1], 7)
	assert.Len(t, data[2], 6)
	values := must.M1(backends.ToFloat32(backends.Float32, data[0]))
	for _, v := range values {
		assert.True(t, v >= -1 && v < 1, "value %g out of range", v)
	}
	assert.NotEqual(t, data, ds.GetData(5))

	// Same index generates the same data, even on a different dataset.
	other := NewSynthetic(backend, 20)
	require.NoError(t, other.LoadSamples([]int{3}))
	assert.Equal(t, data, other.GetData(3))

	ds.UnloadSamples([]int{3, 5})
	assert.Nil(t, ds.GetData(3))

	assert.Equal(t, []byte{1, 2}, ds.ProcessOutput(0, [][]byte{{1, 2}, {3}}))
}

func TestPerformanceSampleCount(t *testing.T) {
	large := []backends.DataType{{Type: backends.Float32, Size: 224 * 224 * 3}}
	assert.Equal(t, MaxSamplesMemory/(224*224*3*4), performanceSampleCount(large, 50_000))
	assert.Equal(t, 10, performanceSampleCount(large, 10))
	huge := []backends.DataType{{Type: backends.Int64, Size: MaxSamplesMemory}}
	assert.Equal(t, 1, performanceSampleCount(huge, 10))
	assert.Equal(t, 5, performanceSampleCount(nil, 5))
}

func TestTopK(t *testing.T) {
	assert.Equal(t, []int32{2, 0}, TopK([]float32{0.5, 0.1, 0.9, 0.2}, 2, 0))
	assert.Equal(t, []int32{1}, TopK([]float32{0.5, 0.1, 0.9, 0.2}, 1, 1))
	assert.Equal(t, []int32{0, 2}, TopK([]uint8{7, 1, 7}, 2, 0))
	assert.Equal(t, []int32{1, 0}, TopK([]int8{-3, 2}, 5, 0))
	assert.Nil(t, TopK([]int32{1}, 1, 1))
}

func TestNormalize(t *testing.T) {
	rgb := []byte{0, 255, 128}
	data := must.M1(normalize(rgb, backends.Uint8))
	assert.Equal(t, rgb, data)
	data = must.M1(normalize(rgb, backends.Int8))
	assert.Equal(t, []byte{0x80, 0x7f, 0}, data)
	values := must.M1(backends.ToFloat32(backends.Float32, must.M1(normalize(rgb, backends.Float32))))
	assert.InDeltaSlice(t, []float32{-1, 1, 0.5 / 127.5}, values, 1e-6)
}

func writePNG(t *testing.T, path string, width, height int, fill color.Color) {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.Set(x, y, fill)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func TestResizeAndCrop(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 64, 32))
	for y := range 32 {
		for x := range 64 {
			img.Set(x, y, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
		}
	}
	rgb := ResizeAndCrop(img, 8, 8)
	require.Len(t, rgb, 8*8*3)
	assert.Equal(t, []byte{10, 20, 30}, rgb[:3])
	assert.Equal(t, []byte{10, 20, 30}, rgb[len(rgb)-3:])
}

func TestImagenet(t *testing.T) {
	const size = 8
	dir := t.TempDir()
	// Image #i is red if i is even, green otherwise; the output of the "model" is the color channels.
	for i := range 4 {
		fill := color.NRGBA{R: 255, A: 255}
		if i%2 == 1 {
			fill = color.NRGBA{G: 255, A: 255}
		}
		writePNG(t, filepath.Join(dir, fmt.Sprintf("img_%02d.png", i)), 12, 10, fill)
	}
	raw := make([]byte, size*size*3)
	for i := 2; i < len(raw); i += 3 {
		raw[i] = 255
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "img_04.rgb8"), raw, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("not an image"), 0o644))
	groundtruth := filepath.Join(dir, "labels.txt")
	// Offset 1: class 0 is the background, red is class 0, green class 1 and blue class 2.
	require.NoError(t, os.WriteFile(groundtruth, []byte("0\n1\n0\n0\n2\n"), 0o644))

	backend := &channelsFirstBackend{formatBackend{
		inputs:  []backends.DataType{{Type: backends.Uint8, Size: size * size * 3}},
		outputs: []backends.DataType{{Type: backends.Float32, Size: 4}},
	}}
	ds, err := New(Config{
		Type:            settings.Imagenet,
		DataPath:        dir,
		GroundtruthPath: groundtruth,
		Offset:          1,
		ImageWidth:      size,
		ImageHeight:     size,
	}, backend)
	require.NoError(t, err)
	require.Equal(t, 5, ds.TotalSampleCount())
	assert.True(t, ds.HasAccuracy())
	assert.Equal(t, "N/A", ds.ComputeAccuracyString())

	indices := []int{0, 1, 2, 3, 4}
	require.NoError(t, ds.LoadSamples(indices))
	assert.Equal(t, 5, backend.converted)
	for _, idx := range indices {
		data := ds.GetData(idx)
		require.Len(t, data, 1)
		require.Len(t, data[0], size*size*3)
		scores := []float32{0.5, float32(data[0][0]), float32(data[0][1]), float32(data[0][2])}
		output := make([]byte, 16)
		require.NoError(t, backends.FromFloat32(backends.Float32, scores, output))
		response := ds.ProcessOutput(idx, [][]byte{output})
		require.Len(t, response, 4)
		if idx == 4 {
			assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(response))
		}
	}
	// Image #3 is green, but labeled 0.
	assert.InDelta(t, 0.8, ds.ComputeAccuracy(), 1e-6)
	assert.Equal(t, "80.00%", ds.ComputeAccuracyString())

	ds.UnloadSamples(indices)
	assert.Nil(t, ds.GetData(0))
	require.Error(t, ds.LoadSamples([]int{5}))
}

func TestImagenetErrors(t *testing.T) {
	dir := t.TempDir()
	backend := &formatBackend{
		inputs:  []backends.DataType{{Type: backends.Float32, Size: 224 * 224 * 3}},
		outputs: []backends.DataType{{Type: backends.Float32, Size: 1001}},
	}
	// No images.
	_, err := NewImagenet(backend, Config{DataPath: dir})
	require.Error(t, err)

	writePNG(t, filepath.Join(dir, "a.png"), 4, 4, color.White)
	_, err = NewImagenet(backend, Config{DataPath: dir, Offset: 1})
	require.NoError(t, err)

	// Input size doesn't match the image size.
	_, err = NewImagenet(backend, Config{DataPath: dir, ImageWidth: 100, ImageHeight: 100})
	require.Error(t, err)

	// Invalid offset.
	_, err = NewImagenet(backend, Config{DataPath: dir, Offset: 1001})
	require.Error(t, err)

	// Too many inputs.
	backend.inputs = append(backend.inputs, backends.DataType{Type: backends.Int32, Size: 1})
	_, err = NewImagenet(backend, Config{DataPath: dir})
	require.Error(t, err)
}

func TestReadLabels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.txt")
	require.NoError(t, os.WriteFile(path, []byte("1 2\n3\n\n"), 0o644))
	assert.Equal(t, []int32{1, 2, 3}, must.M1(ReadLabels(path)))
	require.NoError(t, os.WriteFile(path, []byte("1 x\n"), 0o644))
	_, err := ReadLabels(path)
	require.Error(t, err)
}
