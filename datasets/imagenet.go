// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"bufio"
	"encoding/binary"
	"image"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gomlx/mlbench/backends"
	"github.com/gomlx/mlbench/pkg/support/fsutil"
	"github.com/gomlx/mlbench/settings"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
	"k8s.io/klog/v2"
)

const (
	// DefaultImageSize is used for the width and height of the images if not configured.
	DefaultImageSize = 224

	// CroppingFraction is the fraction of the resized image kept by the central crop.
	CroppingFraction = 0.875

	// RawImageExtension is the extension of images already resized and stored as raw RGB bytes.
	RawImageExtension = ".rgb8"
)

// ImageExtensions are the extensions of the files listed as images by Imagenet.
var ImageExtensions = []string{RawImageExtension, ".jpg", ".jpeg", ".png"}

// Imagenet is the image classification dataset: a directory of images, and a ground truth file with the class
// of each image (one per line, in the order of the sorted file names).
//
// The backend must have one input for an RGB image (width*height*3 elements, NHWC) and one output with
// the score of each class.
type Imagenet struct {
	imagePaths      []string
	groundtruthPath string
	offset          int
	width, height   int
	input, output   backends.DataType
	converter       backends.InputConverter

	samples     map[int][]byte
	predictions map[int]int32
	groundtruth []int32
}

var _ Dataset = (*Imagenet)(nil)

// NewImagenet creates an Imagenet dataset for the backend, with the images in config.DataPath.
func NewImagenet(backend backends.Backend, config Config) (*Imagenet, error) {
	inputs, outputs := inputFormat(backend), outputFormat(backend)
	if len(inputs) != 1 || len(outputs) != 1 {
		return nil, errors.Errorf("Imagenet only supports backends with 1 input and 1 output, backend %q has %d inputs and %d outputs",
			backend.Name(), len(inputs), len(outputs))
	}
	ds := &Imagenet{
		groundtruthPath: config.GroundtruthPath,
		offset:          config.Offset,
		width:           config.ImageWidth,
		height:          config.ImageHeight,
		input:           inputs[0],
		output:          outputs[0],
		samples:         make(map[int][]byte),
		predictions:     make(map[int]int32),
	}
	if ds.width <= 0 {
		ds.width = DefaultImageSize
	}
	if ds.height <= 0 {
		ds.height = DefaultImageSize
	}
	if want := int64(ds.width * ds.height * 3); ds.input.Size != want {
		return nil, errors.Errorf("Imagenet images of %dx%d require an input of %d elements, backend %q input is %s",
			ds.width, ds.height, want, backend.Name(), ds.input)
	}
	if ds.offset < 0 || int64(ds.offset) >= ds.output.Size {
		return nil, errors.Errorf("Imagenet class offset %d invalid for output %s", ds.offset, ds.output)
	}
	if converter, ok := backend.(backends.InputConverter); ok {
		ds.converter = converter
	}

	dataPath, err := settings.LocalPath(config.DataPath)
	if err != nil {
		return nil, err
	}
	names, err := fsutil.SortedFileNames(dataPath, ImageExtensions...)
	if err != nil {
		return nil, errors.WithMessage(err, "Imagenet failed to list images")
	}
	if len(names) == 0 {
		return nil, errors.Errorf("Imagenet found no images (%q) in %q", ImageExtensions, dataPath)
	}
	ds.imagePaths = make([]string, len(names))
	for i, name := range names {
		ds.imagePaths[i] = filepath.Join(dataPath, name)
	}
	return ds, nil
}

// Name implements Dataset.
func (ds *Imagenet) Name() string { return "Imagenet" }

// TotalSampleCount is the number of images.
func (ds *Imagenet) TotalSampleCount() int { return len(ds.imagePaths) }

// PerformanceSampleCount implements Dataset.
func (ds *Imagenet) PerformanceSampleCount() int {
	return performanceSampleCount([]backends.DataType{ds.input}, len(ds.imagePaths))
}

// LoadSamples reads and preprocesses the images.
func (ds *Imagenet) LoadSamples(indices []int) error {
	for _, idx := range indices {
		if idx < 0 || idx >= len(ds.imagePaths) {
			return errors.Errorf("Imagenet sample %d out of range, there are %d images", idx, len(ds.imagePaths))
		}
		if _, found := ds.samples[idx]; found {
			continue
		}
		rgb, err := ds.readRGB(ds.imagePaths[idx])
		if err != nil {
			return err
		}
		data, err := normalize(rgb, ds.input.Type)
		if err != nil {
			return err
		}
		if ds.converter != nil {
			data, err = ds.converter.ConvertInputs(ds.width, ds.height, data)
			if err != nil {
				return errors.WithMessagef(err, "failed to convert image %q", ds.imagePaths[idx])
			}
		}
		ds.samples[idx] = data
	}
	return nil
}

// readRGB returns the RGB bytes of the image, resized and cropped to the dataset size.
func (ds *Imagenet) readRGB(path string) ([]byte, error) {
	if strings.EqualFold(filepath.Ext(path), RawImageExtension) {
		rgb, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read image %q", path)
		}
		if len(rgb) != ds.width*ds.height*3 {
			return nil, errors.Errorf("raw image %q has %d bytes, expected %dx%dx3=%d",
				path, len(rgb), ds.width, ds.height, ds.width*ds.height*3)
		}
		return rgb, nil
	}
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode image %q", path)
	}
	return ResizeAndCrop(img, ds.width, ds.height), nil
}

// ResizeAndCrop resizes the image preserving the aspect ratio, so it covers width/CroppingFraction by
// height/CroppingFraction, then crops the center width by height. It returns the RGB bytes of the pixels, in
// row-major order.
func ResizeAndCrop(img image.Image, width, height int) []byte {
	scaledWidth := int(math.Ceil(float64(width) / CroppingFraction))
	scaledHeight := int(math.Ceil(float64(height) / CroppingFraction))
	nrgba := imaging.Fill(img, scaledWidth, scaledHeight, imaging.Center, imaging.Linear)
	nrgba = imaging.CropCenter(nrgba, width, height)
	rgb := make([]byte, 0, width*height*3)
	for y := range height {
		row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+width*4]
		for x := range width {
			rgb = append(rgb, row[x*4], row[x*4+1], row[x*4+2])
		}
	}
	return rgb
}

// normalize converts RGB bytes to the element type: floats are scaled to [-1, 1], int8 is shifted by 128 and the
// other types keep the byte value.
func normalize(rgb []byte, t backends.ElementType) ([]byte, error) {
	if t == backends.Uint8 {
		return rgb, nil
	}
	values := make([]float32, len(rgb))
	for i, v := range rgb {
		switch t {
		case backends.Float32, backends.Float16:
			values[i] = (float32(v) - 127.5) / 127.5
		case backends.Int8:
			values[i] = float32(v) - 128
		default:
			values[i] = float32(v)
		}
	}
	data := make([]byte, len(values)*t.Bytes())
	if err := backends.FromFloat32(t, values, data); err != nil {
		return nil, err
	}
	return data, nil
}

// UnloadSamples implements Dataset.
func (ds *Imagenet) UnloadSamples(indices []int) {
	for _, idx := range indices {
		delete(ds.samples, idx)
	}
}

// GetData implements Dataset.
func (ds *Imagenet) GetData(idx int) [][]byte {
	data, found := ds.samples[idx]
	if !found {
		return nil
	}
	return [][]byte{data}
}

// ProcessOutput records the predicted class (index of the highest score minus the offset), and returns it
// encoded as a little-endian int32.
func (ds *Imagenet) ProcessOutput(idx int, outputs [][]byte) []byte {
	if len(outputs) == 0 {
		return nil
	}
	scores, err := backends.ToFloat32(ds.output.Type, outputs[0])
	if err != nil {
		klog.Errorf("Imagenet: %+v", err)
		return nil
	}
	top := TopK(scores, 1, ds.offset)
	if len(top) == 0 {
		return nil
	}
	ds.predictions[idx] = top[0]
	return binary.LittleEndian.AppendUint32(nil, uint32(top[0]))
}

// TopK returns the indices of the k highest values, ignoring the first offset values. Indices are relative to the
// offset, and ties are resolved by the lowest index.
func TopK[T constraints.Integer | constraints.Float](values []T, k, offset int) []int32 {
	if offset >= len(values) {
		return nil
	}
	values = values[offset:]
	indices := make([]int32, len(values))
	for i := range indices {
		indices[i] = int32(i)
	}
	slices.SortStableFunc(indices, func(a, b int32) int {
		switch {
		case values[a] > values[b]:
			return -1
		case values[a] < values[b]:
			return 1
		default:
			return 0
		}
	})
	return indices[:min(k, len(indices))]
}

// HasAccuracy returns whether a ground truth file was given.
func (ds *Imagenet) HasAccuracy() bool { return ds.groundtruthPath != "" }

// ComputeAccuracy returns the fraction of the processed samples whose prediction matches the ground truth.
// It returns 0 if the ground truth can't be read, or if no sample was processed.
func (ds *Imagenet) ComputeAccuracy() float32 {
	if len(ds.predictions) == 0 || !ds.HasAccuracy() {
		return 0
	}
	if ds.groundtruth == nil {
		groundtruth, err := ReadLabels(ds.groundtruthPath)
		if err != nil {
			klog.Errorf("Imagenet: %+v", err)
			return 0
		}
		ds.groundtruth = groundtruth
	}
	var good int
	for idx, prediction := range ds.predictions {
		if idx < len(ds.groundtruth) && ds.groundtruth[idx] == prediction {
			good++
		}
	}
	return float32(good) / float32(len(ds.predictions))
}

// ComputeAccuracyString returns the accuracy as a percentage with 2 decimal places, or "N/A".
func (ds *Imagenet) ComputeAccuracyString() string {
	return formatAccuracy(ds.ComputeAccuracy())
}

// ReadLabels reads a ground truth file with the integer label of each sample, separated by white spaces.
// The path may use the "local://" scheme, see settings.LocalPath.
func ReadLabels(path string) ([]int32, error) {
	path, err := settings.LocalPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open ground truth file")
	}
	defer func() { _ = f.Close() }()
	scanner := bufio.NewScanner(f)
	scanner.Split(bufio.ScanWords)
	labels := make([]int32, 0, 50_000)
	for scanner.Scan() {
		label, err := strconv.ParseInt(scanner.Text(), 10, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid label #%d in %q", len(labels), path)
		}
		labels = append(labels, int32(label))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read ground truth file %q", path)
	}
	return labels, nil
}
