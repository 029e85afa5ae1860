// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package onnx implements a backend running ONNX models with ONNX Runtime (https://onnxruntime.ai/), using
// github.com/yalue/onnxruntime_go.
//
// It requires cgo and the ONNX Runtime shared library: it is searched in the native library path given to the
// backend, then in ONNXRUNTIME_SHARED_LIBRARY_PATH, and finally in the system library directories.
//
// Simply import it with import _ "github.com/gomlx/mlbench/backends/onnx" to make it available in your program.
// It will register itself as an available backend library during initialization.
package onnx

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/gomlx/mlbench/backends"
	"github.com/gomlx/mlbench/pkg/support/fsutil"
	"github.com/gomlx/mlbench/settings"
	"github.com/pkg/errors"
)

const (
	// LibraryName is the name under which the library is registered.
	LibraryName = "onnx"

	// Vendor reported by the backend.
	Vendor = "ONNX Runtime"

	// NumThreadsKey is the configuration key with the number of intra-op threads. 0 means the runtime default.
	NumThreadsKey = "num_threads"

	// InputLayoutKey is the configuration key with the layout of the image inputs expected by the model:
	// "NHWC" (default, no conversion) or "NCHW".
	InputLayoutKey = "input_layout"

	// ONNXRUNTIME_SHARED_LIBRARY_PATH is the environment variable with the path to the ONNX Runtime shared library.
	ONNXRUNTIME_SHARED_LIBRARY_PATH = "ONNXRUNTIME_SHARED_LIBRARY_PATH"
)

// Library is the ONNX Runtime backends.Library.
type Library struct{}

var _ backends.Library = Library{}

// Registers the onnx library.
func init() {
	backends.Register(Library{})
}

// Name returns LibraryName.
func (Library) Name() string { return LibraryName }

// MatchesHardware checks that the ONNX Runtime shared library can be found. It doesn't load it.
func (Library) MatchesHardware(device backends.DeviceInfo, nativeLibPath string) backends.MatchResult {
	if !cgoEnabled {
		return backends.MatchResult{NotAllowedMessage: "onnx backend requires cgo"}
	}
	if _, err := SharedLibraryPath(nativeLibPath); err != nil {
		return backends.MatchResult{NotAllowedMessage: err.Error()}
	}
	doc, err := settings.LoadDocument(SettingsDocument(device))
	if err != nil {
		return backends.MatchResult{NotAllowedMessage: err.Error()}
	}
	return backends.MatchResult{Matches: true, Settings: doc.Text}
}

// SettingsDocument returns the name of the settings document for the device.
func SettingsDocument(device backends.DeviceInfo) string {
	if strings.EqualFold(device.Manufacturer, "Apple") {
		return "onnx_coreml"
	}
	return "onnx"
}

// DefaultSharedLibraryName returns the file name of the ONNX Runtime shared library for the platform.
func DefaultSharedLibraryName() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}

// systemLibraryDirs are searched for the shared library, after LD_LIBRARY_PATH.
var systemLibraryDirs = []string{"/usr/local/lib", "/usr/lib", "/usr/lib64", "/opt/homebrew/lib"}

// SharedLibraryPath returns the path to the ONNX Runtime shared library, or an error if it can't be found.
//
// It looks in nativeLibPath (if not empty), then uses ONNXRUNTIME_SHARED_LIBRARY_PATH if set, and finally
// searches LD_LIBRARY_PATH and the system library directories.
func SharedLibraryPath(nativeLibPath string) (string, error) {
	name := DefaultSharedLibraryName()
	var candidates []string
	if nativeLibPath != "" {
		candidates = append(candidates, filepath.Join(nativeLibPath, name))
	} else if envPath := os.Getenv(ONNXRUNTIME_SHARED_LIBRARY_PATH); envPath != "" {
		candidates = append(candidates, envPath)
	} else {
		for _, dir := range filepath.SplitList(os.Getenv("LD_LIBRARY_PATH")) {
			if dir != "" {
				candidates = append(candidates, filepath.Join(dir, name))
			}
		}
		for _, dir := range systemLibraryDirs {
			candidates = append(candidates, filepath.Join(dir, name))
		}
	}
	for _, candidate := range candidates {
		candidate, err := fsutil.ExpandHome(candidate)
		if err != nil {
			return "", err
		}
		exists, err := fsutil.FileExists(candidate)
		if err != nil {
			return "", err
		}
		if exists {
			return candidate, nil
		}
	}
	return "", errors.Errorf("ONNX Runtime shared library not found, searched in %q", candidates)
}

// NHWCToNCHW transposes an image from channels-last (height, width, channels) to channels-first
// (channels, height, width) layout. elementBytes is the size of each element.
func NHWCToNCHW(data []byte, width, height, channels, elementBytes int) ([]byte, error) {
	want := width * height * channels * elementBytes
	if len(data) != want {
		return nil, errors.Errorf("image of %dx%dx%d with %d bytes per element requires %d bytes, got %d",
			height, width, channels, elementBytes, want, len(data))
	}
	out := make([]byte, len(data))
	planeSize := width * height
	for pixel := range planeSize {
		for c := range channels {
			src := (pixel*channels + c) * elementBytes
			dst := (c*planeSize + pixel) * elementBytes
			copy(out[dst:dst+elementBytes], data[src:src+elementBytes])
		}
	}
	return out, nil
}
