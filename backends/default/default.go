// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package _default includes the default backend libraries: dummy, reference, onnx and, on linux/amd64, xla.
//
// To use it simply include:
//
//	import _ "github.com/gomlx/mlbench/backends/default"
//
// If you add the tag `noxla` it will not include xla -- useful if you don't have the PJRT plugins installed.
package _default

import (
	"github.com/gomlx/mlbench/backends"
	_ "github.com/gomlx/mlbench/backends/dummy"
	_ "github.com/gomlx/mlbench/backends/onnx"
	"github.com/gomlx/mlbench/backends/reference"
)

// The reference backend runs everywhere, so it's the default unless configured otherwise.
func init() {
	if backends.DefaultName == "" {
		backends.DefaultName = reference.LibraryName
	}
}
