//go:build !cgo

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package onnx

import (
	"github.com/gomlx/mlbench/backends"
	"github.com/pkg/errors"
)

const cgoEnabled = false

// Create returns an error when cgo is disabled, as ONNX Runtime requires cgo.
func (Library) Create(string, *backends.Configuration, string) (backends.Backend, error) {
	return nil, errors.Wrap(backends.ErrNotImplemented, "onnx backend requires cgo; rebuild with CGO_ENABLED=1")
}
