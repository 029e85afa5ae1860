// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xla

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/mlbench/backends"
	"github.com/pkg/errors"
)

// TensorShape is the shape of one batch item of an input or output of the program.
type TensorShape struct {
	Type       backends.ElementType
	Dimensions []int
}

// DataType returns the backends.DataType of the shape.
func (s TensorShape) DataType() backends.DataType {
	size := int64(1)
	for _, dim := range s.Dimensions {
		size *= int64(dim)
	}
	return backends.DataType{Type: s.Type, Size: size}
}

// Batched returns the dimensions of the program parameter for a batch of the given size.
func (s TensorShape) Batched(batchSize int) []int {
	return append([]int{batchSize}, s.Dimensions...)
}

// String implements fmt.Stringer, in the format parsed by ParseTensorShapes.
func (s TensorShape) String() string {
	dims := make([]string, len(s.Dimensions))
	for i, dim := range s.Dimensions {
		dims[i] = strconv.Itoa(dim)
	}
	return fmt.Sprintf("%s[%s]", s.Type, strings.Join(dims, ","))
}

// ParseTensorShapes parses a ";" separated list of shapes like "uint8[224,224,3];int32[1]".
// Dimensions don't include the batch dimension. A shape with no dimensions ("float32[]") is a scalar.
func ParseTensorShapes(text string) ([]TensorShape, error) {
	var shapes []TensorShape
	for _, part := range strings.Split(text, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		open := strings.IndexByte(part, '[')
		if open <= 0 || !strings.HasSuffix(part, "]") {
			return nil, errors.Errorf("invalid tensor shape %q, expected something like \"float32[1,10]\"", part)
		}
		elementType, err := backends.ParseElementType(part[:open])
		if err != nil {
			return nil, errors.WithMessagef(err, "invalid tensor shape %q", part)
		}
		shape := TensorShape{Type: elementType}
		if dimsText := strings.TrimSpace(part[open+1 : len(part)-1]); dimsText != "" {
			for _, dimText := range strings.Split(dimsText, ",") {
				dim, err := strconv.Atoi(strings.TrimSpace(dimText))
				if err != nil || dim <= 0 {
					return nil, errors.Errorf("invalid dimension %q in tensor shape %q", dimText, part)
				}
				shape.Dimensions = append(shape.Dimensions, dim)
			}
		}
		shapes = append(shapes, shape)
	}
	if len(shapes) == 0 {
		return nil, errors.Errorf("no tensor shapes in %q", text)
	}
	return shapes, nil
}

// toDType converts the element type to the PJRT dtype.
func toDType(t backends.ElementType) dtypes.DType {
	switch t {
	case backends.Float32:
		return dtypes.Float32
	case backends.Uint8:
		return dtypes.Uint8
	case backends.Int8:
		return dtypes.Int8
	case backends.Float16:
		return dtypes.Float16
	case backends.Int32:
		return dtypes.Int32
	case backends.Int64:
		return dtypes.Int64
	default:
		return dtypes.InvalidDType
	}
}
