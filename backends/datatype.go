// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// ElementType is the type of the elements of an input or output.
//
// The numeric values are part of the C ABI, and must not change.
type ElementType int32

const (
	Float32 ElementType = 0
	Uint8   ElementType = 1
	Int8    ElementType = 2
	Float16 ElementType = 3
	Int32   ElementType = 4
	Int64   ElementType = 5
)

var elementTypeNames = []string{"float32", "uint8", "int8", "float16", "int32", "int64"}

// IsValid returns whether the element type is one of the known types.
func (t ElementType) IsValid() bool {
	return t >= Float32 && t <= Int64
}

// String implements fmt.Stringer.
func (t ElementType) String() string {
	if !t.IsValid() {
		return fmt.Sprintf("ElementType(%d)", int32(t))
	}
	return elementTypeNames[t]
}

// Bytes returns the number of bytes used by one element of the type, or 0 for invalid types.
func (t ElementType) Bytes() int {
	switch t {
	case Uint8, Int8:
		return 1
	case Float16:
		return 2
	case Float32, Int32:
		return 4
	case Int64:
		return 8
	default:
		return 0
	}
}

// ParseElementType parses the name of an element type, as returned by ElementType.String. It's case-insensitive.
func ParseElementType(name string) (ElementType, error) {
	lower := strings.ToLower(strings.TrimSpace(name))
	for i, n := range elementTypeNames {
		if n == lower {
			return ElementType(i), nil
		}
	}
	return Float32, errors.Errorf("unknown element type %q, valid values are %q", name, elementTypeNames)
}

// DataType describes one input or output of a model: the type of its elements and the number of elements
// of one item of a batch.
type DataType struct {
	Type ElementType
	Size int64
}

// ByteSize returns the number of bytes of one item.
func (d DataType) ByteSize() int {
	return int(d.Size) * d.Type.Bytes()
}

// String implements fmt.Stringer.
func (d DataType) String() string {
	return fmt.Sprintf("%s[%d]", d.Type, d.Size)
}

// ToFloat32 decodes little-endian encoded data of the given element type to float32 values.
// Trailing bytes that don't form a complete element are ignored.
func ToFloat32(t ElementType, data []byte) ([]float32, error) {
	size := t.Bytes()
	if size == 0 {
		return nil, errors.Errorf("can't convert from invalid element type %s", t)
	}
	values := make([]float32, len(data)/size)
	for i := range values {
		raw := data[i*size:]
		switch t {
		case Float32:
			values[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw))
		case Uint8:
			values[i] = float32(raw[0])
		case Int8:
			values[i] = float32(int8(raw[0]))
		case Float16:
			values[i] = float16.Frombits(binary.LittleEndian.Uint16(raw)).Float32()
		case Int32:
			values[i] = float32(int32(binary.LittleEndian.Uint32(raw)))
		case Int64:
			values[i] = float32(int64(binary.LittleEndian.Uint64(raw)))
		}
	}
	return values, nil
}

// FromFloat32 encodes values as little-endian elements of the given type into dst, which must have
// len(values)*t.Bytes() bytes. Integer types are rounded and saturated.
func FromFloat32(t ElementType, values []float32, dst []byte) error {
	size := t.Bytes()
	if size == 0 {
		return errors.Errorf("can't convert to invalid element type %s", t)
	}
	if len(dst) != len(values)*size {
		return errors.Errorf("FromFloat32(%s): %d values require %d bytes, got %d bytes",
			t, len(values), len(values)*size, len(dst))
	}
	for i, v := range values {
		raw := dst[i*size:]
		switch t {
		case Float32:
			binary.LittleEndian.PutUint32(raw, math.Float32bits(v))
		case Uint8:
			raw[0] = uint8(saturate(v, 0, math.MaxUint8))
		case Int8:
			raw[0] = uint8(int8(saturate(v, math.MinInt8, math.MaxInt8)))
		case Float16:
			binary.LittleEndian.PutUint16(raw, float16.Fromfloat32(v).Bits())
		case Int32:
			binary.LittleEndian.PutUint32(raw, uint32(int32(saturate(v, math.MinInt32, math.MaxInt32))))
		case Int64:
			// float64(math.MaxInt64) rounds up to 2^63, which doesn't fit an int64.
			r := saturate(v, math.MinInt64, math.MaxInt64)
			i64 := int64(math.MaxInt64)
			if r < float64(math.MaxInt64) {
				i64 = int64(r)
			}
			binary.LittleEndian.PutUint64(raw, uint64(i64))
		}
	}
	return nil
}

func saturate(v float32, low, high float64) float64 {
	r := math.Round(float64(v))
	if r < low {
		return low
	}
	if r > high {
		return high
	}
	return r
}
