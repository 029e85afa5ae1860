// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package settings

import (
	"github.com/gomlx/mlbench/backends"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// ReferenceOp is the operation computed by a ReferenceModel.
type ReferenceOp int32

const (
	// Identity copies the input to the output, converting the element type.
	Identity ReferenceOp = 0

	// Dense computes output = input x weights + bias, with weights in row-major [input size, output size].
	Dense ReferenceOp = 1
)

// String implements fmt.Stringer.
func (op ReferenceOp) String() string {
	switch op {
	case Identity:
		return "IDENTITY"
	case Dense:
		return "DENSE"
	default:
		return "UNKNOWN_OP"
	}
}

// ReferenceModel is a tiny model with one input and one output, run by the pure Go reference backend.
type ReferenceModel struct {
	Name    string
	Input   backends.DataType
	Output  backends.DataType
	Op      ReferenceOp
	Weights []float32
	Bias    []float32
}

// ParseReferenceModel parses and validates a reference model in protobuf text format.
func ParseReferenceModel(text string) (*ReferenceModel, error) {
	msg, err := ParseText("ReferenceModel", text)
	if err != nil {
		return nil, err
	}
	model := &ReferenceModel{
		Name: getString(msg, "name"),
		Op:   ReferenceOp(getEnum(msg, "op")),
	}
	model.Input, err = tensorSpec(getMessage(msg, "input"))
	if err != nil {
		return nil, errors.WithMessagef(err, "model %q input", model.Name)
	}
	model.Output, err = tensorSpec(getMessage(msg, "output"))
	if err != nil {
		return nil, errors.WithMessagef(err, "model %q output", model.Name)
	}
	weights, bias := getList(msg, "weights"), getList(msg, "bias")
	model.Weights = make([]float32, weights.Len())
	for i := range model.Weights {
		model.Weights[i] = float32(weights.Get(i).Float())
	}
	model.Bias = make([]float32, bias.Len())
	for i := range model.Bias {
		model.Bias[i] = float32(bias.Get(i).Float())
	}
	if err := model.Validate(); err != nil {
		return nil, err
	}
	return model, nil
}

func tensorSpec(m protoreflect.Message) (backends.DataType, error) {
	dtype, err := backends.ParseElementType(getString(m, "type"))
	if err != nil {
		return backends.DataType{}, err
	}
	size := getInt(m, "size")
	if size <= 0 {
		return backends.DataType{}, errors.Errorf("invalid size %d", size)
	}
	return backends.DataType{Type: dtype, Size: size}, nil
}

// Validate checks that the weights and bias match the operation and the input/output sizes.
func (m *ReferenceModel) Validate() error {
	switch m.Op {
	case Identity:
		if m.Input.Size != m.Output.Size {
			return errors.Errorf("model %q: IDENTITY requires input and output of the same size, got %d and %d",
				m.Name, m.Input.Size, m.Output.Size)
		}
		if len(m.Weights) > 0 || len(m.Bias) > 0 {
			return errors.Errorf("model %q: IDENTITY takes no weights or bias", m.Name)
		}
	case Dense:
		if want := m.Input.Size * m.Output.Size; int64(len(m.Weights)) != want {
			return errors.Errorf("model %q: DENSE from %d to %d requires %d weights, got %d",
				m.Name, m.Input.Size, m.Output.Size, want, len(m.Weights))
		}
		if len(m.Bias) > 0 && int64(len(m.Bias)) != m.Output.Size {
			return errors.Errorf("model %q: DENSE bias must have %d values, got %d",
				m.Name, m.Output.Size, len(m.Bias))
		}
	default:
		return errors.Errorf("model %q: unknown op %s", m.Name, m.Op)
	}
	return nil
}
