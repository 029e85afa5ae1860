// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"math/rand/v2"

	"github.com/gomlx/mlbench/backends"
	"github.com/pkg/errors"
)

// DefaultSyntheticSamples is the number of samples of a Synthetic dataset, if not configured.
const DefaultSyntheticSamples = 1024

// Synthetic is a dataset of deterministic pseudo-random samples, used to measure performance only.
//
// Floating point inputs are uniform in [-1, 1), integer inputs are random bytes.
type Synthetic struct {
	format  []backends.DataType
	count   int
	samples map[int][][]byte
}

var _ Dataset = (*Synthetic)(nil)

// NewSynthetic creates a Synthetic dataset for the inputs of the backend, with count samples.
// If count <= 0, DefaultSyntheticSamples is used.
func NewSynthetic(backend backends.Backend, count int) *Synthetic {
	if count <= 0 {
		count = DefaultSyntheticSamples
	}
	return &Synthetic{
		format:  inputFormat(backend),
		count:   count,
		samples: make(map[int][][]byte),
	}
}

// Name implements Dataset.
func (s *Synthetic) Name() string { return "Synthetic" }

// TotalSampleCount implements Dataset.
func (s *Synthetic) TotalSampleCount() int { return s.count }

// PerformanceSampleCount implements Dataset.
func (s *Synthetic) PerformanceSampleCount() int { return performanceSampleCount(s.format, s.count) }

// LoadSamples generates the data of the samples. The data of a sample only depends on its index.
func (s *Synthetic) LoadSamples(indices []int) error {
	for _, idx := range indices {
		if _, found := s.samples[idx]; found {
			continue
		}
		rng := rand.New(rand.NewPCG(uint64(idx), 0x6d6c62656e6368))
		inputs := make([][]byte, len(s.format))
		for i, dtype := range s.format {
			inputs[i] = make([]byte, dtype.ByteSize())
			switch dtype.Type {
			case backends.Float32, backends.Float16:
				values := make([]float32, dtype.Size)
				for j := range values {
					values[j] = rng.Float32()*2 - 1
				}
				if err := backends.FromFloat32(dtype.Type, values, inputs[i]); err != nil {
					return errors.WithMessagef(err, "failed to generate sample %d", idx)
				}
			default:
				for j := range inputs[i] {
					inputs[i][j] = byte(rng.Uint32())
				}
			}
		}
		s.samples[idx] = inputs
	}
	return nil
}

// UnloadSamples implements Dataset.
func (s *Synthetic) UnloadSamples(indices []int) {
	for _, idx := range indices {
		delete(s.samples, idx)
	}
}

// GetData implements Dataset.
func (s *Synthetic) GetData(idx int) [][]byte { return s.samples[idx] }

// ProcessOutput returns a copy of the first output.
func (s *Synthetic) ProcessOutput(_ int, outputs [][]byte) []byte {
	if len(outputs) == 0 {
		return nil
	}
	return append([]byte(nil), outputs[0]...)
}

// HasAccuracy returns false: synthetic samples have no ground truth.
func (s *Synthetic) HasAccuracy() bool { return false }

// ComputeAccuracy returns -1.
func (s *Synthetic) ComputeAccuracy() float32 { return -1 }

// ComputeAccuracyString returns "N/A".
func (s *Synthetic) ComputeAccuracyString() string { return "N/A" }
