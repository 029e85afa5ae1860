// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package _default

import (
	"testing"

	"github.com/gomlx/mlbench/backends"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistered(t *testing.T) {
	names := backends.Names()
	for _, name := range []string{"dummy", "reference", "onnx"} {
		assert.Contains(t, names, name)
	}
	t.Setenv(backends.MLBENCH_BACKEND, "")
	library, err := backends.Default()
	require.NoError(t, err)
	assert.Equal(t, "reference", library.Name())
}
