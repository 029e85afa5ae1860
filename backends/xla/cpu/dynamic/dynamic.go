// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dynamic links the PJRT CPU plugin dynamically with your binary, and includes the xla backend.
//
// A binary built this way fails to start if the PJRT CPU plugin is not installed where it runs.
//
// To use it, import it:
//
//	import _ "github.com/gomlx/mlbench/backends/xla/cpu/dynamic"
//
// See also github.com/gomlx/mlbench/backends/xla/cpu/static for static linking.
package dynamic

import (
	_ "github.com/gomlx/mlbench/backends/xla"

	_ "github.com/gomlx/gopjrt/pjrt/cpu/dynamic"
)
